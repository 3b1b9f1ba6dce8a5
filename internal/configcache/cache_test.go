package configcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/db"
	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/observability"
)

type fakeSource struct {
	channels []models.ChannelTarget
	err      error
	loads    int
}

func (f *fakeSource) LoadChannels() ([]models.ChannelTarget, error) {
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return f.channels, nil
}

func setupTestRedis(t *testing.T) *db.RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return &db.RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		Ctx:    context.Background(),
	}
}

func twoChannels() []models.ChannelTarget {
	return []models.ChannelTarget{
		{ID: "chan-a", Kind: models.ChannelKindChannel, Name: "Main", Enabled: true, AudienceSize: 1000},
		{ID: "chan-b", Kind: models.ChannelKindGroup, Name: "Side", Enabled: false},
	}
}

func newTestCache(t *testing.T, source *fakeSource, snapshots SnapshotStore, ttl time.Duration) *Cache {
	t.Helper()
	registry := models.NewTestChannelStore()
	return New(registry, source, snapshots, ttl, zap.NewNop(), &observability.MockMetricsRegistry{})
}

func TestWarmLoadsFromSource(t *testing.T) {
	source := &fakeSource{channels: twoChannels()}
	c := newTestCache(t, source, nil, time.Minute)

	require.NoError(t, c.Warm(context.Background()))

	ch, err := c.GetChannel("chan-a")
	require.NoError(t, err)
	assert.Equal(t, "Main", ch.Name)

	enabled, err := c.EnabledChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "chan-a", enabled[0].ID)
}

func TestReadsWithinTTLDoNotReload(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nowFn = func() time.Time { return base }
	defer func() { nowFn = time.Now }()

	source := &fakeSource{channels: twoChannels()}
	c := newTestCache(t, source, nil, 5*time.Minute)
	require.NoError(t, c.Warm(context.Background()))
	assert.Equal(t, 1, source.loads)

	for i := 0; i < 5; i++ {
		_, err := c.GetChannel("chan-a")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, source.loads, "reads inside the TTL must not hit the source")

	// Past the TTL the next read reloads.
	nowFn = func() time.Time { return base.Add(6 * time.Minute) }
	_, err := c.GetChannel("chan-a")
	require.NoError(t, err)
	assert.Equal(t, 2, source.loads)
}

func TestInvalidateIsSynchronous(t *testing.T) {
	source := &fakeSource{channels: twoChannels()}
	c := newTestCache(t, source, nil, time.Hour)
	require.NoError(t, c.Warm(context.Background()))

	source.channels = append(source.channels, models.ChannelTarget{ID: "chan-c", Enabled: true})
	require.NoError(t, c.Invalidate(context.Background()))

	ch, err := c.GetChannel("chan-c")
	require.NoError(t, err)
	assert.Equal(t, "chan-c", ch.ID)
}

func TestFailedRefreshServesStale(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nowFn = func() time.Time { return base }
	defer func() { nowFn = time.Now }()

	source := &fakeSource{channels: twoChannels()}
	c := newTestCache(t, source, nil, time.Minute)
	require.NoError(t, c.Warm(context.Background()))

	source.err = errors.New("postgres down")
	nowFn = func() time.Time { return base.Add(2 * time.Minute) }

	ch, err := c.GetChannel("chan-a")
	require.NoError(t, err, "stale config still serves")
	assert.Equal(t, "Main", ch.Name)
}

func TestSnapshotRoundTrip(t *testing.T) {
	rs := setupTestRedis(t)
	source := &fakeSource{channels: twoChannels()}
	c := newTestCache(t, source, rs, time.Minute)
	require.NoError(t, c.Warm(context.Background()))

	c.Snapshot()

	// A new process whose source is down warms from the snapshot.
	deadSource := &fakeSource{err: errors.New("postgres down")}
	c2 := newTestCache(t, deadSource, rs, time.Minute)
	require.NoError(t, c2.Warm(context.Background()))

	ch, err := c2.GetChannel("chan-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), ch.AudienceSize)
}

func TestWarmFailsWithoutSourceOrSnapshot(t *testing.T) {
	rs := setupTestRedis(t)
	deadSource := &fakeSource{err: errors.New("postgres down")}
	c := newTestCache(t, deadSource, rs, time.Minute)

	err := c.Warm(context.Background())
	assert.Error(t, err)
}
