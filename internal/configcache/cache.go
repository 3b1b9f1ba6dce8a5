package configcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/observability"
)

// nowFn is swapped in tests to control time.
var nowFn = time.Now

// Source is the durable backing store for channel configuration.
type Source interface {
	LoadChannels() ([]models.ChannelTarget, error)
}

// SnapshotStore persists serialized registry snapshots for warm starts.
// Optional; a nil store disables snapshotting.
type SnapshotStore interface {
	SaveChannelSnapshot(data []byte) error
	LoadChannelSnapshot() ([]byte, error)
}

// Cache fronts the in-memory channel registry with a TTL. Reads inside the
// TTL window are served from the registry snapshot; the first read past the
// window reloads from the source. Writers that mutate channel config call
// Invalidate for a synchronous reload, so an admin change is visible to the
// next publication without waiting out the TTL.
type Cache struct {
	registry  models.ChannelDataStore
	source    Source
	snapshots SnapshotStore
	ttl       time.Duration
	logger    *zap.Logger
	metrics   observability.MetricsRegistry

	mu       sync.Mutex
	loadedAt time.Time
}

// New constructs a Cache over the given registry and source.
func New(registry models.ChannelDataStore, source Source, snapshots SnapshotStore, ttl time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		registry:  registry,
		source:    source,
		snapshots: snapshots,
		ttl:       ttl,
		logger:    logger,
		metrics:   metrics,
	}
}

// Warm performs the initial load. When the source is unreachable, the last
// persisted snapshot is restored so the process can serve stale-but-usable
// channel config until the source recovers.
func (c *Cache) Warm(ctx context.Context) error {
	if err := c.Invalidate(ctx); err == nil {
		return nil
	} else {
		c.logger.Warn("initial channel load failed, trying snapshot", zap.Error(err))
	}

	if c.snapshots == nil {
		return fmt.Errorf("channel source unavailable and no snapshot store configured")
	}
	data, err := c.snapshots.LoadChannelSnapshot()
	if err != nil {
		return fmt.Errorf("load channel snapshot: %w", err)
	}
	if data == nil {
		return fmt.Errorf("channel source unavailable and no snapshot persisted")
	}

	var targets []models.ChannelTarget
	if err := json.Unmarshal(data, &targets); err != nil {
		return fmt.Errorf("decode channel snapshot: %w", err)
	}
	if err := c.registry.ReloadAll(targets); err != nil {
		return err
	}
	c.mu.Lock()
	c.loadedAt = nowFn()
	c.mu.Unlock()
	c.metrics.SetRegistryVersion(c.registry.Version())
	c.logger.Info("channel registry warmed from snapshot", zap.Int("channels", len(targets)))
	return nil
}

// Invalidate reloads channel config from the source synchronously and resets
// the TTL window.
func (c *Cache) Invalidate(_ context.Context) error {
	targets, err := c.source.LoadChannels()
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	if err := c.registry.ReloadAll(targets); err != nil {
		return err
	}
	c.mu.Lock()
	c.loadedAt = nowFn()
	c.mu.Unlock()
	c.metrics.SetRegistryVersion(c.registry.Version())
	c.logger.Debug("channel registry reloaded", zap.Int("channels", len(targets)))
	return nil
}

// maybeRefresh reloads when the TTL has lapsed. A failed refresh keeps
// serving the stale snapshot; channel config that is minutes old is better
// than refusing to publish.
func (c *Cache) maybeRefresh(ctx context.Context) {
	c.mu.Lock()
	stale := nowFn().Sub(c.loadedAt) >= c.ttl
	c.mu.Unlock()

	if !stale {
		c.metrics.IncrementCacheHits()
		return
	}
	c.metrics.IncrementCacheMisses()
	if err := c.Invalidate(ctx); err != nil {
		c.logger.Warn("channel refresh failed, serving stale config", zap.Error(err))
	}
}

// GetChannel returns the channel with the given ID.
func (c *Cache) GetChannel(id string) (models.ChannelTarget, error) {
	c.maybeRefresh(context.Background())
	ch := c.registry.GetChannel(id)
	if ch == nil {
		return models.ChannelTarget{}, models.ErrNotFound
	}
	return *ch, nil
}

// AllChannels returns every registered channel.
func (c *Cache) AllChannels(ctx context.Context) ([]models.ChannelTarget, error) {
	c.maybeRefresh(ctx)
	return c.registry.GetAllChannels(), nil
}

// EnabledChannels returns the channels the dispatcher may publish to.
func (c *Cache) EnabledChannels(ctx context.Context) ([]models.ChannelTarget, error) {
	c.maybeRefresh(ctx)
	return c.registry.GetEnabledChannels(), nil
}

// Version exposes the registry version for monitoring.
func (c *Cache) Version() uint64 {
	return c.registry.Version()
}

// SnapshotLoop persists the registry to the snapshot store on an interval
// until the context is canceled.
func (c *Cache) SnapshotLoop(ctx context.Context, interval time.Duration) {
	if c.snapshots == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final snapshot on shutdown.
			c.Snapshot()
			return
		case <-ticker.C:
			c.Snapshot()
		}
	}
}

// Snapshot persists the current registry contents.
func (c *Cache) Snapshot() {
	if c.snapshots == nil {
		return
	}
	data, err := json.Marshal(c.registry.GetAllChannels())
	if err != nil {
		c.metrics.IncrementCacheSnapshotErrors()
		c.logger.Error("encode channel snapshot", zap.Error(err))
		return
	}
	if err := c.snapshots.SaveChannelSnapshot(data); err != nil {
		c.metrics.IncrementCacheSnapshotErrors()
		c.logger.Error("persist channel snapshot", zap.Error(err))
	}
}
