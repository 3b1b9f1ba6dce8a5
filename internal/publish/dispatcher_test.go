package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/observability"
	"github.com/openmodqueue/openmodqueue/internal/transport"
)

type memPubStore struct {
	mu          sync.Mutex
	submissions map[string]*models.Submission
}

func newMemPubStore() *memPubStore {
	return &memPubStore{submissions: make(map[string]*models.Submission)}
}

func (s *memPubStore) put(sub *models.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.ID] = sub
}

func (s *memPubStore) GetSubmission(_ context.Context, id string) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *memPubStore) UpdateSubmissionState(_ context.Context, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok || sub.State != from {
		return false, nil
	}
	sub.State = to
	return true, nil
}

func (s *memPubStore) RecordPublication(_ context.Context, id, channelID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return models.ErrNotFound
	}
	if sub.Publications == nil {
		sub.Publications = make(map[string]time.Time)
	}
	if _, exists := sub.Publications[channelID]; !exists {
		sub.Publications[channelID] = ts
	}
	return nil
}

func (s *memPubStore) RecordPublishFailure(_ context.Context, id, channelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok {
		return 0, models.ErrNotFound
	}
	if sub.PublishFailures == nil {
		sub.PublishFailures = make(map[string]int)
	}
	sub.PublishFailures[channelID]++
	return sub.PublishFailures[channelID], nil
}

func (s *memPubStore) ListPublishing(_ context.Context) ([]models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stuck []models.Submission
	for _, sub := range s.submissions {
		if sub.State == models.StatePublishing && !sub.Archived {
			stuck = append(stuck, *sub)
		}
	}
	return stuck, nil
}

type staticChannels []models.ChannelTarget

func (c staticChannels) EnabledChannels(context.Context) ([]models.ChannelTarget, error) {
	return c, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	seen  map[string]bool
	texts []string
}

func (n *recordingNotifier) Enqueue(_ context.Context, kind, submissionID, _, target, payload string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seen == nil {
		n.seen = make(map[string]bool)
	}
	key := kind + ":" + submissionID + ":" + target
	if n.seen[key] {
		return false, nil
	}
	n.seen[key] = true
	n.texts = append(n.texts, payload)
	return true, nil
}

func twoChannels() staticChannels {
	return staticChannels{
		{ID: "chan-a", Kind: models.ChannelKindChannel, Enabled: true},
		{ID: "chan-b", Kind: models.ChannelKindChannel, Enabled: true},
	}
}

func newTestDispatcher(channels ChannelSource, chat transport.ChatTransport) (*Dispatcher, *memPubStore, *recordingNotifier) {
	store := newMemPubStore()
	notifier := &recordingNotifier{}
	d := NewDispatcher(store, channels, chat, nil, notifier, Options{
		MediaGroupMaxSize: 10,
		PublishTimeout:    time.Second,
		AdminTarget:       "admin-chat",
	}, zap.NewNop(), &observability.MockMetricsRegistry{})
	return d, store, notifier
}

func publishingSubmission(id string) *models.Submission {
	return &models.Submission{
		ID:       id,
		AuthorID: 1,
		Kind:     models.KindText,
		Text:     "hello world",
		State:    models.StatePublishing,
	}
}

func TestDispatchPublishesToAllChannels(t *testing.T) {
	chat := &transport.MockChatTransport{}
	d, store, _ := newTestDispatcher(twoChannels(), chat)

	sub := publishingSubmission("sub-1")
	store.put(sub)

	require.NoError(t, d.Dispatch(context.Background(), sub))

	assert.Len(t, chat.SentTo("chan-a"), 1)
	assert.Len(t, chat.SentTo("chan-b"), 1)

	stored, err := store.GetSubmission(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePublished, stored.State)
	assert.Len(t, stored.Publications, 2)
}

func TestDispatchIsIdempotentPerChannel(t *testing.T) {
	chat := &transport.MockChatTransport{}
	d, store, _ := newTestDispatcher(twoChannels(), chat)

	sub := publishingSubmission("sub-1")
	sub.Publications = map[string]time.Time{"chan-a": time.Now().Add(-time.Minute)}
	store.put(sub)

	require.NoError(t, d.Dispatch(context.Background(), sub))

	// chan-a already had a recorded publication; only chan-b gets a send.
	assert.Empty(t, chat.SentTo("chan-a"))
	assert.Len(t, chat.SentTo("chan-b"), 1)
}

func TestDispatchPartialFailureKeepsPublishing(t *testing.T) {
	chat := &transport.MockChatTransport{
		Err:         errors.New("flood limit"),
		FailTargets: map[string]bool{"chan-b": true},
	}
	d, store, notifier := newTestDispatcher(twoChannels(), chat)

	sub := publishingSubmission("sub-1")
	store.put(sub)

	err := d.Dispatch(context.Background(), sub)
	require.Error(t, err)

	stored, gerr := store.GetSubmission(context.Background(), "sub-1")
	require.NoError(t, gerr)
	assert.Equal(t, models.StatePublishing, stored.State)
	assert.Contains(t, stored.Publications, "chan-a")
	assert.NotContains(t, stored.Publications, "chan-b")
	assert.Equal(t, 1, stored.PublishFailures["chan-b"])
	assert.Empty(t, notifier.texts, "a retryable failure is not an admin alert yet")

	// Retry after the channel recovers finishes the job without re-sending
	// to the channel that already succeeded.
	chat.Err = nil
	require.NoError(t, d.Retry(context.Background(), "sub-1"))
	assert.Len(t, chat.SentTo("chan-a"), 1)
	assert.Len(t, chat.SentTo("chan-b"), 1)

	stored, gerr = store.GetSubmission(context.Background(), "sub-1")
	require.NoError(t, gerr)
	assert.Equal(t, models.StatePublished, stored.State)
}

func TestDispatchDeadChannelStopsRetries(t *testing.T) {
	chat := &transport.MockChatTransport{
		Err:         errors.New("chat migrated"),
		FailTargets: map[string]bool{"chan-b": true},
	}
	d, store, notifier := newTestDispatcher(twoChannels(), chat)

	sub := publishingSubmission("sub-1")
	store.put(sub)

	// Hammer the dispatch far past the ceiling; sends must stop at it.
	for i := 0; i < 20; i++ {
		fresh, err := store.GetSubmission(context.Background(), "sub-1")
		require.NoError(t, err)
		if fresh.State != models.StatePublishing {
			break
		}
		_ = d.Dispatch(context.Background(), fresh)
	}

	assert.Equal(t, 1, chat.AttemptsTo("chan-a"))
	assert.Equal(t, 5, chat.AttemptsTo("chan-b"), "sends stop at the attempt ceiling")

	stored, err := store.GetSubmission(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePublished, stored.State, "a dead channel is a terminal outcome")
	assert.Contains(t, stored.Publications, "chan-a")
	assert.NotContains(t, stored.Publications, "chan-b")
	assert.Equal(t, 5, stored.PublishFailures["chan-b"])

	require.Len(t, notifier.texts, 1, "one alert when the channel goes dead")
	assert.Contains(t, notifier.texts[0], "chan-b")
	assert.Contains(t, notifier.texts[0], "dead")
}

func TestSweepRetriesStuckPublications(t *testing.T) {
	chat := &transport.MockChatTransport{
		Err:         errors.New("flood limit"),
		FailTargets: map[string]bool{"chan-b": true},
	}
	d, store, _ := newTestDispatcher(twoChannels(), chat)

	sub := publishingSubmission("sub-1")
	store.put(sub)
	require.Error(t, d.Dispatch(context.Background(), sub))

	// The channel recovers before the next sweep; no human retry needed.
	chat.Err = nil
	d.sweep(context.Background())

	stored, err := store.GetSubmission(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePublished, stored.State)
	assert.Equal(t, 2, chat.AttemptsTo("chan-b"))
	assert.Len(t, chat.SentTo("chan-b"), 1)
}

func TestConcurrentDispatchKeepsBothPublications(t *testing.T) {
	store := newMemPubStore()
	sub := publishingSubmission("sub-1")
	store.put(sub)

	// Two dispatch paths record different channels of the same submission at
	// the same time; neither recording may be lost.
	var wg sync.WaitGroup
	for _, ch := range []string{"chan-a", "chan-b"} {
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			_ = store.RecordPublication(context.Background(), "sub-1", channelID, time.Now())
		}(ch)
	}
	wg.Wait()

	stored, err := store.GetSubmission(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Len(t, stored.Publications, 2)
}

func TestDispatchNoChannelsAlertsAdmin(t *testing.T) {
	d, store, notifier := newTestDispatcher(staticChannels{}, &transport.MockChatTransport{})

	sub := publishingSubmission("sub-1")
	store.put(sub)

	err := d.Dispatch(context.Background(), sub)
	require.Error(t, err)
	assert.Len(t, notifier.texts, 1)
}

func TestDispatchSendsMediaGroups(t *testing.T) {
	chat := &transport.MockChatTransport{}
	d, store, _ := newTestDispatcher(staticChannels{{ID: "chan-a", Enabled: true}}, chat)

	sub := publishingSubmission("sub-1")
	sub.Kind = models.KindMixed
	sub.Media = []models.MediaRef{
		{Type: models.KindImage, Ref: "i1"},
		{Type: models.KindImage, Ref: "i2"},
		{Type: models.KindVideo, Ref: "v1"},
	}
	store.put(sub)

	require.NoError(t, d.Dispatch(context.Background(), sub))

	sent := chat.SentTo("chan-a")
	require.Len(t, sent, 2, "image run and video run publish as separate groups")
	assert.Equal(t, "hello world", sent[0].Caption)
	assert.Empty(t, sent[1].Caption, "only the first batch carries the caption")
	assert.Len(t, sent[0].Media, 2)
	assert.Len(t, sent[1].Media, 1)
}

func TestGroupMedia(t *testing.T) {
	img := func(ref string) models.MediaRef { return models.MediaRef{Type: models.KindImage, Ref: ref} }
	vid := func(ref string) models.MediaRef { return models.MediaRef{Type: models.KindVideo, Ref: ref} }

	tests := []struct {
		name  string
		media []models.MediaRef
		max   int
		want  []int // batch sizes in order
	}{
		{"empty", nil, 10, nil},
		{"single run", []models.MediaRef{img("a"), img("b")}, 10, []int{2}},
		{"type change splits", []models.MediaRef{img("a"), vid("b"), img("c")}, 10, []int{1, 1, 1}},
		{"oversize run chunks", []models.MediaRef{img("a"), img("b"), img("c")}, 2, []int{2, 1}},
		{"alternating", []models.MediaRef{img("a"), img("b"), vid("c"), vid("d"), img("e")}, 10, []int{2, 2, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := GroupMedia(tt.media, tt.max)
			require.Len(t, batches, len(tt.want))
			var flat []models.MediaRef
			for i, b := range batches {
				assert.Len(t, b, tt.want[i])
				for _, m := range b[1:] {
					assert.Equal(t, b[0].Type, m.Type, "batch must be homogeneous")
				}
				flat = append(flat, b...)
			}
			assert.Equal(t, tt.media, flat, "order must be preserved")
		})
	}
}
