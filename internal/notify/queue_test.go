package notify

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

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*models.NotificationTask
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]*models.NotificationTask)}
}

func (s *memTaskStore) InsertTask(_ context.Context, t *models.NotificationTask) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tasks {
		if existing.Status == models.TaskPending && existing.DedupeKey() == t.DedupeKey() {
			return false, nil
		}
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return true, nil
}

func (s *memTaskStore) ClaimDueTasks(_ context.Context, now time.Time, limit int) ([]models.NotificationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationTask
	for _, t := range s.tasks {
		if t.Status == models.TaskPending && !t.NextAttemptAt.After(now) {
			out = append(out, *t)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memTaskStore) UpdateTask(_ context.Context, t *models.NotificationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *memTaskStore) CountPendingTasks(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.Status == models.TaskPending {
			n++
		}
	}
	return n, nil
}

func (s *memTaskStore) ArchiveFinishedTasks(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.tasks {
		if (t.Status == models.TaskDelivered || t.Status == models.TaskDead) && t.UpdatedAt.Before(before) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

func (s *memTaskStore) byStatus(status string) []*models.NotificationTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.NotificationTask
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

func newTestQueue(t *testing.T, chat *transport.MockChatTransport) (*Queue, *memTaskStore) {
	t.Helper()
	store := newMemTaskStore()
	q := NewQueue(store, chat, &transport.MockPushClient{}, Options{
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
		BackoffCap:    5 * time.Minute,
		MaxConcurrent: 4,
		ClaimInterval: 10 * time.Millisecond,
		ArchiveAfter:  time.Hour,
		AdminTarget:   "admin-chat",
	}, zap.NewNop(), &observability.MockMetricsRegistry{})
	return q, store
}

func TestEnqueueAndDeliver(t *testing.T) {
	chat := &transport.MockChatTransport{}
	q, store := newTestQueue(t, chat)
	ctx := context.Background()

	created, err := q.Enqueue(ctx, models.NotifyReviewAlert, "sub-1", models.TransportChat, "reviewer-chat", "new submission")
	require.NoError(t, err)
	assert.True(t, created)

	q.DispatchDue(ctx)

	require.Len(t, chat.SentTo("reviewer-chat"), 1)
	delivered := store.byStatus(models.TaskDelivered)
	require.Len(t, delivered, 1)
	assert.Equal(t, 1, delivered[0].Attempts)
}

func TestEnqueueDuplicateSuppressed(t *testing.T) {
	chat := &transport.MockChatTransport{}
	q, store := newTestQueue(t, chat)
	ctx := context.Background()

	created, err := q.Enqueue(ctx, models.NotifyReviewAlert, "sub-1", models.TransportChat, "reviewer-chat", "first")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = q.Enqueue(ctx, models.NotifyReviewAlert, "sub-1", models.TransportChat, "reviewer-chat", "second")
	require.NoError(t, err)
	assert.False(t, created)

	pending, err := store.CountPendingTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestFailedDeliveryBacksOff(t *testing.T) {
	chat := &transport.MockChatTransport{Err: errors.New("gateway down")}
	q, store := newTestQueue(t, chat)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nowFn = func() time.Time { return base }
	defer func() { nowFn = time.Now }()

	_, err := q.Enqueue(ctx, models.NotifyDecisionResult, "sub-1", models.TransportChat, "author-chat", "rejected")
	require.NoError(t, err)

	q.DispatchDue(ctx)

	pending := store.byStatus(models.TaskPending)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, base.Add(2*time.Second), pending[0].NextAttemptAt)
	assert.Contains(t, pending[0].LastError, "gateway down")

	// Second failure doubles the delay.
	nowFn = func() time.Time { return base.Add(3 * time.Second) }
	q.DispatchDue(ctx)

	pending = store.byStatus(models.TaskPending)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, base.Add(3*time.Second).Add(4*time.Second), pending[0].NextAttemptAt)
}

func TestBackoffIsCapped(t *testing.T) {
	q, _ := newTestQueue(t, &transport.MockChatTransport{})
	assert.Equal(t, 2*time.Second, q.backoffFor(1))
	assert.Equal(t, 4*time.Second, q.backoffFor(2))
	assert.Equal(t, 8*time.Second, q.backoffFor(3))
	assert.Equal(t, 5*time.Minute, q.backoffFor(20))
}

func TestDeadLetterAfterMaxAttemptsAlertsAdminOnce(t *testing.T) {
	chat := &transport.MockChatTransport{
		Err:         errors.New("unreachable"),
		FailTargets: map[string]bool{"author-chat": true},
	}
	q, store := newTestQueue(t, chat)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	nowFn = func() time.Time { return base.Add(time.Duration(step) * time.Hour) }
	defer func() { nowFn = time.Now }()

	_, err := q.Enqueue(ctx, models.NotifyDecisionResult, "sub-1", models.TransportChat, "author-chat", "approved")
	require.NoError(t, err)

	// Three failed attempts exhaust the budget.
	for step = 1; step <= 3; step++ {
		q.DispatchDue(ctx)
	}

	dead := store.byStatus(models.TaskDead)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)

	// The dead-letter alert is pending for the admin target; further dispatch
	// delivers it without creating more alerts.
	step = 4
	q.DispatchDue(ctx)
	assert.Len(t, chat.SentTo("admin-chat"), 1)

	step = 5
	q.DispatchDue(ctx)
	assert.Len(t, chat.SentTo("admin-chat"), 1)
	assert.Len(t, store.byStatus(models.TaskDead), 1)
}

func TestUnknownTransportDeadLetters(t *testing.T) {
	q, store := newTestQueue(t, &transport.MockChatTransport{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.NotifyBroadcast, "", "carrier-pigeon", "somewhere", "hello")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		q.DispatchDue(ctx)
	}
	assert.Len(t, store.byStatus(models.TaskDead), 1)
}

func TestRenderDecisionResult(t *testing.T) {
	sub := &models.Submission{ID: "sub-9", AuthorID: 42}

	msg := RenderDecisionResult(sub, models.DecisionReject, "off topic")
	assert.Contains(t, msg, "sub-9")
	assert.Contains(t, msg, "off topic")

	msg = RenderDecisionResult(sub, models.DecisionApprove, "")
	assert.Contains(t, msg, "approved")

	msg = RenderDecisionResult(sub, models.DecisionRequestContact, "need source")
	assert.Contains(t, msg, "need source")
}

func TestRenderFeedbackReport(t *testing.T) {
	msg := RenderFeedbackReport(&models.FeedbackReport{
		SubmissionID: "sub-3", Grade: models.GradeA, Views: 120, Audience: 2000,
	})
	assert.Contains(t, msg, "grade A")
	assert.Contains(t, msg, "120 views")
}
