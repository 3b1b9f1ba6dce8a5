package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
)

type fakeStatsStore struct {
	states  map[string]int
	pending int
	dead    int
}

func (f *fakeStatsStore) CountSubmissionsByState(context.Context) (map[string]int, error) {
	return f.states, nil
}
func (f *fakeStatsStore) CountPendingTasks(context.Context) (int, error) { return f.pending, nil }
func (f *fakeStatsStore) CountDeadTasks(context.Context) (int, error)    { return f.dead, nil }

type fakeChannelCounter int

func (f fakeChannelCounter) EnabledChannels(context.Context) ([]models.ChannelTarget, error) {
	return make([]models.ChannelTarget, int(f)), nil
}

type fakeReportNotifier struct {
	payloads []string
	seen     map[string]bool
}

func (f *fakeReportNotifier) Enqueue(_ context.Context, kind, submissionID, _, _, payload string) (bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := kind + ":" + submissionID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.payloads = append(f.payloads, payload)
	return true, nil
}

func TestReportRendersAndEnqueues(t *testing.T) {
	store := &fakeStatsStore{
		states:  map[string]int{models.StatePendingReview: 3, models.StatePublished: 7},
		pending: 2,
		dead:    1,
	}
	notifier := &fakeReportNotifier{}
	r := NewReporter(store, nil, fakeChannelCounter(4), notifier, "admin-chat", time.Hour, zap.NewNop())

	require.NoError(t, r.Report(context.Background()))
	require.Len(t, notifier.payloads, 1)

	msg := notifier.payloads[0]
	assert.Contains(t, msg, "pending_review: 3")
	assert.Contains(t, msg, "published: 7")
	assert.Contains(t, msg, "pending=2 dead=1")
	assert.Contains(t, msg, "enabled channels: 4")

	// Same-day re-report is deduped by the queue key.
	require.NoError(t, r.Report(context.Background()))
	assert.Len(t, notifier.payloads, 1)
}

func TestRenderSkipsZeroStates(t *testing.T) {
	msg := Render(&PipelineStats{
		GeneratedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		StateCounts: map[string]int{models.StateRejected: 0, models.StateClosed: 2},
	})
	assert.NotContains(t, msg, "rejected")
	assert.Contains(t, msg, "closed: 2")
}
