package analytics

import (
	"context"
	"sync"
)

// MockAnalytics is an in-memory Service implementation for tests.
type MockAnalytics struct {
	mu     sync.Mutex
	Events []MockEvent
	// ViewsByKey maps "submissionID:channelID" to the estimate returned by
	// EstimateViews.
	ViewsByKey map[string]int64
	Err        error
}

// MockEvent is one recorded event.
type MockEvent struct {
	EventType    string
	SubmissionID string
	ChannelID    string
	AuthorID     int64
	Views        int64
	Detail       string
}

func (m *MockAnalytics) RecordEvent(_ context.Context, eventType, submissionID, channelID string, authorID, views int64, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, MockEvent{
		EventType:    eventType,
		SubmissionID: submissionID,
		ChannelID:    channelID,
		AuthorID:     authorID,
		Views:        views,
		Detail:       detail,
	})
	return nil
}

func (m *MockAnalytics) RecordPublication(ctx context.Context, submissionID, channelID string, authorID int64) error {
	return m.RecordEvent(ctx, "publication", submissionID, channelID, authorID, 0, "")
}

func (m *MockAnalytics) RecordDecision(ctx context.Context, submissionID, decision string, reviewerID int64) error {
	return m.RecordEvent(ctx, "decision", submissionID, "", reviewerID, 0, decision)
}

func (m *MockAnalytics) RecordView(ctx context.Context, submissionID, channelID string, views int64) error {
	return m.RecordEvent(ctx, "view", submissionID, channelID, 0, views, "")
}

func (m *MockAnalytics) EstimateViews(_ context.Context, submissionID, channelID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return m.ViewsByKey[submissionID+":"+channelID], nil
}
