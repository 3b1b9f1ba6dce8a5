package transport

import (
	"context"
	"sync"

	"github.com/openmodqueue/openmodqueue/internal/models"
)

// SentMessage records one chat delivery made through a MockChatTransport.
type SentMessage struct {
	Target  string
	Text    string
	Media   []models.MediaRef
	Caption string
}

// MockChatTransport records deliveries for tests. Err, when set, is returned
// from every send.
type MockChatTransport struct {
	mu       sync.Mutex
	Messages []SentMessage
	Err      error
	// FailTargets returns Err only for the listed targets.
	FailTargets map[string]bool
	attempts    map[string]int
}

func (m *MockChatTransport) SendMessage(_ context.Context, target, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countAttempt(target)
	if m.Err != nil && (m.FailTargets == nil || m.FailTargets[target]) {
		return m.Err
	}
	m.Messages = append(m.Messages, SentMessage{Target: target, Text: text})
	return nil
}

func (m *MockChatTransport) SendMediaGroup(_ context.Context, target string, media []models.MediaRef, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countAttempt(target)
	if m.Err != nil && (m.FailTargets == nil || m.FailTargets[target]) {
		return m.Err
	}
	cp := make([]models.MediaRef, len(media))
	copy(cp, media)
	m.Messages = append(m.Messages, SentMessage{Target: target, Media: cp, Caption: caption})
	return nil
}

func (m *MockChatTransport) countAttempt(target string) {
	if m.attempts == nil {
		m.attempts = make(map[string]int)
	}
	m.attempts[target]++
}

// AttemptsTo returns the number of send calls for one target, including the
// calls that failed.
func (m *MockChatTransport) AttemptsTo(target string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[target]
}

// SentTo returns the deliveries recorded for one target.
func (m *MockChatTransport) SentTo(target string) []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentMessage
	for _, msg := range m.Messages {
		if msg.Target == target {
			out = append(out, msg)
		}
	}
	return out
}

// MockPushClient records push deliveries for tests.
type MockPushClient struct {
	mu       sync.Mutex
	Payloads map[string][]string
	Err      error
}

func (m *MockPushClient) Send(_ context.Context, endpoint, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.Payloads == nil {
		m.Payloads = make(map[string][]string)
	}
	m.Payloads[endpoint] = append(m.Payloads[endpoint], payload)
	return nil
}
