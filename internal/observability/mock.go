package observability

import "time"

// MockMetricsRegistry is a mock implementation of MetricsRegistry for testing
type MockMetricsRegistry struct{}

// HTTP Request metrics
func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

// Moderation pipeline metrics
func (m *MockMetricsRegistry) IncrementSubmissions(kind string)         {}
func (m *MockMetricsRegistry) IncrementValidationRejects(reason string) {}
func (m *MockMetricsRegistry) IncrementDecisions(decision string)       {}

// Publication metrics
func (m *MockMetricsRegistry) IncrementPublications(status string) {}

// Notification delivery metrics
func (m *MockMetricsRegistry) IncrementDeliveries(status string)  {}
func (m *MockMetricsRegistry) IncrementDeadLetters(kind string)   {}
func (m *MockMetricsRegistry) SetQueueDepth(depth int)            {}

// Feedback metrics
func (m *MockMetricsRegistry) IncrementFeedbackReports(grade string) {}

// Ban escalation metrics
func (m *MockMetricsRegistry) IncrementStrikes()         {}
func (m *MockMetricsRegistry) IncrementBans(kind string) {}

// Channel config cache metrics
func (m *MockMetricsRegistry) IncrementCacheHits()            {}
func (m *MockMetricsRegistry) IncrementCacheMisses()          {}
func (m *MockMetricsRegistry) IncrementCacheSnapshotErrors()  {}
func (m *MockMetricsRegistry) SetRegistryVersion(version uint64) {}

// Intake rate limiting metrics
func (m *MockMetricsRegistry) IncrementRateLimitRequests(author string) {}
func (m *MockMetricsRegistry) IncrementRateLimitHits(author string)     {}
