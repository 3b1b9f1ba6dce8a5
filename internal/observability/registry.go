package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// This replaces direct access to global Prometheus metrics with dependency injection
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Moderation pipeline metrics
	IncrementSubmissions(kind string)
	IncrementValidationRejects(reason string)
	IncrementDecisions(decision string)

	// Publication metrics
	IncrementPublications(status string)

	// Notification delivery metrics
	IncrementDeliveries(status string)
	IncrementDeadLetters(kind string)
	SetQueueDepth(depth int)

	// Feedback metrics
	IncrementFeedbackReports(grade string)

	// Ban escalation metrics
	IncrementStrikes()
	IncrementBans(kind string)

	// Channel config cache metrics
	IncrementCacheHits()
	IncrementCacheMisses()
	IncrementCacheSnapshotErrors()
	SetRegistryVersion(version uint64)

	// Intake rate limiting metrics
	IncrementRateLimitRequests(author string)
	IncrementRateLimitHits(author string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Moderation pipeline metrics
func (r *PrometheusRegistry) IncrementSubmissions(kind string) {
	SubmissionCount.WithLabelValues(kind).Inc()
}

func (r *PrometheusRegistry) IncrementValidationRejects(reason string) {
	ValidationRejectCount.WithLabelValues(reason).Inc()
}

func (r *PrometheusRegistry) IncrementDecisions(decision string) {
	DecisionCount.WithLabelValues(decision).Inc()
}

// Publication metrics
func (r *PrometheusRegistry) IncrementPublications(status string) {
	PublicationCount.WithLabelValues(status).Inc()
}

// Notification delivery metrics
func (r *PrometheusRegistry) IncrementDeliveries(status string) {
	DeliveryCount.WithLabelValues(status).Inc()
}

func (r *PrometheusRegistry) IncrementDeadLetters(kind string) {
	DeadLetterCount.WithLabelValues(kind).Inc()
}

func (r *PrometheusRegistry) SetQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

// Feedback metrics
func (r *PrometheusRegistry) IncrementFeedbackReports(grade string) {
	FeedbackReportCount.WithLabelValues(grade).Inc()
}

// Ban escalation metrics
func (r *PrometheusRegistry) IncrementStrikes() {
	StrikeCount.Inc()
}

func (r *PrometheusRegistry) IncrementBans(kind string) {
	BanCount.WithLabelValues(kind).Inc()
}

// Channel config cache metrics
func (r *PrometheusRegistry) IncrementCacheHits() {
	CacheHits.Inc()
}

func (r *PrometheusRegistry) IncrementCacheMisses() {
	CacheMisses.Inc()
}

func (r *PrometheusRegistry) IncrementCacheSnapshotErrors() {
	CacheSnapshotErrors.Inc()
}

func (r *PrometheusRegistry) SetRegistryVersion(version uint64) {
	RegistryVersion.Set(float64(version))
}

// Intake rate limiting metrics
func (r *PrometheusRegistry) IncrementRateLimitRequests(author string) {
	RateLimitRequests.WithLabelValues(author).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits(author string) {
	RateLimitHits.WithLabelValues(author).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

// HTTP Request metrics
func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

// Moderation pipeline metrics
func (r *NoOpRegistry) IncrementSubmissions(kind string)         {}
func (r *NoOpRegistry) IncrementValidationRejects(reason string) {}
func (r *NoOpRegistry) IncrementDecisions(decision string)       {}

// Publication metrics
func (r *NoOpRegistry) IncrementPublications(status string) {}

// Notification delivery metrics
func (r *NoOpRegistry) IncrementDeliveries(status string) {}
func (r *NoOpRegistry) IncrementDeadLetters(kind string)  {}
func (r *NoOpRegistry) SetQueueDepth(depth int)           {}

// Feedback metrics
func (r *NoOpRegistry) IncrementFeedbackReports(grade string) {}

// Ban escalation metrics
func (r *NoOpRegistry) IncrementStrikes()         {}
func (r *NoOpRegistry) IncrementBans(kind string) {}

// Channel config cache metrics
func (r *NoOpRegistry) IncrementCacheHits()              {}
func (r *NoOpRegistry) IncrementCacheMisses()            {}
func (r *NoOpRegistry) IncrementCacheSnapshotErrors()    {}
func (r *NoOpRegistry) SetRegistryVersion(version uint64) {}

// Intake rate limiting metrics
func (r *NoOpRegistry) IncrementRateLimitRequests(author string) {}
func (r *NoOpRegistry) IncrementRateLimitHits(author string)     {}
