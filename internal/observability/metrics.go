package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modqueue_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// submissions accepted into the review queue, by content kind
	SubmissionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_submissions_total",
			Help: "Total submissions accepted into review",
		},
		[]string{"kind"},
	)

	// intake rejections before the state machine, by reason
	ValidationRejectCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_validation_rejects_total",
			Help: "Submissions rejected at intake validation",
		},
		[]string{"reason"},
	)

	// reviewer decisions applied, by decision
	DecisionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_decisions_total",
			Help: "Reviewer decisions applied",
		},
		[]string{"decision"},
	)

	// per-channel publication outcomes
	PublicationCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_publications_total",
			Help: "Channel publication attempts by terminal outcome",
		},
		[]string{"status"},
	)

	// notification delivery attempts by outcome
	DeliveryCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_notify_deliveries_total",
			Help: "Notification delivery attempts by outcome",
		},
		[]string{"status"},
	)

	// tasks that exhausted their retry budget, by kind
	DeadLetterCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_notify_dead_letters_total",
			Help: "Notification tasks dead-lettered after exhausting retries",
		},
		[]string{"kind"},
	)

	// depth of the pending notification queue
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modqueue_notify_queue_depth",
			Help: "Pending notification tasks",
		},
	)

	// feedback reports sent, by grade
	FeedbackReportCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_feedback_reports_total",
			Help: "Feedback reports sent to authors",
		},
		[]string{"grade"},
	)

	// strikes recorded against authors
	StrikeCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modqueue_strikes_total",
			Help: "Strikes recorded against authors",
		},
	)

	// bans applied, by kind
	BanCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_bans_total",
			Help: "Bans applied by escalation kind",
		},
		[]string{"kind"},
	)

	// channel config cache hit/miss counters
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modqueue_config_cache_hits_total",
			Help: "Channel config cache hits",
		},
	)
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modqueue_config_cache_misses_total",
			Help: "Channel config cache misses (TTL expiry or invalidation)",
		},
	)
	CacheSnapshotErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modqueue_config_cache_snapshot_errors_total",
			Help: "Failed channel snapshot persist/load operations",
		},
	)

	// current channel registry version
	RegistryVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modqueue_channel_registry_version",
			Help: "Monotonic channel registry version",
		},
	)

	// intake rate limiter counters
	RateLimitRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_ratelimit_requests_total",
			Help: "Intake requests evaluated by the rate limiter",
		},
		[]string{"author"},
	)
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_ratelimit_hits_total",
			Help: "Intake requests rejected by the rate limiter",
		},
		[]string{"author"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		SubmissionCount,
		ValidationRejectCount,
		DecisionCount,
		PublicationCount,
		DeliveryCount,
		DeadLetterCount,
		QueueDepth,
		FeedbackReportCount,
		StrikeCount,
		BanCount,
		CacheHits,
		CacheMisses,
		CacheSnapshotErrors,
		RegistryVersion,
		RateLimitRequests,
		RateLimitHits,
	)
}
