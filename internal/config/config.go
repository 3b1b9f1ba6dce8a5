package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	RedisAddr     string
	ClickHouseDSN string
	PostgresDSN   string
	ServiceName   string

	// Moderation / intake
	ReviewerTokenSecret string
	ReviewerTokenTTL    time.Duration
	IntakeRateCapacity  int
	IntakeRateRefill    time.Duration // interval to regain one intake token
	IntakeRateEnabled   bool

	// Ban escalation
	TempBanDuration time.Duration

	// Publication
	PublishTimeout       time.Duration
	PublishRetryInterval time.Duration // cadence of the stuck-publication sweep
	MediaGroupMaxSize    int
	AdminTarget          string // chat recipient for operational alerts
	ReviewTarget         string // chat recipient for review alerts

	// Chat gateway
	ChatGatewayURL  string
	ChatSendTimeout time.Duration

	// Notification delivery
	NotifyMaxAttempts   int
	NotifyBackoffBase   time.Duration
	NotifyBackoffCap    time.Duration
	NotifyMaxConcurrent int
	NotifyClaimInterval time.Duration
	NotifyArchiveAfter  time.Duration
	PushEndpointTimeout time.Duration

	// Feedback scoring
	FeedbackDelay         time.Duration
	FeedbackSweepInterval time.Duration

	// Channel config cache
	CacheTTL              time.Duration
	CacheSnapshotInterval time.Duration

	// Status reporting
	StatusReportInterval time.Duration

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// ClickHouse connection pooling configuration
	CHMaxOpenConns int

	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8788")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=1")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.ServiceName = getenv("SERVICE_NAME", "openmodqueue")

	cfg.ReviewerTokenSecret = getenv("REVIEWER_TOKEN_SECRET", "")
	cfg.ReviewerTokenTTL = envDuration("REVIEWER_TOKEN_TTL", 24*time.Hour)
	cfg.IntakeRateEnabled = envBool("INTAKE_RATE_ENABLED", true)
	cfg.IntakeRateCapacity = envInt("INTAKE_RATE_CAPACITY", 5)
	cfg.IntakeRateRefill = envDuration("INTAKE_RATE_REFILL", 10*time.Minute)

	// Temporary bans last three days; the third cumulative strike upgrades
	// the ban to permanent regardless of this window.
	cfg.TempBanDuration = envDuration("TEMP_BAN_DURATION", 72*time.Hour)

	cfg.PublishTimeout = envDuration("PUBLISH_TIMEOUT", 10*time.Second)
	cfg.PublishRetryInterval = envDuration("PUBLISH_RETRY_INTERVAL", 30*time.Second)
	cfg.MediaGroupMaxSize = envInt("MEDIA_GROUP_MAX_SIZE", 10)
	cfg.AdminTarget = getenv("ADMIN_TARGET", "")
	cfg.ReviewTarget = getenv("REVIEW_TARGET", "")

	cfg.ChatGatewayURL = getenv("CHAT_GATEWAY_URL", "http://localhost:8081")
	cfg.ChatSendTimeout = envDuration("CHAT_SEND_TIMEOUT", 10*time.Second)

	cfg.NotifyMaxAttempts = envInt("NOTIFY_MAX_ATTEMPTS", 5)
	cfg.NotifyBackoffBase = envDuration("NOTIFY_BACKOFF_BASE", 2*time.Second)
	cfg.NotifyBackoffCap = envDuration("NOTIFY_BACKOFF_CAP", 5*time.Minute)
	cfg.NotifyMaxConcurrent = envInt("NOTIFY_MAX_CONCURRENT", 8)
	cfg.NotifyClaimInterval = envDuration("NOTIFY_CLAIM_INTERVAL", 2*time.Second)
	cfg.NotifyArchiveAfter = envDuration("NOTIFY_ARCHIVE_AFTER", 48*time.Hour)
	cfg.PushEndpointTimeout = envDuration("PUSH_ENDPOINT_TIMEOUT", 5*time.Second)

	// Feedback reports go out once a publication is a full day old; the
	// sweep itself runs hourly.
	cfg.FeedbackDelay = envDuration("FEEDBACK_DELAY", 24*time.Hour)
	cfg.FeedbackSweepInterval = envDuration("FEEDBACK_SWEEP_INTERVAL", time.Hour)

	cfg.CacheTTL = envDuration("CACHE_TTL", 5*time.Minute)
	cfg.CacheSnapshotInterval = envDuration("CACHE_SNAPSHOT_INTERVAL", 10*time.Minute)

	cfg.StatusReportInterval = envDuration("STATUS_REPORT_INTERVAL", 24*time.Hour)

	// Database connection pooling configuration
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 25)

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
