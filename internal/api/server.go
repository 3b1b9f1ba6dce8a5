package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/config"
	"github.com/openmodqueue/openmodqueue/internal/db"
	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/moderation"
	"github.com/openmodqueue/openmodqueue/internal/observability"
)

// ModerationService is the state machine surface exposed over HTTP.
type ModerationService interface {
	Submit(ctx context.Context, req *moderation.SubmitRequest) (*models.Submission, error)
	Decide(ctx context.Context, submissionID string, reviewerID int64, decision, reason string, tags []string) (*models.Submission, error)
	Reopen(ctx context.Context, submissionID string) error
	Close(ctx context.Context, submissionID string) error
}

// SubmissionStore is the read/write persistence the handlers use directly.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	ListDecisions(ctx context.Context, submissionID string) ([]models.ReviewDecision, error)
	GetFeedbackReport(ctx context.Context, submissionID string) (*models.FeedbackReport, error)
	RecordViewCount(ctx context.Context, id, channelID string, views int64) error
	InsertChannel(ctx context.Context, t models.ChannelTarget) error
	UpdateChannel(ctx context.Context, t models.ChannelTarget) error
	DeleteChannel(ctx context.Context, id string) error
	SetChannelEnabled(ctx context.Context, id string, enabled bool) error
}

// ViewSink records view observations in the analytics store so the feedback
// grader has real numbers to query. Optional; a nil sink keeps observations
// in Postgres only.
type ViewSink interface {
	RecordView(ctx context.Context, submissionID, channelID string, views int64) error
}

// ChannelCache fronts channel configuration reads and invalidation.
type ChannelCache interface {
	GetChannel(id string) (models.ChannelTarget, error)
	AllChannels(ctx context.Context) ([]models.ChannelTarget, error)
	EnabledChannels(ctx context.Context) ([]models.ChannelTarget, error)
	Invalidate(ctx context.Context) error
	Version() uint64
}

// BanService exposes ban state for admin endpoints.
type BanService interface {
	Check(ctx context.Context, userID int64) (string, error)
	Reset(ctx context.Context, userID int64) error
}

// PublishRetrier re-dispatches submissions stuck in publishing.
type PublishRetrier interface {
	Retry(ctx context.Context, submissionID string) error
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger      *zap.Logger
	Store       SubmissionStore
	Redis       *db.RedisStore
	Moderation  ModerationService
	Cache       ChannelCache
	Bans        BanService
	Dispatcher  PublishRetrier
	Views       ViewSink
	TokenSecret []byte
	TokenTTL    time.Duration
	Metrics     observability.MetricsRegistry
	Config      config.Config
	reloadMu    sync.Mutex
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, store SubmissionStore, redis *db.RedisStore, mod ModerationService, cache ChannelCache, bans BanService, dispatcher PublishRetrier, secret []byte, ttl time.Duration, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	return &Server{
		Logger:      logger,
		Store:       store,
		Redis:       redis,
		Moderation:  mod,
		Cache:       cache,
		Bans:        bans,
		Dispatcher:  dispatcher,
		TokenSecret: secret,
		TokenTTL:    ttl,
		Metrics:     metrics,
		Config:      cfg,
	}
}

// ChannelUpdateChannel is the pub/sub channel other instances subscribe to
// for config change notifications.
const ChannelUpdateChannel = "channel-config-updates"

// UpdateMessage announces one channel config mutation.
type UpdateMessage struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

func (s *Server) notifyUpdate(action, id string) {
	if s.Redis == nil || s.Redis.Client == nil {
		return
	}
	payload, err := json.Marshal(UpdateMessage{Action: action, ID: id})
	if err != nil {
		s.Logger.Error("failed to marshal update message", zap.Error(err))
		return
	}
	if err := s.Redis.Client.Publish(context.Background(), ChannelUpdateChannel, payload).Err(); err != nil {
		s.Logger.Error("failed to publish update message", zap.Error(err))
	}
}

// Reload forces a synchronous channel config reload.
func (s *Server) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if s.Cache == nil {
		return fmt.Errorf("channel cache unavailable")
	}
	return s.Cache.Invalidate(ctx)
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
