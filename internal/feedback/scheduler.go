package feedback

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/analytics"
	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/notify"
	"github.com/openmodqueue/openmodqueue/internal/observability"
)

// nowFn is swapped in tests to control time.
var nowFn = time.Now

// Store is the persistence surface the scheduler needs.
type Store interface {
	// ListFeedbackDue returns published submissions without a feedback report
	// whose earliest publication is at or before the cutoff.
	ListFeedbackDue(ctx context.Context, cutoff time.Time) ([]models.Submission, error)
	UpdateSubmissionState(ctx context.Context, id, from, to string) (bool, error)
	RecordViewCount(ctx context.Context, id, channelID string, views int64) error
	// InsertFeedbackReport creates the report; the returned bool reports
	// whether this call created it (false when one already exists).
	InsertFeedbackReport(ctx context.Context, r *models.FeedbackReport) (bool, error)
	// ArchiveSubmission marks a submission archived once its lifecycle ended.
	ArchiveSubmission(ctx context.Context, id string) error
}

// ChannelInfo resolves channel metadata, in particular audience size.
type ChannelInfo interface {
	GetChannel(id string) (models.ChannelTarget, error)
}

// Estimator provides view counts for a publication.
type Estimator interface {
	EstimateViews(ctx context.Context, submissionID, channelID string) (int64, error)
}

// Notifier enqueues the author-facing feedback message.
type Notifier interface {
	Enqueue(ctx context.Context, kind, submissionID, transport, target, payload string) (bool, error)
}

// Scheduler produces the delayed performance report for published
// submissions. The sweep claims each due submission with a guarded state
// transition, so overlapping sweeps cannot double-report, and the report row
// itself is unique per submission as a second line of defense.
type Scheduler struct {
	store     Store
	channels  ChannelInfo
	estimator Estimator
	notifier  Notifier
	delay     time.Duration
	interval  time.Duration
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
}

// NewScheduler constructs a Scheduler. delay is how old the earliest
// publication must be before a report goes out; interval is the sweep cadence.
func NewScheduler(store Store, channels ChannelInfo, estimator Estimator, notifier Notifier, delay, interval time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Scheduler {
	if delay <= 0 {
		delay = 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		store:     store,
		channels:  channels,
		estimator: estimator,
		notifier:  notifier,
		delay:     delay,
		interval:  interval,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("feedback scheduler started",
		zap.Duration("delay", s.delay),
		zap.Duration("interval", s.interval))
	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("feedback scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep reports on every submission whose publication aged past the delay.
func (s *Scheduler) Sweep(ctx context.Context) {
	cutoff := nowFn().Add(-s.delay)
	due, err := s.store.ListFeedbackDue(ctx, cutoff)
	if err != nil {
		s.logger.Error("list feedback due", zap.Error(err))
		return
	}

	for i := range due {
		sub := due[i]
		if err := s.report(ctx, &sub); err != nil {
			s.logger.Error("feedback report failed",
				zap.Error(err),
				zap.String("submission_id", sub.ID))
		}
	}
}

func (s *Scheduler) report(ctx context.Context, sub *models.Submission) error {
	// Claim the submission. A concurrent sweep loses this transition and
	// skips the report entirely.
	ok, err := s.store.UpdateSubmissionState(ctx, sub.ID, models.StatePublished, models.StateFeedbackScheduled)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	channelID := s.primaryChannel(sub)
	views := s.viewsFor(ctx, sub, channelID)
	if err := s.store.RecordViewCount(ctx, sub.ID, channelID, views); err != nil {
		s.logger.Warn("persist view count", zap.Error(err), zap.String("submission_id", sub.ID))
	}

	var audience int64
	if ch, err := s.channels.GetChannel(channelID); err == nil {
		audience = ch.AudienceSize
	} else if !errors.Is(err, models.ErrNotFound) {
		s.logger.Warn("resolve channel audience", zap.Error(err), zap.String("channel_id", channelID))
	}

	report := &models.FeedbackReport{
		SubmissionID: sub.ID,
		ChannelID:    channelID,
		Views:        views,
		Audience:     audience,
		Grade:        GradeFor(views, audience),
		SentAt:       nowFn(),
	}
	created, err := s.store.InsertFeedbackReport(ctx, report)
	if err != nil {
		return err
	}
	if created {
		s.metrics.IncrementFeedbackReports(report.Grade)
		target := strconv.FormatInt(sub.AuthorID, 10)
		if _, err := s.notifier.Enqueue(ctx, models.NotifyFeedbackReport, sub.ID, models.TransportChat, target, notify.RenderFeedbackReport(report)); err != nil {
			s.logger.Error("enqueue feedback report", zap.Error(err), zap.String("submission_id", sub.ID))
		}
		s.logger.Info("feedback report issued",
			zap.String("submission_id", sub.ID),
			zap.String("grade", report.Grade),
			zap.Int64("views", views),
			zap.Int64("audience", audience))
	}

	if _, err := s.store.UpdateSubmissionState(ctx, sub.ID, models.StateFeedbackScheduled, models.StateFeedbackSent); err != nil {
		return err
	}
	if err := s.store.ArchiveSubmission(ctx, sub.ID); err != nil {
		s.logger.Warn("archive submission", zap.Error(err), zap.String("submission_id", sub.ID))
	}
	return nil
}

// primaryChannel picks the channel whose publication came first; the report
// grades against that audience.
func (s *Scheduler) primaryChannel(sub *models.Submission) string {
	var channelID string
	var earliest time.Time
	for ch, ts := range sub.Publications {
		if channelID == "" || ts.Before(earliest) {
			channelID = ch
			earliest = ts
		}
	}
	return channelID
}

func (s *Scheduler) viewsFor(ctx context.Context, sub *models.Submission, channelID string) int64 {
	if s.estimator != nil {
		views, err := s.estimator.EstimateViews(ctx, sub.ID, channelID)
		if err == nil {
			return views
		}
		if !errors.Is(err, analytics.ErrUnavailable) {
			s.logger.Warn("estimate views", zap.Error(err), zap.String("submission_id", sub.ID))
		}
	}
	// Fall back to the last persisted observation.
	return sub.ViewCounts[channelID]
}
