package moderation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/notify"
	"github.com/openmodqueue/openmodqueue/internal/observability"
)

// nowFn is swapped in tests to control time.
var nowFn = time.Now

// Store is the persistence surface the moderation service needs.
type Store interface {
	InsertSubmission(ctx context.Context, s *models.Submission) error
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	// UpdateSubmissionState applies a guarded transition and reports whether
	// the submission was actually in the from state.
	UpdateSubmissionState(ctx context.Context, id, from, to string) (bool, error)
	InsertDecision(ctx context.Context, d *models.ReviewDecision) error
	// ArchiveSubmission marks a terminal submission archived. Rows are kept.
	ArchiveSubmission(ctx context.Context, id string) error
}

// BanChecker gates intake and receives strikes on rejection.
type BanChecker interface {
	IsBanned(ctx context.Context, userID int64) (bool, error)
	RecordStrike(ctx context.Context, userID int64) (*models.BanRecord, error)
}

// Notifier enqueues outbound notifications. Returns whether a new task was
// created (false on duplicate suppression).
type Notifier interface {
	Enqueue(ctx context.Context, kind, submissionID, transport, target, payload string) (bool, error)
}

// Publisher fans an approved submission out to the configured channels.
type Publisher interface {
	Dispatch(ctx context.Context, sub *models.Submission) error
}

// IntakeLimiter bounds per-author submission rates.
type IntakeLimiter interface {
	Allow(authorKey string) bool
}

// IntakeCounter tracks daily per-author submission volume for reporting.
// Optional; a nil counter disables tracking.
type IntakeCounter interface {
	IncrementAuthorSubmissions(authorID int64) (int64, error)
}

// EventSink records pipeline events for the analytics store. Optional; a nil
// sink disables event recording. Sink failures never fail the operation.
type EventSink interface {
	RecordEvent(ctx context.Context, eventType, submissionID, channelID string, authorID, views int64, detail string) error
	RecordDecision(ctx context.Context, submissionID, decision string, reviewerID int64) error
}

// SubmitRequest is the author-provided content for a new submission.
type SubmitRequest struct {
	AuthorID  int64             `json:"author_id"`
	Kind      string            `json:"kind"`
	Text      string            `json:"text,omitempty"`
	Media     []models.MediaRef `json:"media,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Anonymous bool              `json:"anonymous"`
}

// Service owns the submission state machine. All transitions flow through
// here; decisions on the same submission are serialized so exactly one of two
// racing reviewers wins.
type Service struct {
	store        Store
	bans         BanChecker
	notifier     Notifier
	publisher    Publisher
	limiter      IntakeLimiter
	counter      IntakeCounter
	events       EventSink
	reviewTarget string
	locks        *keyedMutex
	logger       *zap.Logger
	metrics      observability.MetricsRegistry
}

// NewService constructs a moderation Service. reviewTarget is the chat
// recipient that receives review alerts for new submissions.
func NewService(store Store, bans BanChecker, notifier Notifier, publisher Publisher, limiter IntakeLimiter, counter IntakeCounter, reviewTarget string, logger *zap.Logger, metrics observability.MetricsRegistry) *Service {
	return &Service{
		store:        store,
		bans:         bans,
		notifier:     notifier,
		publisher:    publisher,
		limiter:      limiter,
		counter:      counter,
		reviewTarget: reviewTarget,
		locks:        newKeyedMutex(),
		logger:       logger,
		metrics:      metrics,
	}
}

// SetEventSink enables analytics event recording.
func (s *Service) SetEventSink(sink EventSink) {
	s.events = sink
}

// Submit validates and accepts a new submission into the review queue.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*models.Submission, error) {
	if err := validate(req); err != nil {
		s.metrics.IncrementValidationRejects(err.Reason)
		return nil, err
	}

	banned, err := s.bans.IsBanned(ctx, req.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("check ban: %w", err)
	}
	if banned {
		s.metrics.IncrementValidationRejects("author_banned")
		return nil, ErrAuthorBanned
	}

	if s.limiter != nil && !s.limiter.Allow(strconv.FormatInt(req.AuthorID, 10)) {
		s.metrics.IncrementValidationRejects("rate_limited")
		return nil, ErrRateLimited
	}

	now := nowFn()
	sub := &models.Submission{
		ID:        uuid.New().String(),
		AuthorID:  req.AuthorID,
		Kind:      req.Kind,
		Media:     req.Media,
		Text:      req.Text,
		Tags:      req.Tags,
		Anonymous: req.Anonymous,
		State:     models.StatePendingReview,
		CreatedAt: now,
	}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}

	s.metrics.IncrementSubmissions(sub.Kind)
	if s.events != nil {
		if err := s.events.RecordEvent(ctx, "submission", sub.ID, "", sub.AuthorID, 0, sub.Kind); err != nil {
			s.logger.Warn("record submission event", zap.Error(err), zap.String("submission_id", sub.ID))
		}
	}
	if s.counter != nil {
		if _, err := s.counter.IncrementAuthorSubmissions(req.AuthorID); err != nil {
			s.logger.Warn("intake counter", zap.Error(err), zap.Int64("author_id", req.AuthorID))
		}
	}

	if s.reviewTarget != "" {
		if _, err := s.notifier.Enqueue(ctx, models.NotifyReviewAlert, sub.ID, models.TransportChat, s.reviewTarget, notify.RenderReviewAlert(sub)); err != nil {
			s.logger.Error("enqueue review alert", zap.Error(err), zap.String("submission_id", sub.ID))
		}
	}

	s.logger.Info("submission accepted",
		zap.String("submission_id", sub.ID),
		zap.Int64("author_id", sub.AuthorID),
		zap.String("kind", sub.Kind))
	return sub, nil
}

// validate enforces the content kind invariants.
func validate(req *SubmitRequest) *ValidationError {
	switch req.Kind {
	case models.KindText:
		if len(req.Media) > 0 {
			return &ValidationError{Reason: "text_with_media", Msg: "text submissions cannot carry media"}
		}
		if req.Text == "" {
			return &ValidationError{Reason: "empty_text", Msg: "text submissions need a body"}
		}
	case models.KindImage, models.KindVideo:
		if len(req.Media) == 0 {
			return &ValidationError{Reason: "missing_media", Msg: "media submissions need at least one item"}
		}
		for _, m := range req.Media {
			if m.Type != req.Kind {
				return &ValidationError{Reason: "media_kind_mismatch", Msg: fmt.Sprintf("media item type %q does not match submission kind %q", m.Type, req.Kind)}
			}
		}
	case models.KindMixed:
		if len(req.Media) == 0 {
			return &ValidationError{Reason: "missing_media", Msg: "mixed submissions need at least one media item"}
		}
	default:
		return &ValidationError{Reason: "unknown_kind", Msg: fmt.Sprintf("unknown submission kind %q", req.Kind)}
	}
	for _, m := range req.Media {
		if m.Ref == "" {
			return &ValidationError{Reason: "empty_media_ref", Msg: "media item without a reference"}
		}
		if m.Type != models.KindImage && m.Type != models.KindVideo {
			return &ValidationError{Reason: "unknown_media_type", Msg: fmt.Sprintf("unknown media type %q", m.Type)}
		}
	}
	return nil
}

// Decide applies a reviewer decision. Decisions on the same submission are
// serialized and guarded, so of two concurrent reviewers exactly one wins and
// the other receives an InvalidTransitionError.
func (s *Service) Decide(ctx context.Context, submissionID string, reviewerID int64, decision, reason string, tags []string) (*models.Submission, error) {
	unlock := s.locks.lock(submissionID)
	defer unlock()

	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	// A decision may also land while the submission sits in needs-contact;
	// that resumes review without an explicit reopen.
	from := sub.State
	if from != models.StatePendingReview && from != models.StateNeedsContact {
		return nil, &InvalidTransitionError{SubmissionID: submissionID, State: sub.State, Action: decision}
	}

	var target string
	switch decision {
	case models.DecisionApprove:
		target = models.StateApproved
	case models.DecisionReject:
		target = models.StateRejected
	case models.DecisionRequestContact:
		target = models.StateNeedsContact
	default:
		return nil, &ValidationError{Reason: "unknown_decision", Msg: fmt.Sprintf("unknown decision %q", decision)}
	}

	ok, err := s.store.UpdateSubmissionState(ctx, submissionID, from, target)
	if err != nil {
		return nil, fmt.Errorf("transition submission: %w", err)
	}
	if !ok {
		// Lost a race against another reviewer.
		return nil, &InvalidTransitionError{SubmissionID: submissionID, State: sub.State, Action: decision}
	}
	sub.State = target

	rec := &models.ReviewDecision{
		SubmissionID: submissionID,
		ReviewerID:   reviewerID,
		Decision:     decision,
		Reason:       reason,
		Tags:         tags,
		CreatedAt:    nowFn(),
	}
	if err := s.store.InsertDecision(ctx, rec); err != nil {
		s.logger.Error("record decision", zap.Error(err), zap.String("submission_id", submissionID))
	}
	if len(tags) > 0 {
		sub.Tags = tags
	}
	s.metrics.IncrementDecisions(decision)
	if s.events != nil {
		if err := s.events.RecordDecision(ctx, submissionID, decision, reviewerID); err != nil {
			s.logger.Warn("record decision event", zap.Error(err), zap.String("submission_id", submissionID))
		}
	}

	s.notifyAuthor(ctx, sub, decision, reason)

	switch decision {
	case models.DecisionApprove:
		if ok, err := s.store.UpdateSubmissionState(ctx, submissionID, models.StateApproved, models.StatePublishing); err != nil || !ok {
			s.logger.Error("enter publishing state", zap.Error(err), zap.String("submission_id", submissionID))
			break
		}
		sub.State = models.StatePublishing
		if err := s.publisher.Dispatch(ctx, sub); err != nil {
			// Publication retries are the dispatcher's problem; the decision
			// itself already stands.
			s.logger.Error("dispatch publication", zap.Error(err), zap.String("submission_id", submissionID))
		}
	case models.DecisionReject:
		if _, err := s.bans.RecordStrike(ctx, sub.AuthorID); err != nil {
			s.logger.Error("record strike", zap.Error(err), zap.Int64("author_id", sub.AuthorID))
		}
		if err := s.store.ArchiveSubmission(ctx, submissionID); err != nil {
			s.logger.Warn("archive rejected submission", zap.Error(err), zap.String("submission_id", submissionID))
		}
	}

	s.logger.Info("decision applied",
		zap.String("submission_id", submissionID),
		zap.String("decision", decision),
		zap.Int64("reviewer_id", reviewerID))
	return sub, nil
}

// Reopen returns a needs-contact submission to the review queue after the
// author responded.
func (s *Service) Reopen(ctx context.Context, submissionID string) error {
	unlock := s.locks.lock(submissionID)
	defer unlock()

	ok, err := s.store.UpdateSubmissionState(ctx, submissionID, models.StateNeedsContact, models.StatePendingReview)
	if err != nil {
		return fmt.Errorf("reopen submission: %w", err)
	}
	if !ok {
		sub, gerr := s.store.GetSubmission(ctx, submissionID)
		if gerr != nil {
			return gerr
		}
		return &InvalidTransitionError{SubmissionID: submissionID, State: sub.State, Action: "reopen"}
	}

	if s.reviewTarget != "" {
		sub, err := s.store.GetSubmission(ctx, submissionID)
		if err == nil {
			if _, err := s.notifier.Enqueue(ctx, models.NotifyReviewAlert, submissionID, models.TransportChat, s.reviewTarget, notify.RenderReviewAlert(sub)); err != nil {
				s.logger.Error("enqueue review alert", zap.Error(err), zap.String("submission_id", submissionID))
			}
		}
	}
	return nil
}

// Close terminates a needs-contact submission that went nowhere.
func (s *Service) Close(ctx context.Context, submissionID string) error {
	unlock := s.locks.lock(submissionID)
	defer unlock()

	ok, err := s.store.UpdateSubmissionState(ctx, submissionID, models.StateNeedsContact, models.StateClosed)
	if err != nil {
		return fmt.Errorf("close submission: %w", err)
	}
	if !ok {
		sub, gerr := s.store.GetSubmission(ctx, submissionID)
		if gerr != nil {
			return gerr
		}
		return &InvalidTransitionError{SubmissionID: submissionID, State: sub.State, Action: "close"}
	}
	return nil
}

func (s *Service) notifyAuthor(ctx context.Context, sub *models.Submission, decision, reason string) {
	target := strconv.FormatInt(sub.AuthorID, 10)
	if _, err := s.notifier.Enqueue(ctx, models.NotifyDecisionResult, sub.ID, models.TransportChat, target, notify.RenderDecisionResult(sub, decision, reason)); err != nil {
		s.logger.Error("enqueue decision result", zap.Error(err), zap.String("submission_id", sub.ID))
	}
}
