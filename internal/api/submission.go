package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/moderation"
)

// SubmitHandler accepts a new submission into the review queue.
func (s *Server) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "submit"
	const method = "POST"

	var req moderation.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	sub, err := s.Moderation.Submit(r.Context(), &req)
	if err != nil {
		status := submitErrorStatus(err)
		s.Metrics.IncrementRequests(endpoint, method, httpStatusLabel(status))
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		http.Error(w, err.Error(), status)
		return
	}

	s.Metrics.IncrementRequests(endpoint, method, "201")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, sub)
}

func submitErrorStatus(err error) int {
	// ErrAuthorBanned is a ValidationError too, so it must be matched first
	// to keep its dedicated status code.
	var verr *moderation.ValidationError
	switch {
	case errors.Is(err, moderation.ErrAuthorBanned):
		return http.StatusForbidden
	case errors.Is(err, moderation.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &verr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// submissionView is the detail response for one submission.
type submissionView struct {
	*models.Submission
	Decisions []models.ReviewDecision `json:"decisions,omitempty"`
	Feedback  *models.FeedbackReport  `json:"feedback,omitempty"`
}

// GetSubmissionHandler returns a submission with its decision history and,
// when issued, its feedback report.
func (s *Server) GetSubmissionHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "get_submission"
	const method = "GET"

	id := mux.Vars(r)["id"]
	sub, err := s.Store.GetSubmission(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		s.Metrics.IncrementRequests(endpoint, method, "404")
		http.Error(w, "submission not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Logger.Error("get submission", zap.Error(err), zap.String("submission_id", id))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	view := submissionView{Submission: sub}
	if decisions, err := s.Store.ListDecisions(r.Context(), id); err == nil {
		view.Decisions = decisions
	}
	if report, err := s.Store.GetFeedbackReport(r.Context(), id); err == nil {
		view.Feedback = report
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	writeJSON(w, view)
}

// RetryPublishHandler re-dispatches a submission stuck in publishing.
func (s *Server) RetryPublishHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "retry_publish"
	const method = "POST"

	id := mux.Vars(r)["id"]
	if err := s.Dispatcher.Retry(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.Metrics.IncrementRequests(endpoint, method, "404")
			http.Error(w, "submission not found", http.StatusNotFound)
			return
		}
		s.Logger.Warn("retry publish", zap.Error(err), zap.String("submission_id", id))
		s.Metrics.IncrementRequests(endpoint, method, "409")
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	s.Metrics.IncrementRequests(endpoint, method, "202")
	w.WriteHeader(http.StatusAccepted)
}

// viewReport is the body of one view count observation.
type viewReport struct {
	ChannelID string `json:"channel_id"`
	Views     int64  `json:"views"`
}

// RecordViewsHandler ingests a view count observation for one (submission,
// channel) publication. Collectors post here periodically; the observation
// is persisted on the submission and forwarded to the analytics store, where
// the feedback grader reads the maximum back.
func (s *Server) RecordViewsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "record_views"
	const method = "POST"

	id := mux.Vars(r)["id"]
	var req viewReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ChannelID == "" || req.Views < 0 {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "channel_id required, views must be non-negative", http.StatusBadRequest)
		return
	}

	sub, err := s.Store.GetSubmission(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		s.Metrics.IncrementRequests(endpoint, method, "404")
		http.Error(w, "submission not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Logger.Error("get submission", zap.Error(err), zap.String("submission_id", id))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !sub.PublishedTo(req.ChannelID) {
		s.Metrics.IncrementRequests(endpoint, method, "409")
		http.Error(w, "submission was not published to that channel", http.StatusConflict)
		return
	}

	if err := s.Store.RecordViewCount(r.Context(), id, req.ChannelID, req.Views); err != nil {
		s.Logger.Error("record view count", zap.Error(err), zap.String("submission_id", id))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if s.Views != nil {
		if err := s.Views.RecordView(r.Context(), id, req.ChannelID, req.Views); err != nil {
			// Analytics is best effort; the Postgres copy feeds the
			// fallback path when the analytics store is unreachable.
			s.Logger.Warn("record view event", zap.Error(err), zap.String("submission_id", id))
		}
	}

	s.Metrics.IncrementRequests(endpoint, method, "204")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	w.WriteHeader(http.StatusNoContent)
}

// ReopenHandler returns a needs-contact submission to the review queue.
func (s *Server) ReopenHandler(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, "reopen", s.Moderation.Reopen)
}

// CloseHandler terminates a needs-contact submission.
func (s *Server) CloseHandler(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAction(w, r, "close", s.Moderation.Close)
}

func (s *Server) lifecycleAction(w http.ResponseWriter, r *http.Request, endpoint string, fn func(ctx context.Context, id string) error) {
	const method = "POST"

	id := mux.Vars(r)["id"]
	err := fn(r.Context(), id)
	if err == nil {
		s.Metrics.IncrementRequests(endpoint, method, "204")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var terr *moderation.InvalidTransitionError
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.Metrics.IncrementRequests(endpoint, method, "404")
		http.Error(w, "submission not found", http.StatusNotFound)
	case errors.As(err, &terr):
		s.Metrics.IncrementRequests(endpoint, method, "409")
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.Logger.Error(endpoint+" failed", zap.Error(err), zap.String("submission_id", id))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func httpStatusLabel(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "400"
	case http.StatusForbidden:
		return "403"
	case http.StatusNotFound:
		return "404"
	case http.StatusConflict:
		return "409"
	case http.StatusTooManyRequests:
		return "429"
	default:
		return "500"
	}
}
