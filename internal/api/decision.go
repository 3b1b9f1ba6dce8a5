package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/middleware"
	"github.com/openmodqueue/openmodqueue/internal/models"
	"github.com/openmodqueue/openmodqueue/internal/moderation"
	"github.com/openmodqueue/openmodqueue/internal/token"
)

// decisionRequest is the body for POST /submissions/{id}/decision.
type decisionRequest struct {
	ReviewerID int64    `json:"reviewer_id"`
	Decision   string   `json:"decision"`
	Reason     string   `json:"reason,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// DecisionHandler applies a reviewer decision. When a token secret is
// configured the request must carry a token (query parameter "t") bound to
// this submission, reviewer and decision.
func (s *Server) DecisionHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "decision"
	const method = "POST"

	id := mux.Vars(r)["id"]

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if len(s.TokenSecret) > 0 {
		payload, err := token.Verify(r.URL.Query().Get("t"), s.TokenSecret, s.TokenTTL)
		if err != nil {
			s.Metrics.IncrementRequests(endpoint, method, "401")
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		if payload.SubmissionID != id || payload.ReviewerID != req.ReviewerID || payload.Decision != req.Decision {
			s.Metrics.IncrementRequests(endpoint, method, "401")
			http.Error(w, "token does not match request", http.StatusUnauthorized)
			return
		}
	}

	sub, err := s.Moderation.Decide(r.Context(), id, req.ReviewerID, req.Decision, req.Reason, req.Tags)
	if err != nil {
		var verr *moderation.ValidationError
		var terr *moderation.InvalidTransitionError
		switch {
		case errors.Is(err, models.ErrNotFound):
			s.Metrics.IncrementRequests(endpoint, method, "404")
			http.Error(w, "submission not found", http.StatusNotFound)
		case errors.As(err, &verr):
			s.Metrics.IncrementRequests(endpoint, method, "400")
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.As(err, &terr):
			s.Metrics.IncrementRequests(endpoint, method, "409")
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			middleware.LoggerFromRequest(r, s.Logger).Error("decision failed", zap.Error(err), zap.String("submission_id", id))
			s.Metrics.IncrementRequests(endpoint, method, "500")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
		return
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	writeJSON(w, sub)
}

// tokenRequest is the body for POST /submissions/{id}/token.
type tokenRequest struct {
	ReviewerID int64  `json:"reviewer_id"`
	Decision   string `json:"decision"`
}

// ReviewTokenHandler mints a signed single-purpose decision token, e.g. for
// embedding in reviewer chat buttons.
func (s *Server) ReviewTokenHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "review_token"
	const method = "POST"

	if len(s.TokenSecret) == 0 {
		s.Metrics.IncrementRequests(endpoint, method, "501")
		http.Error(w, "token signing not configured", http.StatusNotImplemented)
		return
	}

	id := mux.Vars(r)["id"]
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	switch req.Decision {
	case models.DecisionApprove, models.DecisionReject, models.DecisionRequestContact:
	default:
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "unknown decision", http.StatusBadRequest)
		return
	}

	tok, err := token.Generate(id, req.ReviewerID, req.Decision, s.TokenSecret)
	if err != nil {
		s.Logger.Error("generate token", zap.Error(err))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	writeJSON(w, map[string]string{"token": tok})
}
