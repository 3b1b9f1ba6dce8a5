package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/openmodqueue/openmodqueue/internal/models"
)

// GetBanHandler reports the current ban status for one author. Lapsed
// temporary bans are downgraded on read, so the answer is always current.
func (s *Server) GetBanHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "get_ban"
	const method = "GET"

	userID, err := strconv.ParseInt(mux.Vars(r)["userID"], 10, 64)
	if err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	status, err := s.Bans.Check(r.Context(), userID)
	if err != nil {
		s.Logger.Error("ban check", zap.Error(err), zap.Int64("user_id", userID))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	writeJSON(w, map[string]interface{}{
		"user_id": userID,
		"status":  status,
		"banned":  status != models.BanNone,
	})
}

// ResetBanHandler clears an author's ban record, strikes included.
func (s *Server) ResetBanHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "reset_ban"
	const method = "POST"

	userID, err := strconv.ParseInt(mux.Vars(r)["userID"], 10, 64)
	if err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	if err := s.Bans.Reset(r.Context(), userID); err != nil {
		s.Logger.Error("ban reset", zap.Error(err), zap.Int64("user_id", userID))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.Logger.Info("ban record reset", zap.Int64("user_id", userID))
	s.Metrics.IncrementRequests(endpoint, method, "204")
	w.WriteHeader(http.StatusNoContent)
}
