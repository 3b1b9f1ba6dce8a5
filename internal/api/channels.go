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
)

// ListChannelsHandler returns every registered publication target.
func (s *Server) ListChannelsHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "list_channels"
	const method = "GET"

	channels, err := s.Cache.AllChannels(r.Context())
	if err != nil {
		s.Logger.Error("list channels", zap.Error(err))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
	writeJSON(w, map[string]interface{}{
		"version":  s.Cache.Version(),
		"channels": channels,
	})
}

// GetChannelHandler returns one publication target.
func (s *Server) GetChannelHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "get_channel"
	const method = "GET"

	id := mux.Vars(r)["id"]
	ch, err := s.Cache.GetChannel(id)
	if err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "404")
		http.Error(w, "channel not found", http.StatusNotFound)
		return
	}

	s.Metrics.IncrementRequests(endpoint, method, "200")
	writeJSON(w, ch)
}

// CreateChannelHandler registers a new publication target and notifies other
// instances to reload.
func (s *Server) CreateChannelHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "create_channel"
	const method = "POST"

	var ch models.ChannelTarget
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if ch.ID == "" || ch.Name == "" {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "id and name are required", http.StatusBadRequest)
		return
	}
	switch ch.Kind {
	case models.ChannelKindChannel, models.ChannelKindGroup:
	case "":
		ch.Kind = models.ChannelKindChannel
	default:
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "unknown channel kind", http.StatusBadRequest)
		return
	}
	ch.Origin = models.OriginCustom

	if err := s.Store.InsertChannel(r.Context(), ch); err != nil {
		if errors.Is(err, models.ErrDuplicateChannel) {
			s.Metrics.IncrementRequests(endpoint, method, "409")
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.Logger.Error("insert channel", zap.Error(err), zap.String("channel_id", ch.ID))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.afterChannelMutation(r.Context(), "create", ch.ID)

	s.Metrics.IncrementRequests(endpoint, method, "201")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, ch)
}

// UpdateChannelHandler replaces an existing publication target.
func (s *Server) UpdateChannelHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "update_channel"
	const method = "PUT"

	id := mux.Vars(r)["id"]
	var ch models.ChannelTarget
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		s.Metrics.IncrementRequests(endpoint, method, "400")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	ch.ID = id

	if err := s.Store.UpdateChannel(r.Context(), ch); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.Metrics.IncrementRequests(endpoint, method, "404")
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		s.Logger.Error("update channel", zap.Error(err), zap.String("channel_id", id))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.afterChannelMutation(r.Context(), "update", id)

	s.Metrics.IncrementRequests(endpoint, method, "200")
	writeJSON(w, ch)
}

// DeleteChannelHandler removes a publication target.
func (s *Server) DeleteChannelHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "delete_channel"
	const method = "DELETE"

	id := mux.Vars(r)["id"]
	if err := s.Store.DeleteChannel(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.Metrics.IncrementRequests(endpoint, method, "404")
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		s.Logger.Error("delete channel", zap.Error(err), zap.String("channel_id", id))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.afterChannelMutation(r.Context(), "delete", id)

	s.Metrics.IncrementRequests(endpoint, method, "204")
	w.WriteHeader(http.StatusNoContent)
}

// EnableChannelHandler re-includes a target in publication fan-out.
func (s *Server) EnableChannelHandler(w http.ResponseWriter, r *http.Request) {
	s.setChannelEnabled(w, r, "enable_channel", true)
}

// DisableChannelHandler excludes a target from publication fan-out without
// deleting its configuration.
func (s *Server) DisableChannelHandler(w http.ResponseWriter, r *http.Request) {
	s.setChannelEnabled(w, r, "disable_channel", false)
}

func (s *Server) setChannelEnabled(w http.ResponseWriter, r *http.Request, endpoint string, enabled bool) {
	const method = "POST"

	id := mux.Vars(r)["id"]
	if err := s.Store.SetChannelEnabled(r.Context(), id, enabled); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.Metrics.IncrementRequests(endpoint, method, "404")
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		s.Logger.Error("toggle channel", zap.Error(err), zap.String("channel_id", id))
		s.Metrics.IncrementRequests(endpoint, method, "500")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	action := "disable"
	if enabled {
		action = "enable"
	}
	s.afterChannelMutation(r.Context(), action, id)

	s.Metrics.IncrementRequests(endpoint, method, "204")
	w.WriteHeader(http.StatusNoContent)
}

// afterChannelMutation refreshes the local cache and broadcasts the change so
// other instances reload theirs.
func (s *Server) afterChannelMutation(ctx context.Context, action, id string) {
	if err := s.Cache.Invalidate(ctx); err != nil {
		s.Logger.Warn("cache refresh after channel mutation failed", zap.Error(err), zap.String("channel_id", id))
	}
	s.notifyUpdate(action, id)
}
