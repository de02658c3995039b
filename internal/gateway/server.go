// Package gateway exposes the controller to the presentation layer over
// local HTTP and a WebSocket state feed.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-coach/internal/apperr"
	"github.com/lexiqai/speech-coach/internal/controller"
	"github.com/lexiqai/speech-coach/internal/history"
	"github.com/lexiqai/speech-coach/internal/observability"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Controller is the part of the session controller the gateway drives
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Clear(ctx context.Context) error
	Logout(ctx context.Context) error
	Snapshot() controller.View
	Subscribe(fn controller.Observer) func()
}

// History lists archived analyses
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
	Count(ctx context.Context) (int, error)
}

type response struct {
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	State   *controller.View `json:"state,omitempty"`
}

type historyResponse struct {
	Success         bool            `json:"success"`
	AnalysisHistory []history.Entry `json:"analysis_history"`
	SessionCount    int             `json:"session_count"`
}

// Server routes gateway requests
type Server struct {
	ctrl    Controller
	history History
	hub     *Hub
	origins *OriginPolicy
	logger  zerolog.Logger

	unsubscribe func()
}

// NewServer wires the controller's view updates into the hub. hist may be
// nil, in which case /api/history reports an empty archive.
func NewServer(ctrl Controller, hist History, origins []string) *Server {
	policy := NewOriginPolicy(origins)
	hub := NewHub(policy)
	return &Server{
		ctrl:        ctrl,
		history:     hist,
		hub:         hub,
		origins:     policy,
		logger:      observability.Component("gateway"),
		unsubscribe: ctrl.Subscribe(hub.Publish),
	}
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Register adds the gateway routes to mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("/api/state", s.origins.Middleware(http.HandlerFunc(s.handleState)))
	mux.Handle("/api/start", s.origins.Middleware(s.action(s.ctrl.Start)))
	mux.Handle("/api/stop", s.origins.Middleware(s.action(s.ctrl.Stop)))
	mux.Handle("/api/clear", s.origins.Middleware(s.action(s.ctrl.Clear)))
	mux.Handle("/api/logout", s.origins.Middleware(s.action(s.ctrl.Logout)))
	mux.Handle("/api/history", s.origins.Middleware(http.HandlerFunc(s.handleHistory)))
	mux.HandleFunc("/ws", s.handleWS)
}

// Close detaches from the controller and disconnects all clients
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.CloseAll()
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v := s.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, response{Success: true, State: &v})
}

func (s *Server) action(fn func(context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		err := fn(r.Context())
		v := s.ctrl.Snapshot()
		if err == nil || errors.Is(err, controller.ErrStartAborted) {
			writeJSON(w, http.StatusOK, response{Success: true, State: &v})
			return
		}

		code := statusFor(err)
		s.logger.Warn().Err(err).Str("path", r.URL.Path).Int("status", code).Msg("Gateway action failed")
		writeJSON(w, code, response{Success: false, Error: apperr.UserMessage(err), State: &v})
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, response{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	resp := historyResponse{Success: true, AnalysisHistory: []history.Entry{}}
	if s.history != nil {
		entries, err := s.history.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to read history")
			writeJSON(w, http.StatusInternalServerError, response{Error: "history unavailable"})
			return
		}
		count, err := s.history.Count(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to count history")
			writeJSON(w, http.StatusInternalServerError, response{Error: "history unavailable"})
			return
		}
		resp.AnalysisHistory = entries
		resp.SessionCount = count
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, s.ctrl.Snapshot())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrBusy):
		return http.StatusConflict
	case apperr.IsKind(err, apperr.KindPermission):
		return http.StatusForbidden
	case apperr.IsKind(err, apperr.KindSession), apperr.IsKind(err, apperr.KindTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.RecordError("encode", "gateway")
	}
}
