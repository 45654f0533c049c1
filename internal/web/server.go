// Package web exposes the webhook receiver and the JSON API over a plain
// http.ServeMux.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/nhle/brain-dumper/internal/calsync"
	"github.com/nhle/brain-dumper/internal/log"
	"github.com/nhle/brain-dumper/internal/model"
	"github.com/nhle/brain-dumper/internal/proposal"
	"github.com/nhle/brain-dumper/internal/store"
	"github.com/nhle/brain-dumper/internal/watch"
)

// Server wires the sync processor, the proposal coordinator, and the watch
// manager behind HTTP handlers.
type Server struct {
	cfg         *model.AppConfig
	store       store.Store
	processor   *calsync.Processor
	coordinator *proposal.Coordinator
	watches     *watch.Manager
	mux         *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *model.AppConfig, s store.Store, p *calsync.Processor, c *proposal.Coordinator, w *watch.Manager) *Server {
	srv := &Server{
		cfg:         cfg,
		store:       s,
		processor:   p,
		coordinator: c,
		watches:     w,
		mux:         http.NewServeMux(),
	}
	srv.registerRoutes()
	return srv
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/webhook/calendar", s.handleWebhook)

	s.mux.HandleFunc("/api/availability", s.handleAvailability)
	s.mux.HandleFunc("/api/sync", s.handleSync)
	s.mux.HandleFunc("/api/suggestions", s.handleSuggestions)
	s.mux.HandleFunc("/api/schedule/propose", s.handlePropose)
	s.mux.HandleFunc("/api/schedule/confirm", s.handleConfirm)
	s.mux.HandleFunc("/api/tasks/schedule", s.handleScheduleTask)
	s.mux.HandleFunc("/api/tasks/unschedule", s.handleUnscheduleTask)
	s.mux.HandleFunc("/api/tasks/reschedule", s.handleRescheduleTask)
	s.mux.HandleFunc("/api/calendars/watch", s.handleWatchCalendar)
	s.mux.HandleFunc("/api/calendars/unwatch", s.handleUnwatchCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// userID resolves the acting user: an explicit field wins, otherwise the
// configured default.
func (s *Server) userID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s.cfg.DefaultUserID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("writing JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// decodeBody parses a JSON request body into v, rejecting non-POST
// methods first.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
