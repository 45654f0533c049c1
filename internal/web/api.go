package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nhle/brain-dumper/internal/log"
	"github.com/nhle/brain-dumper/internal/model"
	"github.com/nhle/brain-dumper/internal/proposal"
	"github.com/nhle/brain-dumper/internal/provider"
)

// writeProviderError maps provider failures onto user-facing responses.
// An expired or revoked token is not retryable server-side; the user has
// to reconnect the calendar, so it gets its own status and message.
func writeProviderError(w http.ResponseWriter, err error, fallback string) {
	if provider.IsAuthError(err) {
		writeError(w, http.StatusUnauthorized,
			"calendar authorization expired, please reconnect your calendar")
		return
	}
	writeError(w, http.StatusInternalServerError, fallback)
}

// availabilityRequest asks for the free/busy picture over a date range.
// Dates are YYYY-MM-DD; instants are RFC 3339.
type availabilityRequest struct {
	UserID      string              `json:"user_id,omitempty"`
	CalendarIDs []string            `json:"calendar_ids,omitempty"`
	StartDate   string              `json:"start_date"`
	EndDate     string              `json:"end_date"`
	WorkingHrs  *model.WorkingHours `json:"working_hours,omitempty"`
	Refresh     bool                `json:"refresh,omitempty"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	loc := s.location()
	start, err := parseDateOrTime(req.StartDate, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_date: "+err.Error())
		return
	}
	end, err := parseDateOrTime(req.EndDate, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_date: "+err.Error())
		return
	}
	if !start.Before(end) {
		writeError(w, http.StatusBadRequest, "start_date must precede end_date")
		return
	}

	windows, err := s.coordinator.GetAvailability(r.Context(),
		s.userID(req.UserID), req.CalendarIDs, start, end, req.WorkingHrs, req.Refresh)
	if err != nil {
		log.Error("computing availability", err)
		writeError(w, http.StatusInternalServerError, "failed to compute availability")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

type syncRequest struct {
	UserID     string `json:"user_id,omitempty"`
	CalendarID string `json:"calendar_id"`
	FullSync   bool   `json:"full_sync,omitempty"`
}

type syncResponse struct {
	Success       bool `json:"success"`
	EventsUpdated int  `json:"events_updated"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CalendarID == "" {
		writeError(w, http.StatusBadRequest, "calendar_id is required")
		return
	}

	updated, err := s.processor.SyncCalendar(r.Context(), s.userID(req.UserID), req.CalendarID, req.FullSync)
	if err != nil {
		log.Error("manual sync", err, "calendar_id", req.CalendarID)
		writeProviderError(w, err, "sync failed")
		return
	}
	s.coordinator.InvalidateAvailability()

	writeJSON(w, http.StatusOK, syncResponse{Success: true, EventsUpdated: updated})
}

type suggestionsRequest struct {
	UserID string `json:"user_id,omitempty"`
	TaskID string `json:"task_id"`
	Count  int    `json:"count,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	loc := s.location()
	var from, to *time.Time
	if req.From != "" {
		t, err := parseDateOrTime(req.From, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
		from = &t
	}
	if req.To != "" {
		t, err := parseDateOrTime(req.To, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
		to = &t
	}

	suggestions, err := s.coordinator.Suggestions(r.Context(), s.userID(req.UserID), req.TaskID, req.Count, from, to)
	if err != nil {
		log.Error("computing suggestions", err, "task_id", req.TaskID)
		writeError(w, http.StatusInternalServerError, "failed to compute suggestions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

type proposeRequest struct {
	UserID      string   `json:"user_id,omitempty"`
	TaskIDs     []string `json:"task_ids"`
	CalendarIDs []string `json:"calendar_ids,omitempty"`
	// CalendarID is where confirmed events are created; defaults to
	// "primary".
	CalendarID string `json:"calendar_id,omitempty"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tasks := make([]model.Task, 0, len(req.TaskIDs))
	for _, id := range req.TaskIDs {
		task, err := s.store.GetTaskByID(r.Context(), id)
		if err != nil {
			log.Error("loading task for proposal", err, "task_id", id)
			writeError(w, http.StatusInternalServerError, "failed to load tasks")
			return
		}
		if task == nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("task %s not found", id))
			return
		}
		tasks = append(tasks, *task)
	}

	calendarID := req.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	prop, err := s.coordinator.Propose(r.Context(), s.userID(req.UserID), tasks, proposal.ProposeOptions{
		CalendarIDs: req.CalendarIDs,
		CalendarID:  calendarID,
	})
	if err != nil {
		log.Error("generating proposal", err)
		writeError(w, http.StatusInternalServerError, "failed to generate proposal")
		return
	}
	if prop == nil {
		// Nothing to schedule; no proposal is held.
		writeJSON(w, http.StatusOK, map[string]any{"proposal": nil})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"proposal": prop})
}

type confirmRequest struct {
	ProposalID            string           `json:"proposal_id"`
	Approvals             []model.Approval `json:"approvals"`
	DisplacementsApproved []string         `json:"displacements_approved,omitempty"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProposalID == "" {
		writeError(w, http.StatusBadRequest, "proposal_id is required")
		return
	}

	result, err := s.coordinator.Confirm(r.Context(), req.ProposalID, req.Approvals, req.DisplacementsApproved)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.coordinator.InvalidateAvailability()

	writeJSON(w, http.StatusOK, result)
}

type taskSlotRequest struct {
	TaskID     string `json:"task_id"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
	CalendarID string `json:"calendar_id,omitempty"`
}

// slot parses the request's start/end instants.
func (req taskSlotRequest) slot() (model.TimeSlot, error) {
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return model.TimeSlot{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		return model.TimeSlot{}, fmt.Errorf("invalid end: %w", err)
	}
	if !start.Before(end) {
		return model.TimeSlot{}, fmt.Errorf("start must precede end")
	}
	return model.TimeSlot{Start: start, End: end, Available: true}, nil
}

func (s *Server) handleScheduleTask(w http.ResponseWriter, r *http.Request) {
	var req taskSlotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	slot, err := req.slot()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.coordinator.ScheduleTask(r.Context(), req.TaskID, slot, req.CalendarID); err != nil {
		log.Error("scheduling task", err, "task_id", req.TaskID)
		writeProviderError(w, err, err.Error())
		return
	}
	s.coordinator.InvalidateAvailability()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUnscheduleTask(w http.ResponseWriter, r *http.Request) {
	var req taskSlotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	if err := s.coordinator.UnscheduleTask(r.Context(), req.TaskID); err != nil {
		log.Error("unscheduling task", err, "task_id", req.TaskID)
		writeProviderError(w, err, err.Error())
		return
	}
	s.coordinator.InvalidateAvailability()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRescheduleTask(w http.ResponseWriter, r *http.Request) {
	var req taskSlotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	slot, err := req.slot()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.coordinator.RescheduleTask(r.Context(), req.TaskID, slot, req.CalendarID); err != nil {
		log.Error("rescheduling task", err, "task_id", req.TaskID)
		writeProviderError(w, err, err.Error())
		return
	}
	s.coordinator.InvalidateAvailability()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type watchRequest struct {
	UserID     string `json:"user_id,omitempty"`
	CalendarID string `json:"calendar_id"`
}

func (s *Server) handleWatchCalendar(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CalendarID == "" {
		writeError(w, http.StatusBadRequest, "calendar_id is required")
		return
	}

	sub, err := s.watches.Create(r.Context(), s.userID(req.UserID), req.CalendarID)
	if err != nil {
		log.Error("creating watch channel", err, "calendar_id", req.CalendarID)
		writeProviderError(w, err, "failed to create watch channel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
}

func (s *Server) handleUnwatchCalendar(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CalendarID == "" {
		writeError(w, http.StatusBadRequest, "calendar_id is required")
		return
	}

	if err := s.watches.Disconnect(r.Context(), s.userID(req.UserID), req.CalendarID); err != nil {
		log.Error("disconnecting watch channel", err, "calendar_id", req.CalendarID)
		writeProviderError(w, err, "failed to disconnect")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// location resolves the configured scheduling timezone, falling back to
// local time.
func (s *Server) location() *time.Location {
	name := s.cfg.Scheduling.Timezone
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn("invalid configured timezone, using local", "timezone", name)
		return time.Local
	}
	return loc
}

// parseDateOrTime accepts either a YYYY-MM-DD date (anchored at midnight
// in loc) or an RFC 3339 instant.
func parseDateOrTime(s string, loc *time.Location) (time.Time, error) {
	if len(s) == len("2006-01-02") {
		return time.ParseInLocation("2006-01-02", s, loc)
	}
	return time.Parse(time.RFC3339, s)
}
