package model

import "time"

// Priority is the scheduling priority of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank of a priority (lower sorts first).
// Unknown priorities rank after low so malformed data never jumps the queue.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// Sync status constants for a task's calendar linkage.
const (
	SyncStatusPendingUnscheduled = "pending_unscheduled"
	SyncStatusScheduled          = "scheduled"
	SyncStatusSynced             = "synced"
	SyncStatusError              = "sync_error"
)

// Unscheduled-reason constants written when a task loses its calendar slot.
const (
	ReasonEventDeleted     = "calendar_event_deleted"
	ReasonNoAvailableSlot  = "no_available_slot"
	ReasonManuallyRemoved  = "manually_unscheduled"
	ReasonDisplacedDropped = "displaced_no_replacement_slot"
)

// Task is a unit of work extracted from the user's notes and scheduled onto
// a calendar slot through the proposal workflow. Only scheduling-relevant
// fields live here; the extraction service owns the rest of the document.
type Task struct {
	ID      string `json:"id" db:"id"`
	UserID  string `json:"user_id" db:"user_id"`
	Content string `json:"content" db:"content"`

	// TaskType selects the buffer/preference rule applied when the task
	// is placed (e.g. "deep_work", "call", "errand").
	TaskType string `json:"task_type" db:"task_type"`

	Priority Priority `json:"priority" db:"priority"`

	// TimeEstimate is the expected duration in minutes.
	TimeEstimate int `json:"time_estimate" db:"time_estimate"`

	DueDate *time.Time `json:"due_date,omitempty" db:"due_date"`

	// ScheduledStart/End are set iff the task holds a calendar slot
	// (CalendarEventID non-empty and SyncStatus != pending_unscheduled).
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty" db:"scheduled_start"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty" db:"scheduled_end"`
	CalendarEventID string     `json:"calendar_event_id,omitempty" db:"calendar_event_id"`
	CalendarID      string     `json:"calendar_id,omitempty" db:"calendar_id"`

	// UnscheduledReason explains why the task has no slot (see Reason*).
	UnscheduledReason string `json:"unscheduled_reason,omitempty" db:"unscheduled_reason"`

	// RescheduledExternally is set when the linked provider event was
	// moved outside the app and the new time was adopted.
	RescheduledExternally bool `json:"rescheduled_externally,omitempty" db:"rescheduled_externally"`

	SyncStatus string `json:"sync_status" db:"sync_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsScheduled reports whether the task currently holds a calendar slot.
func (t *Task) IsScheduled() bool {
	return t.CalendarEventID != "" &&
		t.ScheduledStart != nil && t.ScheduledEnd != nil &&
		t.SyncStatus != SyncStatusPendingUnscheduled
}
