package model

import "time"

// EventStatus is the provider-reported status of a calendar event.
type EventStatus string

const (
	EventStatusConfirmed EventStatus = "confirmed"
	EventStatusTentative EventStatus = "tentative"
	EventStatusCancelled EventStatus = "cancelled"
)

// BufferRole marks an event as protected buffer time adjacent to a task.
type BufferRole string

const (
	BufferRoleNone   BufferRole = ""
	BufferRoleBefore BufferRole = "before"
	BufferRoleAfter  BufferRole = "after"
)

// CalendarEvent is the local mirror of a provider calendar event. Rows are
// owned by the sync processor; everything else reads them.
type CalendarEvent struct {
	ID         string `json:"id" db:"id"`
	CalendarID string `json:"calendar_id" db:"calendar_id"`
	UserID     string `json:"user_id" db:"user_id"`
	Title      string `json:"title" db:"title"`

	Start  time.Time   `json:"start" db:"start"`
	End    time.Time   `json:"end" db:"end"`
	AllDay bool        `json:"all_day" db:"all_day"`
	Status EventStatus `json:"status" db:"status"`

	// LinkedTaskID is the back-reference to the task this event schedules,
	// carried provider-side as a private extended property. Empty for
	// events not managed by this app.
	LinkedTaskID string `json:"linked_task_id,omitempty" db:"linked_task_id"`

	BufferRole       BufferRole `json:"buffer_role,omitempty" db:"buffer_role"`
	RecurringEventID string     `json:"recurring_event_id,omitempty" db:"recurring_event_id"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Busy reports whether the event blocks time for availability purposes.
func (e *CalendarEvent) Busy() bool {
	return e.Status != EventStatusCancelled
}
