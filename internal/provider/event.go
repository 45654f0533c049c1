package provider

import (
	"fmt"
	"time"
)

// Kind classifies an event's timing shape.
type Kind int

const (
	// KindTimed events carry a concrete start/end instant.
	KindTimed Kind = iota
	// KindAllDay events carry date-only bounds.
	KindAllDay
)

// Event is the normalized form of an EventPayload. Normalize resolves every
// optional chain in the wire shape once, so downstream logic never has to
// re-check nested pointers.
type Event struct {
	ID    string
	Kind  Kind
	Title string

	// Managed is true when the payload carries the task back-reference,
	// i.e. the event was created by this app. Only managed events drive
	// task-side effects.
	Managed    bool
	TaskID     string
	BufferRole string

	// Deleted is true when the provider reports the event removed:
	// status cancelled or an explicit deleted flag.
	Deleted bool
	Status  string

	// Start/End are valid only when the matching Has flag is set; the
	// provider omits times on cancelled delta entries.
	Start    time.Time
	End      time.Time
	HasStart bool
	HasEnd   bool

	RecurringEventID string
}

// Normalize converts a raw provider payload into an Event. All-day dates
// are anchored at midnight in loc.
func Normalize(p EventPayload, loc *time.Location) (Event, error) {
	if p.ID == "" {
		return Event{}, fmt.Errorf("event payload missing id")
	}
	if loc == nil {
		loc = time.Local
	}

	ev := Event{
		ID:               p.ID,
		Title:            p.Summary,
		Status:           p.Status,
		Deleted:          p.Status == "cancelled" || p.Deleted,
		RecurringEventID: p.RecurringEventID,
	}

	if p.ExtendedProperties != nil && p.ExtendedProperties.Private != nil {
		if taskID := p.ExtendedProperties.Private[TaskRefProperty]; taskID != "" {
			ev.Managed = true
			ev.TaskID = taskID
		}
		ev.BufferRole = p.ExtendedProperties.Private[BufferRoleProperty]
	}

	start, allDayStart, err := parseEventTime(p.Start, loc)
	if err != nil {
		return Event{}, fmt.Errorf("event %s start: %w", p.ID, err)
	}
	end, allDayEnd, err := parseEventTime(p.End, loc)
	if err != nil {
		return Event{}, fmt.Errorf("event %s end: %w", p.ID, err)
	}

	if start != nil {
		ev.Start = *start
		ev.HasStart = true
	}
	if end != nil {
		ev.End = *end
		ev.HasEnd = true
	}
	if allDayStart || allDayEnd {
		ev.Kind = KindAllDay
	}

	return ev, nil
}

// parseEventTime resolves the either-or DateTime/Date field. Returns nil
// when the field is absent; a missing time is meaningful to the reschedule
// classifier and must not be invented.
func parseEventTime(t *EventDateTime, loc *time.Location) (*time.Time, bool, error) {
	if t == nil {
		return nil, false, nil
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return nil, false, fmt.Errorf("parsing dateTime %q: %w", t.DateTime, err)
		}
		return &parsed, false, nil
	}
	if t.Date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", t.Date, loc)
		if err != nil {
			return nil, false, fmt.Errorf("parsing date %q: %w", t.Date, err)
		}
		return &parsed, true, nil
	}
	return nil, false, nil
}

// TimedPayload builds the wire shape for a timed event with the task
// back-reference attached.
func TimedPayload(title string, start, end time.Time, taskID, bufferRole string) EventPayload {
	private := map[string]string{TaskRefProperty: taskID}
	if bufferRole != "" {
		private[BufferRoleProperty] = bufferRole
	}
	return EventPayload{
		Summary: title,
		Status:  "confirmed",
		Start:   &EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:     &EventDateTime{DateTime: end.Format(time.RFC3339)},
		ExtendedProperties: &ExtendedProperties{
			Private: private,
		},
	}
}
