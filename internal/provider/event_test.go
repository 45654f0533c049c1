package provider

import (
	"testing"
	"time"
)

func TestNormalizeManagedTimedEvent(t *testing.T) {
	payload := EventPayload{
		ID:      "evt-1",
		Summary: "Write quarterly report",
		Status:  "confirmed",
		Start:   &EventDateTime{DateTime: "2026-03-02T10:00:00Z"},
		End:     &EventDateTime{DateTime: "2026-03-02T11:30:00Z"},
		ExtendedProperties: &ExtendedProperties{
			Private: map[string]string{TaskRefProperty: "task-1"},
		},
	}

	ev, err := Normalize(payload, time.UTC)
	if err != nil {
		t.Fatalf("normalizing: %v", err)
	}
	if !ev.Managed || ev.TaskID != "task-1" {
		t.Errorf("managed=%v taskID=%q, want managed task-1", ev.Managed, ev.TaskID)
	}
	if ev.Kind != KindTimed {
		t.Errorf("kind = %v, want timed", ev.Kind)
	}
	if ev.Deleted {
		t.Error("confirmed event must not be deleted")
	}
	if !ev.HasStart || !ev.HasEnd {
		t.Fatal("both bounds must be present")
	}
	if got := ev.End.Sub(ev.Start); got != 90*time.Minute {
		t.Errorf("duration = %v, want 90m", got)
	}
}

func TestNormalizeUnmanagedEvent(t *testing.T) {
	ev, err := Normalize(EventPayload{
		ID:     "evt-2",
		Status: "confirmed",
		Start:  &EventDateTime{DateTime: "2026-03-02T10:00:00Z"},
		End:    &EventDateTime{DateTime: "2026-03-02T11:00:00Z"},
	}, time.UTC)
	if err != nil {
		t.Fatalf("normalizing: %v", err)
	}
	if ev.Managed || ev.TaskID != "" {
		t.Errorf("event without back-reference must not be managed: %+v", ev)
	}
}

func TestNormalizeAllDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("loading location: %v", err)
	}

	ev, err := Normalize(EventPayload{
		ID:    "evt-3",
		Start: &EventDateTime{Date: "2026-03-02"},
		End:   &EventDateTime{Date: "2026-03-03"},
	}, loc)
	if err != nil {
		t.Fatalf("normalizing: %v", err)
	}
	if ev.Kind != KindAllDay {
		t.Fatalf("kind = %v, want all-day", ev.Kind)
	}
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	if !ev.Start.Equal(want) {
		t.Errorf("start = %v, want midnight in loc %v", ev.Start, want)
	}
}

func TestNormalizeCancelledWithoutTimes(t *testing.T) {
	ev, err := Normalize(EventPayload{ID: "evt-4", Status: "cancelled"}, time.UTC)
	if err != nil {
		t.Fatalf("normalizing: %v", err)
	}
	if !ev.Deleted {
		t.Error("cancelled status must mark the event deleted")
	}
	if ev.HasStart || ev.HasEnd {
		t.Error("absent times must not be invented")
	}
}

func TestNormalizeDeletedFlag(t *testing.T) {
	ev, err := Normalize(EventPayload{ID: "evt-5", Status: "confirmed", Deleted: true}, time.UTC)
	if err != nil {
		t.Fatalf("normalizing: %v", err)
	}
	if !ev.Deleted {
		t.Error("explicit deleted flag must mark the event deleted")
	}
}

func TestNormalizeMissingID(t *testing.T) {
	if _, err := Normalize(EventPayload{}, time.UTC); err == nil {
		t.Fatal("payload without id must be rejected")
	}
}

func TestNormalizeBufferRole(t *testing.T) {
	ev, err := Normalize(EventPayload{
		ID: "evt-6",
		ExtendedProperties: &ExtendedProperties{
			Private: map[string]string{
				TaskRefProperty:    "task-1",
				BufferRoleProperty: "before",
			},
		},
	}, time.UTC)
	if err != nil {
		t.Fatalf("normalizing: %v", err)
	}
	if ev.BufferRole != "before" {
		t.Errorf("buffer role = %q, want before", ev.BufferRole)
	}
}

func TestTimedPayloadCarriesBackReference(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	payload := TimedPayload("Deep work", start, start.Add(time.Hour), "task-1", "")

	if payload.ExtendedProperties == nil ||
		payload.ExtendedProperties.Private[TaskRefProperty] != "task-1" {
		t.Fatal("payload must carry the task back-reference")
	}
	if _, ok := payload.ExtendedProperties.Private[BufferRoleProperty]; ok {
		t.Error("non-buffer payload must not carry a buffer role")
	}

	ev, err := Normalize(EventPayload{ID: "evt-7", Summary: payload.Summary,
		Status: payload.Status, Start: payload.Start, End: payload.End,
		ExtendedProperties: payload.ExtendedProperties}, time.UTC)
	if err != nil {
		t.Fatalf("normalizing built payload: %v", err)
	}
	if !ev.Managed || !ev.Start.Equal(start) {
		t.Errorf("built payload did not normalize back: %+v", ev)
	}
}
