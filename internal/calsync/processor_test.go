package calsync_test

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/brain-dumper/internal/calsync"
	"github.com/nhle/brain-dumper/internal/model"
	"github.com/nhle/brain-dumper/internal/provider"
	"github.com/nhle/brain-dumper/internal/store"
	"github.com/nhle/brain-dumper/tests/testutil"
)

// stubRenewer records out-of-band renewal triggers.
type stubRenewer struct {
	triggered []string
}

func (r *stubRenewer) Trigger(channelID string) {
	r.triggered = append(r.triggered, channelID)
}

func newTestProcessor(t *testing.T) (*store.SQLiteStore, *testutil.FakeCalendarAPI, *stubRenewer, *calsync.Processor) {
	t.Helper()
	s := testutil.NewTestStore(t)
	api := testutil.NewFakeCalendarAPI()
	renewer := &stubRenewer{}
	return s, api, renewer, calsync.NewProcessor(s, api, renewer, time.UTC)
}

func managedPayload(eventID, taskID, start, end string) provider.EventPayload {
	p := provider.EventPayload{
		ID:     eventID,
		Status: "confirmed",
		ExtendedProperties: &provider.ExtendedProperties{
			Private: map[string]string{provider.TaskRefProperty: taskID},
		},
	}
	if start != "" {
		p.Start = &provider.EventDateTime{DateTime: start}
	}
	if end != "" {
		p.End = &provider.EventDateTime{DateTime: end}
	}
	return p
}

func scheduledTask(t *testing.T, s *store.SQLiteStore, id, eventID string, start time.Time, minutes int) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertTask(ctx, model.Task{
		ID: id, UserID: "alice", Content: "task " + id,
		TimeEstimate: minutes, SyncStatus: model.SyncStatusPendingUnscheduled,
	}); err != nil {
		t.Fatalf("upserting task %s: %v", id, err)
	}
	if err := s.SetTaskSchedule(ctx, id, start, start.Add(time.Duration(minutes)*time.Minute),
		eventID, "primary", model.SyncStatusSynced); err != nil {
		t.Fatalf("scheduling task %s: %v", id, err)
	}
}

func TestHandleNotificationOutcomes(t *testing.T) {
	s, _, renewer, p := newTestProcessor(t)
	ctx := context.Background()

	live := model.WatchSubscription{
		ID: "chan-live", ResourceID: "res-1", CalendarID: "primary", UserID: "alice",
		Expiration: time.Now().Add(24 * time.Hour), ChannelToken: "alice:primary",
		CreatedAt: time.Now(),
	}
	if err := s.UpsertSubscription(ctx, live); err != nil {
		t.Fatalf("upserting subscription: %v", err)
	}
	expired := model.WatchSubscription{
		ID: "chan-expired", ResourceID: "res-2", CalendarID: "secondary", UserID: "alice",
		Expiration: time.Now().Add(-time.Hour), ChannelToken: "alice:secondary",
		CreatedAt: time.Now().Add(-8 * 24 * time.Hour),
	}
	if err := s.UpsertSubscription(ctx, expired); err != nil {
		t.Fatalf("upserting expired subscription: %v", err)
	}

	cases := []struct {
		name string
		n    calsync.Notification
		want calsync.Outcome
	}{
		{"unrecognized state ignored",
			calsync.Notification{ChannelID: "chan-live", ResourceState: "weird", Token: "alice:primary"},
			calsync.OutcomeIgnored},
		{"unknown channel acknowledged",
			calsync.Notification{ChannelID: "chan-gone", ResourceState: "exists", Token: "alice:primary"},
			calsync.OutcomeUnknownChannel},
		{"bad token rejected",
			calsync.Notification{ChannelID: "chan-live", ResourceState: "exists", Token: "mallory:primary"},
			calsync.OutcomeInvalidToken},
		{"sync state confirms channel",
			calsync.Notification{ChannelID: "chan-live", ResourceState: "sync", Token: "alice:primary"},
			calsync.OutcomeChannelConfirmed},
		{"expired channel skips delta",
			calsync.Notification{ChannelID: "chan-expired", ResourceState: "exists", Token: "alice:secondary"},
			calsync.OutcomeChannelExpired},
		{"live channel processes",
			calsync.Notification{ChannelID: "chan-live", ResourceState: "exists", Token: "alice:primary"},
			calsync.OutcomeProcessed},
	}
	for _, tc := range cases {
		got, err := p.HandleNotification(ctx, tc.n)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: outcome = %v, want %v", tc.name, got, tc.want)
		}
	}

	if len(renewer.triggered) != 1 || renewer.triggered[0] != "chan-expired" {
		t.Errorf("renewal triggers = %v, want [chan-expired]", renewer.triggered)
	}
}

func TestSyncCalendarCursorExpiredRecovery(t *testing.T) {
	s, api, _, p := newTestProcessor(t)
	ctx := context.Background()

	if err := s.SetCursor(ctx, model.SyncCursor{
		UserID: "alice", CalendarID: "primary", Token: "stale-token", LastSyncAt: time.Now(),
	}); err != nil {
		t.Fatalf("setting stale cursor: %v", err)
	}

	api.DeltaErr = &provider.CursorExpiredError{CalendarID: "primary"}
	api.ManagedResponse = &provider.DeltaResponse{
		Items: []provider.EventPayload{
			managedPayload("evt-1", "task-1", "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z"),
		},
		NextSyncToken: "fresh-token",
	}

	if _, err := p.SyncCalendar(ctx, "alice", "primary", false); err != nil {
		t.Fatalf("sync after cursor expiry: %v", err)
	}

	if api.DeltaCalls != 1 || api.ManagedCalls != 1 {
		t.Errorf("calls delta=%d managed=%d, want 1/1", api.DeltaCalls, api.ManagedCalls)
	}

	cur, err := s.GetCursor(ctx, "alice", "primary")
	if err != nil {
		t.Fatalf("getting cursor: %v", err)
	}
	if cur == nil || cur.Token != "fresh-token" {
		t.Fatalf("cursor = %+v, want fresh-token from the full resync", cur)
	}

	ev, err := s.GetEventByID(ctx, "evt-1")
	if err != nil {
		t.Fatalf("getting mirrored event: %v", err)
	}
	if ev == nil {
		t.Fatal("full-resync event not mirrored")
	}
}

func TestExternalDeleteUnschedulesTask(t *testing.T) {
	s, api, _, p := newTestProcessor(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	scheduledTask(t, s, "task-1", "evt-1", start, 60)
	if err := s.UpsertEvent(ctx, model.CalendarEvent{
		ID: "evt-1", CalendarID: "primary", UserID: "alice", Title: "task task-1",
		Start: start, End: start.Add(time.Hour), Status: model.EventStatusConfirmed,
		LinkedTaskID: "task-1",
	}); err != nil {
		t.Fatalf("mirroring event: %v", err)
	}
	if err := s.SetCursor(ctx, model.SyncCursor{
		UserID: "alice", CalendarID: "primary", Token: "tok", LastSyncAt: time.Now(),
	}); err != nil {
		t.Fatalf("setting cursor: %v", err)
	}

	// Cancelled delta entries arrive without times.
	deleted := managedPayload("evt-1", "task-1", "", "")
	deleted.Status = "cancelled"
	api.DeltaResponse = &provider.DeltaResponse{
		Items:         []provider.EventPayload{deleted},
		NextSyncToken: "tok-2",
	}

	updated, err := p.SyncCalendar(ctx, "alice", "primary", false)
	if err != nil {
		t.Fatalf("syncing: %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}

	task, err := s.GetTaskByID(ctx, "task-1")
	if err != nil {
		t.Fatalf("getting task: %v", err)
	}
	if task.IsScheduled() {
		t.Error("task must be unscheduled after external delete")
	}
	if task.UnscheduledReason != model.ReasonEventDeleted {
		t.Errorf("reason = %q, want %q", task.UnscheduledReason, model.ReasonEventDeleted)
	}

	ev, err := s.GetEventByID(ctx, "evt-1")
	if err != nil {
		t.Fatalf("getting event: %v", err)
	}
	if ev != nil {
		t.Error("mirrored event must be removed")
	}

	// Replaying the same delta is a no-op: the task no longer links the
	// event, so the change is stale.
	updated, err = p.SyncCalendar(ctx, "alice", "primary", false)
	if err != nil {
		t.Fatalf("replaying delta: %v", err)
	}
	if updated != 0 {
		t.Errorf("replay updated = %d, want 0", updated)
	}
}

func TestRescheduleTolerance(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		shift   time.Duration
		adopted bool
	}{
		{"30s shift is provider rounding", 30 * time.Second, false},
		{"60s shift is still within tolerance", 60 * time.Second, false},
		{"61s shift crosses the tolerance", 61 * time.Second, true},
		{"2m shift is a real reschedule", 2 * time.Minute, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, api, _, p := newTestProcessor(t)
			ctx := context.Background()

			scheduledTask(t, s, "task-1", "evt-1", start, 60)
			if err := s.SetCursor(ctx, model.SyncCursor{
				UserID: "alice", CalendarID: "primary", Token: "tok", LastSyncAt: time.Now(),
			}); err != nil {
				t.Fatalf("setting cursor: %v", err)
			}

			moved := start.Add(tc.shift)
			api.DeltaResponse = &provider.DeltaResponse{
				Items: []provider.EventPayload{managedPayload("evt-1", "task-1",
					moved.Format(time.RFC3339), moved.Add(time.Hour).Format(time.RFC3339))},
				NextSyncToken: "tok-2",
			}

			updated, err := p.SyncCalendar(ctx, "alice", "primary", false)
			if err != nil {
				t.Fatalf("syncing: %v", err)
			}

			task, err := s.GetTaskByID(ctx, "task-1")
			if err != nil {
				t.Fatalf("getting task: %v", err)
			}
			if tc.adopted {
				if updated != 1 || !task.RescheduledExternally {
					t.Errorf("shift %v not adopted: updated=%d flag=%v", tc.shift, updated, task.RescheduledExternally)
				}
				if !task.ScheduledStart.Equal(moved) {
					t.Errorf("scheduled start = %v, want %v", task.ScheduledStart, moved)
				}
			} else {
				if updated != 0 || task.RescheduledExternally {
					t.Errorf("shift %v wrongly adopted: updated=%d flag=%v", tc.shift, updated, task.RescheduledExternally)
				}
				if !task.ScheduledStart.Equal(start) {
					t.Errorf("scheduled start moved to %v, want %v", task.ScheduledStart, start)
				}
			}
		})
	}
}

func TestMissingNewTimeIsNotAReschedule(t *testing.T) {
	s, api, _, p := newTestProcessor(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	scheduledTask(t, s, "task-1", "evt-1", start, 60)
	if err := s.SetCursor(ctx, model.SyncCursor{
		UserID: "alice", CalendarID: "primary", Token: "tok", LastSyncAt: time.Now(),
	}); err != nil {
		t.Fatalf("setting cursor: %v", err)
	}

	// The payload carries only a start, matching the stored one; the
	// absent end must not count as a change.
	api.DeltaResponse = &provider.DeltaResponse{
		Items:         []provider.EventPayload{managedPayload("evt-1", "task-1", start.Format(time.RFC3339), "")},
		NextSyncToken: "tok-2",
	}

	updated, err := p.SyncCalendar(ctx, "alice", "primary", false)
	if err != nil {
		t.Fatalf("syncing: %v", err)
	}
	if updated != 0 {
		t.Errorf("updated = %d, want 0 for a payload without new times", updated)
	}

	task, err := s.GetTaskByID(ctx, "task-1")
	if err != nil {
		t.Fatalf("getting task: %v", err)
	}
	if task.RescheduledExternally {
		t.Error("absent bound wrongly adopted as a reschedule")
	}
	if !task.ScheduledEnd.Equal(start.Add(time.Hour)) {
		t.Errorf("scheduled end = %v, want unchanged %v", task.ScheduledEnd, start.Add(time.Hour))
	}
}

func TestMissingStoredTimeIsAlwaysAReschedule(t *testing.T) {
	s, api, _, p := newTestProcessor(t)
	ctx := context.Background()

	// The task links an event but holds no times of its own, so any timed
	// payload is an adoption regardless of tolerance.
	if err := s.UpsertTask(ctx, model.Task{
		ID: "task-1", UserID: "alice", Content: "task task-1",
		TimeEstimate: 60, CalendarEventID: "evt-1", CalendarID: "primary",
		SyncStatus: model.SyncStatusError,
	}); err != nil {
		t.Fatalf("upserting task: %v", err)
	}
	if err := s.SetCursor(ctx, model.SyncCursor{
		UserID: "alice", CalendarID: "primary", Token: "tok", LastSyncAt: time.Now(),
	}); err != nil {
		t.Fatalf("setting cursor: %v", err)
	}

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	api.DeltaResponse = &provider.DeltaResponse{
		Items: []provider.EventPayload{managedPayload("evt-1", "task-1",
			start.Format(time.RFC3339), start.Add(time.Hour).Format(time.RFC3339))},
		NextSyncToken: "tok-2",
	}

	updated, err := p.SyncCalendar(ctx, "alice", "primary", false)
	if err != nil {
		t.Fatalf("syncing: %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}

	task, err := s.GetTaskByID(ctx, "task-1")
	if err != nil {
		t.Fatalf("getting task: %v", err)
	}
	if task.ScheduledStart == nil || !task.ScheduledStart.Equal(start) {
		t.Errorf("scheduled start = %v, want adopted %v", task.ScheduledStart, start)
	}
	if !task.RescheduledExternally {
		t.Error("adoption must set the external-reschedule flag")
	}
}

func TestStaleEventChangeIgnored(t *testing.T) {
	s, api, _, p := newTestProcessor(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	// The task has since been relinked to evt-2; a change on evt-1 is stale.
	scheduledTask(t, s, "task-1", "evt-2", start, 60)
	if err := s.SetCursor(ctx, model.SyncCursor{
		UserID: "alice", CalendarID: "primary", Token: "tok", LastSyncAt: time.Now(),
	}); err != nil {
		t.Fatalf("setting cursor: %v", err)
	}

	moved := start.Add(3 * time.Hour)
	api.DeltaResponse = &provider.DeltaResponse{
		Items: []provider.EventPayload{managedPayload("evt-1", "task-1",
			moved.Format(time.RFC3339), moved.Add(time.Hour).Format(time.RFC3339))},
		NextSyncToken: "tok-2",
	}

	updated, err := p.SyncCalendar(ctx, "alice", "primary", false)
	if err != nil {
		t.Fatalf("syncing: %v", err)
	}
	if updated != 0 {
		t.Errorf("updated = %d, want 0 for stale event", updated)
	}

	task, err := s.GetTaskByID(ctx, "task-1")
	if err != nil {
		t.Fatalf("getting task: %v", err)
	}
	if !task.ScheduledStart.Equal(start) {
		t.Errorf("stale change moved the task to %v", task.ScheduledStart)
	}
}

func TestExternalEditNeverCreatesTask(t *testing.T) {
	s, api, _, p := newTestProcessor(t)
	ctx := context.Background()

	if err := s.SetCursor(ctx, model.SyncCursor{
		UserID: "alice", CalendarID: "primary", Token: "tok", LastSyncAt: time.Now(),
	}); err != nil {
		t.Fatalf("setting cursor: %v", err)
	}

	api.DeltaResponse = &provider.DeltaResponse{
		Items: []provider.EventPayload{managedPayload("evt-9", "task-ghost",
			"2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z")},
		NextSyncToken: "tok-2",
	}

	updated, err := p.SyncCalendar(ctx, "alice", "primary", false)
	if err != nil {
		t.Fatalf("syncing: %v", err)
	}
	if updated != 0 {
		t.Errorf("updated = %d, want 0", updated)
	}

	task, err := s.GetTaskByID(ctx, "task-ghost")
	if err != nil {
		t.Fatalf("getting task: %v", err)
	}
	if task != nil {
		t.Fatal("sync must never create tasks")
	}
}
