package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/brain-dumper/internal/model"
	"github.com/nhle/brain-dumper/internal/store"
	"github.com/nhle/brain-dumper/tests/testutil"
)

func TestTaskScheduleLifecycle(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	task := model.Task{
		ID:           "task-1",
		UserID:       "alice",
		Content:      "Write quarterly report",
		TaskType:     "deep_work",
		Priority:     model.PriorityHigh,
		TimeEstimate: 90,
		SyncStatus:   model.SyncStatusPendingUnscheduled,
	}
	if err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("upserting task: %v", err)
	}

	got, err := s.GetTaskByID(ctx, "task-1")
	if err != nil {
		t.Fatalf("getting task: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.Priority != model.PriorityHigh || got.TimeEstimate != 90 {
		t.Errorf("round-trip mismatch: priority=%s estimate=%d", got.Priority, got.TimeEstimate)
	}
	if got.IsScheduled() {
		t.Error("fresh task must not report scheduled")
	}

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	if err := s.SetTaskSchedule(ctx, "task-1", start, end, "evt-1", "primary", model.SyncStatusSynced); err != nil {
		t.Fatalf("setting schedule: %v", err)
	}

	got, err = s.GetTaskByID(ctx, "task-1")
	if err != nil {
		t.Fatalf("getting scheduled task: %v", err)
	}
	if !got.IsScheduled() {
		t.Fatal("task must report scheduled after SetTaskSchedule")
	}
	if got.CalendarEventID != "evt-1" || got.CalendarID != "primary" {
		t.Errorf("schedule fields mismatch: event=%s calendar=%s", got.CalendarEventID, got.CalendarID)
	}
	if !got.ScheduledStart.Equal(start) || !got.ScheduledEnd.Equal(end) {
		t.Errorf("schedule times mismatch: %v - %v", got.ScheduledStart, got.ScheduledEnd)
	}

	if err := s.ClearTaskSchedule(ctx, "task-1", model.ReasonEventDeleted); err != nil {
		t.Fatalf("clearing schedule: %v", err)
	}
	got, err = s.GetTaskByID(ctx, "task-1")
	if err != nil {
		t.Fatalf("getting cleared task: %v", err)
	}
	if got.IsScheduled() {
		t.Error("task must not report scheduled after clear")
	}
	if got.UnscheduledReason != model.ReasonEventDeleted {
		t.Errorf("unscheduled reason = %q, want %q", got.UnscheduledReason, model.ReasonEventDeleted)
	}
	if got.CalendarEventID != "" || got.ScheduledStart != nil {
		t.Error("clear must remove event link and times")
	}
}

func TestMarkTaskRescheduled(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	if err := s.UpsertTask(ctx, model.Task{
		ID: "task-1", UserID: "alice", Content: "Call dentist",
		SyncStatus: model.SyncStatusPendingUnscheduled,
	}); err != nil {
		t.Fatalf("upserting task: %v", err)
	}

	start := time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	if err := s.MarkTaskRescheduled(ctx, "task-1", start, end); err != nil {
		t.Fatalf("marking rescheduled: %v", err)
	}

	got, err := s.GetTaskByID(ctx, "task-1")
	if err != nil {
		t.Fatalf("getting task: %v", err)
	}
	if !got.RescheduledExternally {
		t.Error("rescheduled_externally flag not set")
	}
	if got.SyncStatus != model.SyncStatusSynced {
		t.Errorf("sync status = %q, want synced", got.SyncStatus)
	}
	if !got.ScheduledStart.Equal(start) {
		t.Errorf("scheduled start = %v, want %v", got.ScheduledStart, start)
	}
}

func TestGetTasksScheduledFilter(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	for _, task := range []model.Task{
		{ID: "a", UserID: "alice", Content: "scheduled one", SyncStatus: model.SyncStatusSynced, CalendarEventID: "evt-a"},
		{ID: "b", UserID: "alice", Content: "pending one", SyncStatus: model.SyncStatusPendingUnscheduled},
		{ID: "c", UserID: "bob", Content: "other user", SyncStatus: model.SyncStatusPendingUnscheduled},
	} {
		if err := s.UpsertTask(ctx, task); err != nil {
			t.Fatalf("upserting %s: %v", task.ID, err)
		}
	}

	alice := "alice"
	scheduled := true
	got, err := s.GetTasks(ctx, store.TaskFilter{UserID: &alice, Scheduled: &scheduled})
	if err != nil {
		t.Fatalf("querying scheduled tasks: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("scheduled filter returned %d tasks, want [a]", len(got))
	}

	scheduled = false
	got, err = s.GetTasks(ctx, store.TaskFilter{UserID: &alice, Scheduled: &scheduled})
	if err != nil {
		t.Fatalf("querying unscheduled tasks: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unscheduled filter returned %d tasks, want [b]", len(got))
	}
}

func TestGetEventsOverlapWindow(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	events := []model.CalendarEvent{
		{ID: "before", CalendarID: "primary", UserID: "alice", Title: "before range",
			Start: day.Add(8 * time.Hour), End: day.Add(9 * time.Hour), Status: model.EventStatusConfirmed},
		{ID: "inside", CalendarID: "primary", UserID: "alice", Title: "inside range",
			Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour), Status: model.EventStatusConfirmed},
		{ID: "spanning", CalendarID: "primary", UserID: "alice", Title: "spans range start",
			Start: day.Add(9*time.Hour + 30*time.Minute), End: day.Add(10*time.Hour + 30*time.Minute), Status: model.EventStatusConfirmed},
		{ID: "cancelled", CalendarID: "primary", UserID: "alice", Title: "cancelled",
			Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour), Status: model.EventStatusCancelled},
	}
	for _, ev := range events {
		if err := s.UpsertEvent(ctx, ev); err != nil {
			t.Fatalf("upserting event %s: %v", ev.ID, err)
		}
	}

	alice := "alice"
	from := day.Add(10 * time.Hour)
	to := day.Add(12 * time.Hour)
	got, err := s.GetEvents(ctx, store.EventFilter{UserID: &alice, From: &from, To: &to})
	if err != nil {
		t.Fatalf("querying events: %v", err)
	}

	ids := make(map[string]bool, len(got))
	for _, ev := range got {
		ids[ev.ID] = true
	}
	if len(got) != 2 || !ids["inside"] || !ids["spanning"] {
		t.Fatalf("overlap query returned %v, want inside+spanning", ids)
	}
}

func TestSubscriptionReplacedPerCalendar(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	old := model.WatchSubscription{
		ID: "chan-old", ResourceID: "res-1", CalendarID: "primary", UserID: "alice",
		Expiration: time.Now().Add(time.Hour), ChannelToken: "alice:primary",
		CreatedAt: time.Now(),
	}
	if err := s.UpsertSubscription(ctx, old); err != nil {
		t.Fatalf("upserting old subscription: %v", err)
	}

	renewed := old
	renewed.ID = "chan-new"
	renewed.Expiration = time.Now().Add(7 * 24 * time.Hour)
	if err := s.UpsertSubscription(ctx, renewed); err != nil {
		t.Fatalf("upserting renewed subscription: %v", err)
	}

	got, err := s.GetSubscriptionByChannelID(ctx, "chan-old")
	if err != nil {
		t.Fatalf("looking up old channel: %v", err)
	}
	if got != nil {
		t.Error("old channel row must be replaced by renewal")
	}

	got, err = s.GetSubscriptionForCalendar(ctx, "alice", "primary")
	if err != nil {
		t.Fatalf("looking up calendar subscription: %v", err)
	}
	if got == nil || got.ID != "chan-new" {
		t.Fatalf("calendar subscription = %+v, want chan-new", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	cur, err := s.GetCursor(ctx, "alice", "primary")
	if err != nil {
		t.Fatalf("getting missing cursor: %v", err)
	}
	if cur != nil {
		t.Fatal("missing cursor must be (nil, nil)")
	}

	if err := s.SetCursor(ctx, model.SyncCursor{
		UserID: "alice", CalendarID: "primary", Token: "tok-1", LastSyncAt: time.Now(),
	}); err != nil {
		t.Fatalf("setting cursor: %v", err)
	}

	cur, err = s.GetCursor(ctx, "alice", "primary")
	if err != nil {
		t.Fatalf("getting cursor: %v", err)
	}
	if cur == nil || cur.Token != "tok-1" {
		t.Fatalf("cursor = %+v, want tok-1", cur)
	}

	if err := s.DeleteCursor(ctx, "alice", "primary"); err != nil {
		t.Fatalf("deleting cursor: %v", err)
	}
	cur, err = s.GetCursor(ctx, "alice", "primary")
	if err != nil {
		t.Fatalf("getting deleted cursor: %v", err)
	}
	if cur != nil {
		t.Fatal("deleted cursor must be (nil, nil)")
	}
}
