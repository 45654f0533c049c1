package store

import (
	"context"
	"time"

	"github.com/nhle/brain-dumper/internal/model"
)

// TaskFilter controls filtering and pagination for task queries.
type TaskFilter struct {
	UserID     *string
	SyncStatus *string
	Priority   *string
	// Scheduled filters on whether the task holds a calendar event.
	Scheduled *bool
	DueBefore *time.Time
	Limit     int
	Offset    int
}

// EventFilter controls calendar event queries.
type EventFilter struct {
	UserID      *string
	CalendarIDs []string
	// From/To bound the event time range: events overlapping [From, To).
	From *time.Time
	To   *time.Time
	// IncludeCancelled keeps cancelled events in the result.
	IncludeCancelled bool
	// LinkedOnly restricts to events carrying a task back-reference.
	LinkedOnly bool
}

// Store is the persistence interface for tasks, mirrored calendar events,
// watch subscriptions, and sync cursors.
//
// Single-row lookups return (nil, nil) when no row matches; absence is a
// normal outcome for the sync path (unknown channels, consumed cursors),
// not an error.
type Store interface {
	// === Tasks ===

	UpsertTask(ctx context.Context, task model.Task) error
	GetTaskByID(ctx context.Context, id string) (*model.Task, error)
	GetTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)

	// SetTaskSchedule writes the schedule fields after an event was
	// created provider-side.
	SetTaskSchedule(ctx context.Context, id string, start, end time.Time, eventID, calendarID, syncStatus string) error

	// ClearTaskSchedule removes the schedule fields and records why.
	ClearTaskSchedule(ctx context.Context, id, reason string) error

	// MarkTaskRescheduled adopts an externally-moved event time.
	MarkTaskRescheduled(ctx context.Context, id string, start, end time.Time) error

	// === Calendar events ===

	UpsertEvent(ctx context.Context, ev model.CalendarEvent) error
	GetEventByID(ctx context.Context, id string) (*model.CalendarEvent, error)
	GetEvents(ctx context.Context, filter EventFilter) ([]model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id string) error

	// === Watch subscriptions ===

	UpsertSubscription(ctx context.Context, sub model.WatchSubscription) error
	GetSubscriptionByChannelID(ctx context.Context, channelID string) (*model.WatchSubscription, error)
	GetSubscriptionForCalendar(ctx context.Context, userID, calendarID string) (*model.WatchSubscription, error)
	GetSubscriptions(ctx context.Context) ([]model.WatchSubscription, error)
	DeleteSubscription(ctx context.Context, channelID string) error

	// === Sync cursors ===

	GetCursor(ctx context.Context, userID, calendarID string) (*model.SyncCursor, error)
	SetCursor(ctx context.Context, cur model.SyncCursor) error
	DeleteCursor(ctx context.Context, userID, calendarID string) error
}
