package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/brain-dumper/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// === Tasks ===

// UpsertTask inserts or replaces a task row.
func (s *SQLiteStore) UpsertTask(ctx context.Context, task model.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.UpdatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tasks (
			id, user_id, content, task_type, priority, time_estimate,
			due_date, scheduled_start, scheduled_end,
			calendar_event_id, calendar_id, unscheduled_reason,
			rescheduled_externally, sync_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.UserID, task.Content, task.TaskType,
		string(task.Priority), task.TimeEstimate,
		nullableTime(task.DueDate), nullableTime(task.ScheduledStart),
		nullableTime(task.ScheduledEnd),
		task.CalendarEventID, task.CalendarID, task.UnscheduledReason,
		boolToInt(task.RescheduledExternally), task.SyncStatus,
		task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting task %s: %w", task.ID, err)
	}
	return nil
}

// GetTaskByID retrieves a single task, or (nil, nil) if it does not exist.
func (s *SQLiteStore) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM tasks WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	task, err := scanTask(rows)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTasks retrieves tasks matching the provided filter.
func (s *SQLiteStore) GetTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	var conditions []string
	var args []interface{}

	if filter.UserID != nil {
		conditions = append(conditions, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.SyncStatus != nil {
		conditions = append(conditions, "sync_status = ?")
		args = append(args, *filter.SyncStatus)
	}
	if filter.Priority != nil {
		conditions = append(conditions, "priority = ?")
		args = append(args, *filter.Priority)
	}
	if filter.Scheduled != nil {
		if *filter.Scheduled {
			conditions = append(conditions, "calendar_event_id != ''")
		} else {
			conditions = append(conditions, "calendar_event_id = ''")
		}
	}
	if filter.DueBefore != nil {
		conditions = append(conditions, "due_date IS NOT NULL AND due_date < ?")
		args = append(args, filter.DueBefore.UTC())
	}

	query := "SELECT * FROM tasks"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// SetTaskSchedule writes the schedule fields for a task.
func (s *SQLiteStore) SetTaskSchedule(
	ctx context.Context,
	id string,
	start, end time.Time,
	eventID, calendarID, syncStatus string,
) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			scheduled_start = ?, scheduled_end = ?,
			calendar_event_id = ?, calendar_id = ?,
			unscheduled_reason = '', sync_status = ?, updated_at = ?
		WHERE id = ?`,
		start.UTC(), end.UTC(), eventID, calendarID, syncStatus,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("setting schedule for task %s: %w", id, err)
	}
	return nil
}

// ClearTaskSchedule removes the schedule fields and records the reason.
func (s *SQLiteStore) ClearTaskSchedule(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			scheduled_start = NULL, scheduled_end = NULL,
			calendar_event_id = '', calendar_id = '',
			unscheduled_reason = ?, sync_status = ?, updated_at = ?
		WHERE id = ?`,
		reason, model.SyncStatusSynced, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("clearing schedule for task %s: %w", id, err)
	}
	return nil
}

// MarkTaskRescheduled adopts an externally-moved event time for a task.
func (s *SQLiteStore) MarkTaskRescheduled(ctx context.Context, id string, start, end time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			scheduled_start = ?, scheduled_end = ?,
			rescheduled_externally = 1, sync_status = ?, updated_at = ?
		WHERE id = ?`,
		start.UTC(), end.UTC(), model.SyncStatusSynced, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking task %s rescheduled: %w", id, err)
	}
	return nil
}

// === Calendar events ===

// UpsertEvent inserts or replaces a mirrored calendar event.
func (s *SQLiteStore) UpsertEvent(ctx context.Context, ev model.CalendarEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO calendar_events (
			id, calendar_id, user_id, title, start_time, end_time,
			all_day, status, linked_task_id, buffer_role,
			recurring_event_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CalendarID, ev.UserID, ev.Title,
		ev.Start.UTC(), ev.End.UTC(),
		boolToInt(ev.AllDay), string(ev.Status), ev.LinkedTaskID,
		string(ev.BufferRole), ev.RecurringEventID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting event %s: %w", ev.ID, err)
	}
	return nil
}

// GetEventByID retrieves one event, or (nil, nil) if it does not exist.
func (s *SQLiteStore) GetEventByID(ctx context.Context, id string) (*model.CalendarEvent, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM calendar_events WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting event %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	ev, err := scanEvent(rows)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetEvents retrieves events matching the filter, ordered by start time.
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter) ([]model.CalendarEvent, error) {
	var conditions []string
	var args []interface{}

	if filter.UserID != nil {
		conditions = append(conditions, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	if len(filter.CalendarIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.CalendarIDs)), ",")
		conditions = append(conditions, "calendar_id IN ("+placeholders+")")
		for _, id := range filter.CalendarIDs {
			args = append(args, id)
		}
	}
	// Overlap test against [From, To): start < To AND end > From.
	if filter.To != nil {
		conditions = append(conditions, "start_time < ?")
		args = append(args, filter.To.UTC())
	}
	if filter.From != nil {
		conditions = append(conditions, "end_time > ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.IncludeCancelled {
		conditions = append(conditions, "status != ?")
		args = append(args, string(model.EventStatusCancelled))
	}
	if filter.LinkedOnly {
		conditions = append(conditions, "linked_task_id != ''")
	}

	query := "SELECT * FROM calendar_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time ASC"

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []model.CalendarEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteEvent removes a mirrored event by id.
func (s *SQLiteStore) DeleteEvent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM calendar_events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting event %s: %w", id, err)
	}
	return nil
}

// === Watch subscriptions ===

// UpsertSubscription inserts or replaces a subscription. The UNIQUE
// (user_id, calendar_id) constraint means renewal replaces the old channel
// row even when the channel id changed.
func (s *SQLiteStore) UpsertSubscription(ctx context.Context, sub model.WatchSubscription) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM watch_subscriptions WHERE user_id = ? AND calendar_id = ?",
		sub.UserID, sub.CalendarID,
	); err != nil {
		return fmt.Errorf("replacing subscription for %s/%s: %w", sub.UserID, sub.CalendarID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO watch_subscriptions (
			id, resource_id, calendar_id, user_id, expiration, channel_token, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ResourceID, sub.CalendarID, sub.UserID,
		sub.Expiration.UTC(), sub.ChannelToken, sub.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("upserting subscription %s: %w", sub.ID, err)
	}

	return tx.Commit()
}

// GetSubscriptionByChannelID retrieves a subscription by channel id, or
// (nil, nil) when the channel is unknown.
func (s *SQLiteStore) GetSubscriptionByChannelID(ctx context.Context, channelID string) (*model.WatchSubscription, error) {
	return s.getSubscription(ctx, "SELECT * FROM watch_subscriptions WHERE id = ?", channelID)
}

// GetSubscriptionForCalendar retrieves the subscription for one
// (user, calendar) pair, or (nil, nil) when the calendar is not watched.
func (s *SQLiteStore) GetSubscriptionForCalendar(ctx context.Context, userID, calendarID string) (*model.WatchSubscription, error) {
	return s.getSubscription(ctx,
		"SELECT * FROM watch_subscriptions WHERE user_id = ? AND calendar_id = ?",
		userID, calendarID,
	)
}

func (s *SQLiteStore) getSubscription(ctx context.Context, query string, args ...interface{}) (*model.WatchSubscription, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	sub, err := scanSubscription(rows)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscriptions retrieves all watch subscriptions.
func (s *SQLiteStore) GetSubscriptions(ctx context.Context) ([]model.WatchSubscription, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM watch_subscriptions ORDER BY expiration ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.WatchSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteSubscription removes a subscription by channel id.
func (s *SQLiteStore) DeleteSubscription(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM watch_subscriptions WHERE id = ?", channelID)
	if err != nil {
		return fmt.Errorf("deleting subscription %s: %w", channelID, err)
	}
	return nil
}

// === Sync cursors ===

// GetCursor retrieves the sync cursor for a (user, calendar) pair, or
// (nil, nil) when none is stored (initial sync).
func (s *SQLiteStore) GetCursor(ctx context.Context, userID, calendarID string) (*model.SyncCursor, error) {
	var cur model.SyncCursor
	err := s.db.GetContext(ctx, &cur,
		"SELECT * FROM sync_cursors WHERE user_id = ? AND calendar_id = ?",
		userID, calendarID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting cursor for %s/%s: %w", userID, calendarID, err)
	}
	return &cur, nil
}

// SetCursor inserts or replaces the sync cursor for a (user, calendar) pair.
func (s *SQLiteStore) SetCursor(ctx context.Context, cur model.SyncCursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_cursors (user_id, calendar_id, token, last_sync_at)
		VALUES (?, ?, ?, ?)`,
		cur.UserID, cur.CalendarID, cur.Token, cur.LastSyncAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting cursor for %s/%s: %w", cur.UserID, cur.CalendarID, err)
	}
	return nil
}

// DeleteCursor removes the sync cursor for a (user, calendar) pair.
func (s *SQLiteStore) DeleteCursor(ctx context.Context, userID, calendarID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_cursors WHERE user_id = ? AND calendar_id = ?",
		userID, calendarID,
	)
	if err != nil {
		return fmt.Errorf("deleting cursor for %s/%s: %w", userID, calendarID, err)
	}
	return nil
}

// === Scan helpers ===

// scanTask scans a task row from a sqlx.Rows result set.
func scanTask(rows *sqlx.Rows) (model.Task, error) {
	var (
		task        model.Task
		priority    string
		dueDate     sql.NullTime
		schedStart  sql.NullTime
		schedEnd    sql.NullTime
		rescheduled int
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := rows.Scan(
		&task.ID, &task.UserID, &task.Content, &task.TaskType,
		&priority, &task.TimeEstimate,
		&dueDate, &schedStart, &schedEnd,
		&task.CalendarEventID, &task.CalendarID, &task.UnscheduledReason,
		&rescheduled, &task.SyncStatus, &createdAt, &updatedAt,
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("scanning task row: %w", err)
	}

	task.Priority = model.Priority(priority)
	task.DueDate = timePtr(dueDate)
	task.ScheduledStart = timePtr(schedStart)
	task.ScheduledEnd = timePtr(schedEnd)
	task.RescheduledExternally = rescheduled != 0
	task.CreatedAt = createdAt
	task.UpdatedAt = updatedAt

	return task, nil
}

// scanEvent scans a calendar event row from a sqlx.Rows result set.
func scanEvent(rows *sqlx.Rows) (model.CalendarEvent, error) {
	var (
		ev     model.CalendarEvent
		allDay int
		status string
		role   string
	)

	err := rows.Scan(
		&ev.ID, &ev.CalendarID, &ev.UserID, &ev.Title,
		&ev.Start, &ev.End, &allDay, &status,
		&ev.LinkedTaskID, &role, &ev.RecurringEventID, &ev.UpdatedAt,
	)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("scanning event row: %w", err)
	}

	ev.AllDay = allDay != 0
	ev.Status = model.EventStatus(status)
	ev.BufferRole = model.BufferRole(role)

	return ev, nil
}

// scanSubscription scans a subscription row from a sqlx.Rows result set.
func scanSubscription(rows *sqlx.Rows) (model.WatchSubscription, error) {
	var sub model.WatchSubscription

	err := rows.Scan(
		&sub.ID, &sub.ResourceID, &sub.CalendarID, &sub.UserID,
		&sub.Expiration, &sub.ChannelToken, &sub.CreatedAt,
	)
	if err != nil {
		return model.WatchSubscription{}, fmt.Errorf("scanning subscription row: %w", err)
	}

	return sub, nil
}

// nullableTime converts an optional time for storage.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// timePtr converts a scanned nullable time back to a pointer.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
