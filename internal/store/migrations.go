package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id                     TEXT PRIMARY KEY,
	user_id                TEXT NOT NULL,
	content                TEXT NOT NULL,
	task_type              TEXT NOT NULL DEFAULT '',
	priority               TEXT NOT NULL DEFAULT 'medium',
	time_estimate          INTEGER NOT NULL DEFAULT 30,
	due_date               DATETIME,
	scheduled_start        DATETIME,
	scheduled_end          DATETIME,
	calendar_event_id      TEXT NOT NULL DEFAULT '',
	calendar_id            TEXT NOT NULL DEFAULT '',
	unscheduled_reason     TEXT NOT NULL DEFAULT '',
	rescheduled_externally INTEGER NOT NULL DEFAULT 0 CHECK(rescheduled_externally IN (0, 1)),
	sync_status            TEXT NOT NULL DEFAULT 'pending_unscheduled',
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar_events (
	id                 TEXT PRIMARY KEY,
	calendar_id        TEXT NOT NULL,
	user_id            TEXT NOT NULL,
	title              TEXT NOT NULL DEFAULT '',
	start_time         DATETIME NOT NULL,
	end_time           DATETIME NOT NULL,
	all_day            INTEGER NOT NULL DEFAULT 0 CHECK(all_day IN (0, 1)),
	status             TEXT NOT NULL DEFAULT 'confirmed',
	linked_task_id     TEXT NOT NULL DEFAULT '',
	buffer_role        TEXT NOT NULL DEFAULT '',
	recurring_event_id TEXT NOT NULL DEFAULT '',
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS watch_subscriptions (
	id            TEXT PRIMARY KEY,
	resource_id   TEXT NOT NULL DEFAULT '',
	calendar_id   TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	expiration    DATETIME NOT NULL,
	channel_token TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	UNIQUE(user_id, calendar_id)
);

CREATE TABLE IF NOT EXISTS sync_cursors (
	user_id      TEXT NOT NULL,
	calendar_id  TEXT NOT NULL,
	token        TEXT NOT NULL,
	last_sync_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, calendar_id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);
CREATE INDEX IF NOT EXISTS idx_tasks_sync_status ON tasks(sync_status);
CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date);
CREATE INDEX IF NOT EXISTS idx_events_calendar_id ON calendar_events(calendar_id);
CREATE INDEX IF NOT EXISTS idx_events_start ON calendar_events(start_time);
CREATE INDEX IF NOT EXISTS idx_events_linked_task ON calendar_events(linked_task_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_tasks_event_id ON tasks(calendar_event_id);
CREATE INDEX IF NOT EXISTS idx_subscriptions_expiration ON watch_subscriptions(expiration);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
