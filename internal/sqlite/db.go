package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// New creates a new SQLite database connection
func New(dataSourceName string) (*DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer, and every :memory: connection
	// would otherwise get its own empty database.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db}, nil
}

// RunMigrations creates the schema. It is safe to run on every start.
func (db *DB) RunMigrations() error {
	migration := `
-- Protocol instances
CREATE TABLE IF NOT EXISTS protocol_instances (
    id TEXT PRIMARY KEY,
    meeting_id TEXT NOT NULL,
    type_name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    phases TEXT NOT NULL,
    current_phase INTEGER NOT NULL DEFAULT 0 CHECK(current_phase >= 0),
    completed INTEGER NOT NULL DEFAULT 0,
    ready_flag INTEGER NOT NULL DEFAULT 0,
    revision INTEGER NOT NULL DEFAULT 1,
    created_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_meeting_protocols ON protocol_instances(meeting_id);

-- Protocol items
CREATE TABLE IF NOT EXISTS protocol_items (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    type TEXT NOT NULL CHECK(type IN ('Group', 'Item')),
    parent_id TEXT,
    author_id TEXT NOT NULL,
    text TEXT NOT NULL,
    mark TEXT NOT NULL DEFAULT 'None' CHECK(mark IN ('None', 'Decision', 'Pin', 'Task')),
    phase INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (instance_id) REFERENCES protocol_instances(id),
    FOREIGN KEY (parent_id) REFERENCES protocol_items(id)
);
CREATE INDEX IF NOT EXISTS idx_instance_items ON protocol_items(instance_id);
CREATE INDEX IF NOT EXISTS idx_parent_items ON protocol_items(parent_id);

-- Meeting summary
CREATE TABLE IF NOT EXISTS summary_items (
    id TEXT PRIMARY KEY,
    meeting_id TEXT NOT NULL,
    protocol_id TEXT NOT NULL,
    protocol_type TEXT NOT NULL,
    item_type TEXT NOT NULL CHECK(item_type IN ('Decision', 'Pin', 'Task', 'None')),
    text TEXT NOT NULL,
    source_item_id TEXT NOT NULL,
    group_id TEXT,
    group_title TEXT NOT NULL DEFAULT '',
    child_count INTEGER NOT NULL DEFAULT 0,
    position INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (protocol_id) REFERENCES protocol_instances(id)
);
CREATE INDEX IF NOT EXISTS idx_meeting_summary ON summary_items(meeting_id);
CREATE INDEX IF NOT EXISTS idx_protocol_summary ON summary_items(protocol_id);

-- Meeting history
CREATE TABLE IF NOT EXISTS history_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    meeting_id TEXT NOT NULL,
    protocol_id TEXT,
    user_id TEXT NOT NULL DEFAULT '',
    event_type TEXT NOT NULL,
    summary TEXT NOT NULL,
    details TEXT,
    phase INTEGER NOT NULL DEFAULT 0,
    revision INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_meeting_history ON history_log(meeting_id);
CREATE INDEX IF NOT EXISTS idx_protocol_history ON history_log(protocol_id);

-- API keys for authentication
CREATE TABLE IF NOT EXISTS api_keys (
    key_hash TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    role TEXT NOT NULL CHECK(role IN ('facilitator', 'participant')),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_used TIMESTAMP,
    description TEXT
);
CREATE INDEX IF NOT EXISTS idx_user_keys ON api_keys(user_id);
`

	_, err := db.Exec(migration)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
