package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ganot/meetsync/internal/domain/history"
)

// HistoryRepository implements history.Repository for SQLite
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new HistoryRepository
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Log inserts a new history entry
func (r *HistoryRepository) Log(ctx context.Context, entry *history.Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO history_log (
			meeting_id, protocol_id, user_id, event_type,
			summary, details, phase, revision, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.MeetingID,
		entry.ProtocolID,
		entry.UserID,
		entry.EventType,
		entry.Summary,
		entry.Details,
		entry.Phase,
		entry.Revision,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log history: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		entry.ID = id
	}
	entry.CreatedAt = createdAt

	return nil
}

// List returns history entries matching the given filters, newest first
func (r *HistoryRepository) List(ctx context.Context, opts history.ListOptions) ([]history.Entry, error) {
	query := `
		SELECT
			id, meeting_id, protocol_id, user_id, event_type,
			summary, details, phase, revision, created_at
		FROM history_log
		WHERE meeting_id = ?
	`

	args := []any{opts.MeetingID}
	conditions := []string{}

	if opts.ProtocolID != nil {
		conditions = append(conditions, "protocol_id = ?")
		args = append(args, *opts.ProtocolID)
	}
	if opts.EventType != nil {
		conditions = append(conditions, "event_type = ?")
		args = append(args, *opts.EventType)
	}
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := []history.Entry{}
	for rows.Next() {
		var entry history.Entry
		var protocolID sql.NullString
		var details sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.MeetingID,
			&protocolID,
			&entry.UserID,
			&entry.EventType,
			&entry.Summary,
			&details,
			&entry.Phase,
			&entry.Revision,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if protocolID.Valid {
			entry.ProtocolID = &protocolID.String
		}
		entry.Details = details.String
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}

	return entries, nil
}
