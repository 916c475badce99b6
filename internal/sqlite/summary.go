package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ganot/meetsync/internal/domain/summary"
)

// SummaryRepository implements summary.Repository for SQLite
type SummaryRepository struct {
	db *DB
}

// NewSummaryRepository creates a new SummaryRepository
func NewSummaryRepository(db *DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Append inserts all items in one transaction
func (r *SummaryRepository) Append(ctx context.Context, items []summary.Item) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO summary_items (
			id, meeting_id, protocol_id, protocol_type, item_type, text,
			source_item_id, group_id, group_title, child_count, position, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare summary insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx,
			it.ID,
			it.MeetingID,
			it.ProtocolID,
			it.ProtocolType,
			it.ItemType,
			it.Text,
			it.SourceItemID,
			it.GroupID,
			it.GroupTitle,
			it.ChildCount,
			it.Position,
			it.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to append summary item: %w", classify(err))
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByMeeting returns a meeting's summary items in insertion order
func (r *SummaryRepository) ListByMeeting(ctx context.Context, meetingID string) ([]summary.Item, error) {
	query := `
		SELECT
			id, meeting_id, protocol_id, protocol_type, item_type, text,
			source_item_id, group_id, group_title, child_count, position, created_at
		FROM summary_items
		WHERE meeting_id = ?
		ORDER BY rowid
	`

	rows, err := r.db.QueryContext(ctx, query, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list summary items: %w", err)
	}
	defer rows.Close()

	items := []summary.Item{}
	for rows.Next() {
		var it summary.Item
		var groupID sql.NullString
		if err := rows.Scan(
			&it.ID,
			&it.MeetingID,
			&it.ProtocolID,
			&it.ProtocolType,
			&it.ItemType,
			&it.Text,
			&it.SourceItemID,
			&groupID,
			&it.GroupTitle,
			&it.ChildCount,
			&it.Position,
			&it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan summary item: %w", err)
		}
		if groupID.Valid {
			it.GroupID = &groupID.String
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary items: %w", err)
	}
	return items, nil
}

// DeleteByProtocol removes every summary item contributed by a protocol instance
func (r *SummaryRepository) DeleteByProtocol(ctx context.Context, protocolID string) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM summary_items WHERE protocol_id = ?`, protocolID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete summary items: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
