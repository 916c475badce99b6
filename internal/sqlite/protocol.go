package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/repository"
)

// ProtocolRepository implements protocol.Repository for SQLite
type ProtocolRepository struct {
	db *DB
}

// NewProtocolRepository creates a new ProtocolRepository
func NewProtocolRepository(db *DB) *ProtocolRepository {
	return &ProtocolRepository{db: db}
}

// Create inserts a new protocol instance. Items are stored through AddItem.
func (r *ProtocolRepository) Create(ctx context.Context, inst *protocol.Instance) error {
	phases, err := json.Marshal(inst.Type.Phases)
	if err != nil {
		return fmt.Errorf("failed to encode phases: %w", err)
	}

	query := `
		INSERT INTO protocol_instances (
			id, meeting_id, type_name, description, phases,
			current_phase, completed, ready_flag, revision,
			created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		inst.ID,
		inst.MeetingID,
		inst.Type.Name,
		inst.Type.Description,
		string(phases),
		inst.CurrentPhase,
		inst.Completed,
		inst.ReadyFlag,
		inst.Revision,
		inst.CreatedBy,
		inst.CreatedAt,
		inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create protocol instance: %w", classify(err))
	}
	return nil
}

// Get retrieves an instance with its items in submission order
func (r *ProtocolRepository) Get(ctx context.Context, id string) (*protocol.Instance, error) {
	query := `
		SELECT
			id, meeting_id, type_name, description, phases,
			current_phase, completed, ready_flag, revision,
			created_by, created_at, updated_at
		FROM protocol_instances
		WHERE id = ?
	`

	var inst protocol.Instance
	var phases string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&inst.ID,
		&inst.MeetingID,
		&inst.Type.Name,
		&inst.Type.Description,
		&phases,
		&inst.CurrentPhase,
		&inst.Completed,
		&inst.ReadyFlag,
		&inst.Revision,
		&inst.CreatedBy,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get protocol instance: %w", err)
	}
	if err := json.Unmarshal([]byte(phases), &inst.Type.Phases); err != nil {
		return nil, fmt.Errorf("failed to decode phases of %s: %w", id, err)
	}

	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	inst.Items = items
	return &inst, nil
}

func (r *ProtocolRepository) listItems(ctx context.Context, instanceID string) ([]protocol.Item, error) {
	query := `
		SELECT id, instance_id, type, parent_id, author_id, text, mark, phase, created_at
		FROM protocol_items
		WHERE instance_id = ?
		ORDER BY rowid
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list protocol items: %w", err)
	}
	defer rows.Close()

	items := []protocol.Item{}
	for rows.Next() {
		var it protocol.Item
		var parentID sql.NullString
		if err := rows.Scan(
			&it.ID,
			&it.InstanceID,
			&it.Type,
			&parentID,
			&it.AuthorID,
			&it.Text,
			&it.Mark,
			&it.Phase,
			&it.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan protocol item: %w", err)
		}
		if parentID.Valid {
			it.ParentID = &parentID.String
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating protocol items: %w", err)
	}
	return items, nil
}

// ListIDsByMeeting returns the ids of a meeting's instances in creation order
func (r *ProtocolRepository) ListIDsByMeeting(ctx context.Context, meetingID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM protocol_instances WHERE meeting_id = ? ORDER BY created_at, rowid`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list protocol instances: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan protocol instance id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating protocol instances: %w", err)
	}
	return ids, nil
}

// Update stores the instance's phase state
func (r *ProtocolRepository) Update(ctx context.Context, inst *protocol.Instance) error {
	query := `
		UPDATE protocol_instances
		SET current_phase = ?, completed = ?, ready_flag = ?, revision = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		inst.CurrentPhase,
		inst.Completed,
		inst.ReadyFlag,
		inst.Revision,
		inst.UpdatedAt,
		inst.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update protocol instance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddItem inserts an item
func (r *ProtocolRepository) AddItem(ctx context.Context, item *protocol.Item) error {
	query := `
		INSERT INTO protocol_items (
			id, instance_id, type, parent_id, author_id, text, mark, phase, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.InstanceID,
		item.Type,
		item.ParentID,
		item.AuthorID,
		item.Text,
		item.Mark,
		item.Phase,
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add protocol item: %w", classify(err))
	}
	return nil
}

// Delete removes the instance, its items and its summary items in one transaction
func (r *ProtocolRepository) Delete(ctx context.Context, id string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM summary_items WHERE protocol_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to retract summary items: %w", err)
	}
	retracted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM protocol_items WHERE instance_id = ?`, id); err != nil {
		return 0, fmt.Errorf("failed to delete protocol items: %w", err)
	}

	result, err = tx.ExecContext(ctx, `DELETE FROM protocol_instances WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete protocol instance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, repository.ErrNotFound
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(retracted), nil
}
