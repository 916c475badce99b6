package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ganot/meetsync/internal/repository"
)

// APIKey is a stored credential. The raw token is never persisted.
type APIKey struct {
	UserID      string
	Role        string
	Description string
	CreatedAt   time.Time
}

// APIKeyRepository stores hashed bearer tokens
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Add stores the token for a user and role
func (r *APIKeyRepository) Add(ctx context.Context, token, userID, role, description string) error {
	if token == "" || userID == "" {
		return repository.ErrInvalidInput
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, user_id, role, created_at, description) VALUES (?, ?, ?, ?, ?)`,
		HashToken(token), userID, role, time.Now(), description,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to add api key: %w", err)
	}
	return nil
}

// Lookup resolves a raw token and records its use
func (r *APIKeyRepository) Lookup(ctx context.Context, token string) (*APIKey, error) {
	hash := HashToken(token)
	var key APIKey
	var description sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, role, description, created_at FROM api_keys WHERE key_hash = ?`,
		hash,
	).Scan(&key.UserID, &key.Role, &description, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	key.Description = description.String

	if _, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used = ? WHERE key_hash = ?`, time.Now(), hash); err != nil {
		return nil, fmt.Errorf("failed to touch api key: %w", err)
	}
	return &key, nil
}

// HashToken returns the hex SHA-256 of a token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
