package sqlite

import (
	"context"
	"testing"

	"github.com/ganot/meetsync/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyRepository(t *testing.T) {
	db := NewTestDB(t)
	repo := NewAPIKeyRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, "secret", "alice", "facilitator", "laptop"))
	require.ErrorIs(t, repo.Add(ctx, "secret", "bob", "participant", ""), repository.ErrConflict)
	require.ErrorIs(t, repo.Add(ctx, "", "bob", "participant", ""), repository.ErrInvalidInput)
	require.Error(t, repo.Add(ctx, "other", "bob", "admin", ""))

	key, err := repo.Lookup(ctx, "secret")
	require.NoError(t, err)
	require.Equal(t, "alice", key.UserID)
	require.Equal(t, "facilitator", key.Role)
	require.Equal(t, "laptop", key.Description)

	var stored string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT key_hash FROM api_keys WHERE user_id = ?`, "alice").Scan(&stored))
	require.Equal(t, HashToken("secret"), stored)
	require.NotEqual(t, "secret", stored)

	_, err = repo.Lookup(ctx, "wrong")
	require.ErrorIs(t, err, repository.ErrNotFound)
}
