package credentials

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/storage"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db, "sqlite"))
	_, err = db.Exec(
		"INSERT INTO users (id, username, password_hash, created_at) VALUES (1, 'alice', 'x', ?)",
		time.Now().UTC(),
	)
	require.NoError(t, err)
	return NewResolver(db)
}

func TestResolveAbsentIsEmptyNotError(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t)

	token, err := r.Resolve(ctx, 1, ProviderGoogle)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestSetResolveDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(t)

	require.NoError(t, r.Set(ctx, 1, ProviderGoogle, "tok-1"))
	token, err := r.Resolve(ctx, 1, ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	// Replacing overwrites, never duplicates.
	require.NoError(t, r.Set(ctx, 1, ProviderGoogle, "tok-2"))
	token, err = r.Resolve(ctx, 1, ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token)

	require.NoError(t, r.Delete(ctx, 1, ProviderGoogle))
	token, err = r.Resolve(ctx, 1, ProviderGoogle)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, r.Delete(ctx, 1, ProviderGoogle))
}

func TestSetRejectsEmptyToken(t *testing.T) {
	r := newTestResolver(t)
	assert.Error(t, r.Set(context.Background(), 1, ProviderGoogle, ""))
}
