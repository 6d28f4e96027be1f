// Package credentials stores per-user third-party access tokens and resolves
// them for agent turns.
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"concierge/internal/apperrors"
	"concierge/internal/logging"
)

// ProviderGoogle is the only external credential provider currently wired.
const ProviderGoogle = "google"

type Resolver struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{db: db, log: logging.With("credentials")}
}

// Resolve returns the user's access token for provider, or empty string when
// none is connected. Absence is not an error; tools that need the token
// report the missing connection themselves.
func (r *Resolver) Resolve(ctx context.Context, userID int64, provider string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx,
		"SELECT access_token FROM credentials WHERE user_id = ? AND provider = ?",
		userID, provider,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Persistence("resolve credential", err)
	}
	return token, nil
}

// Set stores or replaces the user's token for provider.
func (r *Resolver) Set(ctx context.Context, userID int64, provider, token string) error {
	if token == "" {
		return apperrors.Validation("access token must not be empty")
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		"UPDATE credentials SET access_token = ?, created_at = ? WHERE user_id = ? AND provider = ?",
		token, now, userID, provider,
	)
	if err != nil {
		return apperrors.Persistence("update credential", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = r.db.ExecContext(ctx,
		"INSERT INTO credentials (user_id, provider, access_token, created_at) VALUES (?, ?, ?, ?)",
		userID, provider, token, now,
	)
	if err != nil {
		return apperrors.Persistence("insert credential", err)
	}
	return nil
}

// Delete disconnects the provider for the user. Removing an absent credential
// is not an error.
func (r *Resolver) Delete(ctx context.Context, userID int64, provider string) error {
	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE user_id = ? AND provider = ?",
		userID, provider,
	); err != nil {
		return apperrors.Persistence("delete credential", err)
	}
	return nil
}
