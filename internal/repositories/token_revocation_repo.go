package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenRevocationRepository is the Postgres token denylist
type TokenRevocationRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRevocationRepository(db *database.DB) *TokenRevocationRepository {
	return &TokenRevocationRepository{pool: db.Pool}
}

// RevokeToken adds a token to the denylist. Re-revoking is a no-op that
// reports inserted=false.
func (r *TokenRevocationRepository) RevokeToken(ctx context.Context, entry models.RevokedToken) (bool, error) {
	query := `
		INSERT INTO revoked_tokens (token_hash, jti, user_id, token_type, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token_hash) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query,
		entry.TokenHash, entry.JTI, entry.UserID, entry.TokenType, entry.ExpiresAt, entry.Reason,
	)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() == 1, nil
}

// IsTokenRevoked reports whether a live denylist entry exists at now
func (r *TokenRevocationRepository) IsTokenRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_hash = $1 AND expires_at > $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, tokenHash, now).Scan(&exists); err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// CleanupExpiredTokens removes entries that expired before now
func (r *TokenRevocationRepository) CleanupExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM revoked_tokens WHERE expires_at <= $1`

	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
