package repositories

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "warden:revoked:"

// RedisTokenRevocationRepository keeps denylist entries as keys that expire
// together with the token they revoke.
type RedisTokenRevocationRepository struct {
	client redis.UniversalClient
}

func NewRedisTokenRevocationRepository(client redis.UniversalClient) *RedisTokenRevocationRepository {
	return &RedisTokenRevocationRepository{client: client}
}

func (r *RedisTokenRevocationRepository) RevokeToken(ctx context.Context, entry models.RevokedToken) (bool, error) {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		// already expired, verification rejects it on its own
		return false, nil
	}

	// SetNX keeps the first entry on re-revocation
	inserted, err := r.client.SetNX(ctx, revokedKeyPrefix+entry.TokenHash, entry.UserID, ttl).Result()
	if err != nil {
		return false, mapRedisError(err)
	}
	return inserted, nil
}

func (r *RedisTokenRevocationRepository) IsTokenRevoked(ctx context.Context, tokenHash string, _ time.Time) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKeyPrefix+tokenHash).Result()
	if err != nil {
		return false, mapRedisError(err)
	}
	return n > 0, nil
}

// CleanupExpiredTokens is a no-op, Redis expires the keys itself
func (r *RedisTokenRevocationRepository) CleanupExpiredTokens(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisTokenRevocationRepository) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", mapRedisError(err))
	}
	return nil
}

func mapRedisError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return models.ErrUnavailable
	}
	return fmt.Errorf("redis denylist: %w", err)
}
