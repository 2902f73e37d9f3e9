package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisDenylistTest(t *testing.T) (*RedisTokenRevocationRepository, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisTokenRevocationRepository(rdb), mr
}

func TestRedisDenylist_RevokeAndCheck(t *testing.T) {
	repo, _ := newRedisDenylistTest(t)
	ctx := context.Background()

	entry := models.RevokedToken{
		TokenHash: "hash-a",
		UserID:    "user-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	inserted, err := repo.RevokeToken(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	revoked, err := repo.IsTokenRevoked(ctx, "hash-a", time.Now())
	require.NoError(t, err)
	assert.True(t, revoked)

	other, err := repo.IsTokenRevoked(ctx, "hash-b", time.Now())
	require.NoError(t, err)
	assert.False(t, other, "revoking one token must not affect another")
}

func TestRedisDenylist_RevokeIsIdempotent(t *testing.T) {
	repo, _ := newRedisDenylistTest(t)
	ctx := context.Background()

	entry := models.RevokedToken{TokenHash: "hash-a", ExpiresAt: time.Now().Add(time.Hour)}
	first, err := repo.RevokeToken(ctx, entry)
	require.NoError(t, err)
	second, err := repo.RevokeToken(ctx, entry)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	revoked, err := repo.IsTokenRevoked(ctx, "hash-a", time.Now())
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRedisDenylist_EntryExpiresWithToken(t *testing.T) {
	repo, mr := newRedisDenylistTest(t)
	ctx := context.Background()

	_, err := repo.RevokeToken(ctx, models.RevokedToken{
		TokenHash: "hash-a",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	})
	require.NoError(t, err)

	mr.FastForward(11 * time.Minute)

	revoked, err := repo.IsTokenRevoked(ctx, "hash-a", time.Now())
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisDenylist_AlreadyExpiredTokenIsSkipped(t *testing.T) {
	repo, mr := newRedisDenylistTest(t)
	ctx := context.Background()

	inserted, err := repo.RevokeToken(ctx, models.RevokedToken{
		TokenHash: "hash-old",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.False(t, mr.Exists(revokedKeyPrefix+"hash-old"))
}

func TestRedisDenylist_UnavailableWhenServerDown(t *testing.T) {
	repo, mr := newRedisDenylistTest(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := repo.IsTokenRevoked(ctx, "hash-a", time.Now())
	assert.ErrorIs(t, err, models.ErrUnavailable)
}

func TestRedisDenylist_HealthCheck(t *testing.T) {
	repo, mr := newRedisDenylistTest(t)
	assert.NoError(t, repo.HealthCheck(context.Background()))

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, repo.HealthCheck(ctx), models.ErrUnavailable)
}
