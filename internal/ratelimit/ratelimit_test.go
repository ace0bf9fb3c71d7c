package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velra-app/velra/internal/config"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestTokenBucketExhaustsBurst(t *testing.T) {
	bucket := NewTokenBucket(newTestRedis(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "k", 1, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := bucket.Allow(ctx, "k", 1, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestTokenBucketSeparateKeys(t *testing.T) {
	bucket := NewTokenBucket(newTestRedis(t))
	ctx := context.Background()

	res, err := bucket.Allow(ctx, "a", 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = bucket.Allow(ctx, "a", 1, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = bucket.Allow(ctx, "b", 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucketValidatesInput(t *testing.T) {
	bucket := NewTokenBucket(newTestRedis(t))
	ctx := context.Background()

	_, err := bucket.Allow(ctx, "", 1, 1)
	assert.Error(t, err)

	_, err = bucket.Allow(ctx, "k", 0, 1)
	assert.Error(t, err)

	_, err = bucket.Allow(ctx, "k", 1, 0)
	assert.Error(t, err)
}

func TestLockerMutualExclusion(t *testing.T) {
	locker := NewLocker(newTestRedis(t))
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "job", token))

	_, ok, err = locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerReleaseIgnoresForeignToken(t *testing.T) {
	locker := NewLocker(newTestRedis(t))
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale holder must not free someone else's lock.
	require.NoError(t, locker.Release(ctx, "job", "stale-token"))

	_, ok, err = locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "job", token))
}

func TestNilLockerActsAsNoop(t *testing.T) {
	var locker *Locker

	_, ok, err := locker.TryLock(context.Background(), "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, locker.Release(context.Background(), "job", "t"))
}

func TestDeviceLimiterDisabledAllowsAll(t *testing.T) {
	limiter := NewDeviceLimiter(config.Config{}, nil)

	for i := 0; i < 10; i++ {
		res, err := limiter.Allow(context.Background(), "device-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestDeviceLimiterThrottles(t *testing.T) {
	cfg := config.Config{}
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.DeviceRate = 1
	cfg.RateLimit.DeviceBurst = 2

	limiter := NewDeviceLimiter(cfg, NewTokenBucket(newTestRedis(t)))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "device-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.Allow(ctx, "device-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}
