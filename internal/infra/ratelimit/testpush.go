package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"leadwire/internal/domain/sandbox"

	"github.com/redis/go-redis/v9"
)

var _ sandbox.TestPushLimiter = (*RedisTestPushLimiter)(nil)

// RedisTestPushLimiter caps test pushes per user using Redis sorted sets.
// Each push is a member scored by its timestamp, giving a sliding window.
type RedisTestPushLimiter struct {
	client     redis.UniversalClient
	maxPerHour int
	window     time.Duration
	now        func() time.Time
}

// NewRedisTestPushLimiter creates a limiter on an existing connection.
func NewRedisTestPushLimiter(client redis.UniversalClient, maxPerHour int) *RedisTestPushLimiter {
	return &RedisTestPushLimiter{
		client:     client,
		maxPerHour: maxPerHour,
		window:     time.Hour,
		now:        time.Now,
	}
}

func key(userID string) string {
	return fmt.Sprintf("leadwire:ratelimit:testpush:%s", userID)
}

// Allow records a push for userID unless the window is already full.
func (r *RedisTestPushLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	k := key(userID)
	now := r.now()
	windowStart := now.Add(-r.window)

	pipe := r.client.Pipeline()

	// Remove expired entries (outside the sliding window)
	pipe.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, k)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("checking test push rate limit: %w", err)
	}

	if countCmd.Val() >= int64(r.maxPerHour) {
		return false, nil
	}

	// Unique member so concurrent requests in the same nanosecond both count.
	randBytes := make([]byte, 4)
	_, _ = rand.Read(randBytes)
	member := redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d:%s", now.UnixNano(), hex.EncodeToString(randBytes)),
	}
	pipe2 := r.client.Pipeline()
	pipe2.ZAdd(ctx, k, member)
	pipe2.Expire(ctx, k, r.window+time.Minute)

	if _, err := pipe2.Exec(ctx); err != nil {
		return false, fmt.Errorf("recording test push: %w", err)
	}
	return true, nil
}
