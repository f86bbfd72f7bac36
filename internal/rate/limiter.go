package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrBlocked reports that the identity is inside a lockout window.
	ErrBlocked = errors.New("identity blocked")
	// ErrRedisUnavailable reports a store fault; callers must treat it as
	// a service failure, not as allow or deny.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config holds limiter tuning.
type Config struct {
	MaxAttempts     int
	LockoutDuration time.Duration
}

// Limiter tracks failed login attempts per identity key. The identity key is
// the normalized email; attempts against unknown accounts consume the
// counter too, so lockout behavior cannot reveal whether an account exists.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// New creates a [Limiter]. prefix namespaces the counter keys.
func New(redisClient redis.UniversalClient, prefix string, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, prefix: prefix, config: cfg}
}

func (l *Limiter) key(identity string) string {
	return l.prefix + "ratelimit:" + identity
}

// Check fails closed: when the stored counter has reached the attempt
// ceiling it returns [ErrBlocked] together with the remaining lockout
// duration. A missing counter is Allowed.
func (l *Limiter) Check(ctx context.Context, identity string) (time.Duration, error) {
	key := l.key(identity)

	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < int64(l.config.MaxAttempts) {
		return 0, nil
	}

	retryAfter, err := l.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if retryAfter <= 0 {
		// Counter at ceiling but TTL already gone; the key is moments
		// from expiry, let the attempt through.
		return 0, nil
	}
	return retryAfter, ErrBlocked
}

// RecordFailure increments the counter atomically and arms the lockout
// window. The increment-and-compare happens on the value INCR returns, so
// two parallel failures at count 4 cannot both miss the threshold: exactly
// one observes 5 and re-arms the TTL for the full lockout duration.
func (l *Limiter) RecordFailure(ctx context.Context, identity string) error {
	key := l.key(identity)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// First failure opens the observation window; reaching the ceiling
	// re-arms it so the block lasts the full duration from the moment it
	// engages.
	if count == 1 || count == int64(l.config.MaxAttempts) {
		if err := l.redis.Expire(ctx, key, l.config.LockoutDuration).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

// RecordSuccess deletes the counter entirely; the next failure starts a
// fresh count of 1.
func (l *Limiter) RecordSuccess(ctx context.Context, identity string) error {
	if err := l.redis.Del(ctx, l.key(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current counter for an identity. Missing keys return
// zero and do not reveal account existence.
func (l *Limiter) Attempts(ctx context.Context, identity string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(identity)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}
