package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, "", Config{MaxAttempts: 5, LockoutDuration: 15 * time.Minute}), mr
}

func TestCheckAllowsFreshIdentity(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	retryAfter, err := limiter.Check(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if retryAfter != 0 {
		t.Fatalf("fresh identity got retry-after %v", retryAfter)
	}
}

func TestLockoutEngagesAtCeiling(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := limiter.RecordFailure(ctx, "alice@example.com"); err != nil {
			t.Fatalf("RecordFailure %d failed: %v", i, err)
		}
		if _, err := limiter.Check(ctx, "alice@example.com"); err != nil {
			t.Fatalf("expected attempt %d to pass, got %v", i, err)
		}
	}

	if err := limiter.RecordFailure(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	retryAfter, err := limiter.Check(ctx, "alice@example.com")
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked after 5 failures, got %v", err)
	}
	if retryAfter <= 0 || retryAfter > 15*time.Minute {
		t.Fatalf("unexpected retry-after %v", retryAfter)
	}
}

func TestLockoutExpires(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := limiter.RecordFailure(ctx, "alice@example.com"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	if _, err := limiter.Check(ctx, "alice@example.com"); !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected block, got %v", err)
	}

	mr.FastForward(15*time.Minute + time.Second)

	if _, err := limiter.Check(ctx, "alice@example.com"); err != nil {
		t.Fatalf("expected block to expire, got %v", err)
	}
	attempts, err := limiter.Attempts(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Attempts failed: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("expected counter to expire with the block, got %d", attempts)
	}
}

func TestRecordSuccessResetsCounter(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := limiter.RecordFailure(ctx, "alice@example.com"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	if err := limiter.RecordSuccess(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}

	// A full set of fresh failures is needed to block again.
	for i := 0; i < 4; i++ {
		if err := limiter.RecordFailure(ctx, "alice@example.com"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	if _, err := limiter.Check(ctx, "alice@example.com"); err != nil {
		t.Fatalf("expected 4 fresh failures to pass, got %v", err)
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := limiter.RecordFailure(ctx, "alice@example.com"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	if _, err := limiter.Check(ctx, "bob@example.com"); err != nil {
		t.Fatalf("unrelated identity blocked: %v", err)
	}
}

func TestCheckFailsClosedOnStoreFault(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	mr.Close()

	_, err := limiter.Check(context.Background(), "alice@example.com")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
