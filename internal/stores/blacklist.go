package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable reports a store fault during a blacklist operation.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Blacklist is the revocation set for access-token IDs. Entries carry a TTL
// equal to the token's remaining lifetime and self-expire; nothing ever
// deletes them explicitly.
type Blacklist struct {
	redis  redis.UniversalClient
	prefix string
}

// NewBlacklist creates a [Blacklist]. prefix namespaces the entry keys.
func NewBlacklist(redisClient redis.UniversalClient, prefix string) *Blacklist {
	return &Blacklist{redis: redisClient, prefix: prefix}
}

func (b *Blacklist) key(tokenID string) string {
	return b.prefix + "blacklist:" + tokenID
}

// Add revokes a token ID until expiresAt. Tokens already past expiry are a
// no-op; their signature check rejects them anyway.
func (b *Blacklist) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := b.redis.Set(ctx, b.key(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether a token ID is in the revocation set. Faults are
// returned, not folded into a boolean, so the caller can distinguish
// "revoked" from "cannot tell".
func (b *Blacklist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := b.redis.Exists(ctx, b.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}
