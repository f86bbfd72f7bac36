package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no session exists under the given ID.
var ErrNotFound = errors.New("session not found")

// ErrRefreshNotFound is returned when no session is reachable through the
// presented refresh token.
var ErrRefreshNotFound = errors.New("refresh token not recognized")

// ErrRefreshExpired is returned when the target session's TTL has run out.
var ErrRefreshExpired = errors.New("refresh session expired")

// ErrRefreshReuse is returned when the presented refresh token was already
// rotated away. The session has been destroyed by the time the caller sees
// this error.
var ErrRefreshReuse = errors.New("refresh token reuse detected")

// ErrRedisUnavailable wraps every connection-level fault from this package.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

// The compare step and the swap step must be one unit; a WATCH/MULTI retry
// loop would let two redeemers both pass the compare. Index entries for
// spent tokens are left to expire on their own TTL: they are what routes a
// replayed token back to the session so the mismatch branch can fire.
const rotateRefreshScript = `
local session_key = KEYS[1]
local new_index_key = KEYS[2]
local provided_hash = ARGV[1]
local next_hash = ARGV[2]
local session_id = ARGV[3]
local new_jti = ARGV[4]
local new_access_exp = ARGV[5]
local now_unix = ARGV[6]
local ttl_ms = ARGV[7]
local index_prefix = ARGV[8]
local user_prefix = ARGV[9]

local stored = redis.call("HGET", session_key, "refresh_hash")
if not stored then
  redis.call("DEL", index_prefix .. provided_hash)
  return {0}
end

local uid = redis.call("HGET", session_key, "uid") or ""
local user_key = user_prefix .. uid
local old_jti = redis.call("HGET", session_key, "access_jti") or ""
local old_exp = redis.call("HGET", session_key, "access_exp") or "0"

local ttl = redis.call("PTTL", session_key)
if ttl <= 0 then
  redis.call("DEL", session_key)
  redis.call("DEL", index_prefix .. stored)
  redis.call("DEL", index_prefix .. provided_hash)
  redis.call("SREM", user_key, session_id)
  return {1}
end

if stored ~= provided_hash then
  redis.call("DEL", session_key)
  redis.call("DEL", index_prefix .. stored)
  redis.call("DEL", index_prefix .. provided_hash)
  redis.call("SREM", user_key, session_id)
  return {2, old_jti, old_exp, uid}
end

redis.call("HSET", session_key,
  "refresh_hash", next_hash,
  "access_jti", new_jti,
  "access_exp", new_access_exp,
  "last_activity_at", now_unix)
redis.call("PEXPIRE", session_key, ttl_ms)
redis.call("SET", new_index_key, session_id, "PX", ttl_ms)
return {3, old_jti, old_exp, uid}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const destroySessionScript = `
local session_key = KEYS[1]
local session_id = ARGV[1]
local index_prefix = ARGV[2]
local user_prefix = ARGV[3]

local stored = redis.call("HGET", session_key, "refresh_hash")
if not stored then
  return 0
end
local uid = redis.call("HGET", session_key, "uid") or ""
redis.call("DEL", session_key)
redis.call("DEL", index_prefix .. stored)
redis.call("SREM", user_prefix .. uid, session_id)
return 1
`

var destroySessionLua = redis.NewScript(destroySessionScript)

// Store is the Redis session store. It owns the session hashes, the
// refresh-token index entries and the per-user session ID sets.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	sliding bool
}

// NewStore creates a [Store]. prefix namespaces every key; sliding controls
// whether Touch refreshes the last-activity stamp during validation.
func NewStore(redisClient redis.UniversalClient, prefix string, sliding bool) *Store {
	return &Store{redis: redisClient, prefix: prefix, sliding: sliding}
}

func (s *Store) sessionKey(sessionID string) string {
	return s.prefix + "session:" + sessionID
}

func (s *Store) indexKey(refreshHash string) string {
	return s.prefix + "refreshindex:" + refreshHash
}

func (s *Store) indexPrefix() string {
	return s.prefix + "refreshindex:"
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "usersessions:" + userID
}

func (s *Store) userPrefix() string {
	return s.prefix + "usersessions:"
}

// Sliding reports whether last-activity tracking is on.
func (s *Store) Sliding() bool {
	return s.sliding
}

// Create persists a new session with the given TTL and publishes its
// refresh-token index entry and user-set membership in one transaction.
func (s *Store) Create(ctx context.Context, sess *Session, ttl time.Duration) error {
	sessionKey := s.sessionKey(sess.SessionID)
	indexKey := s.indexKey(sess.RefreshHash)
	userKey := s.userKey(sess.UserID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey, map[string]interface{}{
			"sid":              sess.SessionID,
			"uid":              sess.UserID,
			"email":            sess.Email,
			"role":             sess.Role,
			"refresh_hash":     sess.RefreshHash,
			"access_jti":       sess.AccessTokenID,
			"access_exp":       sess.AccessExpiresAt,
			"created_at":       sess.CreatedAt,
			"last_activity_at": sess.LastActivityAt,
		})
		pipe.Expire(ctx, sessionKey, ttl)
		pipe.Set(ctx, indexKey, sess.SessionID, ttl)
		pipe.SAdd(ctx, userKey, sess.SessionID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a session by ID. Missing sessions return [ErrNotFound].
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	cmd := s.redis.HGetAll(ctx, s.sessionKey(sessionID))
	fields, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	var sess Session
	if err := cmd.Scan(&sess); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// FindSessionIDByRefreshHash resolves a refresh-token hash to a session ID
// through the secondary index. The hint may be stale; Rotate re-checks the
// hash against the live session before trusting it.
func (s *Store) FindSessionIDByRefreshHash(ctx context.Context, refreshHash string) (string, error) {
	sessionID, err := s.redis.Get(ctx, s.indexKey(refreshHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrRefreshNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return sessionID, nil
}

// RotateOutcome carries what the rotation script learned about the session's
// previous access token, so the caller can revoke it.
type RotateOutcome struct {
	UserID             string
	OldAccessTokenID   string
	OldAccessExpiresAt time.Time
}

// Rotate atomically swaps the session's refresh-token hash from providedHash
// to nextHash, stamps the new access token's ID and expiry, and extends the
// session for a full refresh lifetime. On hash mismatch the session is
// destroyed and [ErrRefreshReuse] is returned together with the outcome, so
// the caller can still blacklist the outstanding access token.
func (s *Store) Rotate(
	ctx context.Context,
	sessionID, providedHash, nextHash, newAccessTokenID string,
	newAccessExpiresAt, now time.Time,
	refreshTTL time.Duration,
) (*RotateOutcome, error) {
	keys := []string{s.sessionKey(sessionID), s.indexKey(nextHash)}
	argv := []interface{}{
		providedHash,
		nextHash,
		sessionID,
		newAccessTokenID,
		strconv.FormatInt(newAccessExpiresAt.Unix(), 10),
		strconv.FormatInt(now.Unix(), 10),
		strconv.FormatInt(refreshTTL.Milliseconds(), 10),
		s.indexPrefix(),
		s.userPrefix(),
	}

	raw, err := rotateRefreshLua.Run(ctx, s.redis, keys, argv...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) == 0 {
		return nil, fmt.Errorf("%w: unexpected rotate reply %v", ErrRedisUnavailable, raw)
	}
	status, ok := reply[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected rotate status %v", ErrRedisUnavailable, reply[0])
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrRefreshNotFound
	case rotateStatusExpired:
		return nil, ErrRefreshExpired
	case rotateStatusMismatch:
		return decodeOutcome(reply), ErrRefreshReuse
	case rotateStatusRotated:
		return decodeOutcome(reply), nil
	default:
		return nil, fmt.Errorf("%w: unexpected rotate status %d", ErrRedisUnavailable, status)
	}
}

func decodeOutcome(reply []interface{}) *RotateOutcome {
	out := &RotateOutcome{}
	if len(reply) > 1 {
		out.OldAccessTokenID, _ = reply[1].(string)
	}
	if len(reply) > 2 {
		if raw, ok := reply[2].(string); ok {
			if exp, err := strconv.ParseInt(raw, 10, 64); err == nil {
				out.OldAccessExpiresAt = time.Unix(exp, 0)
			}
		}
	}
	if len(reply) > 3 {
		out.UserID, _ = reply[3].(string)
	}
	return out
}

// Touch stamps the session's last activity time. The absolute TTL is never
// extended here; only rotation buys a session more lifetime.
func (s *Store) Touch(ctx context.Context, sessionID string, now time.Time) error {
	key := s.sessionKey(sessionID)
	n, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n == 0 {
		return nil
	}
	if err := s.redis.HSet(ctx, key, "last_activity_at", now.Unix()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes one session, its refresh-token index entry and its user-set
// membership. Deleting a session that is already gone is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	keys := []string{s.sessionKey(sessionID)}
	argv := []interface{}{sessionID, s.indexPrefix(), s.userPrefix()}

	existed, err := destroySessionLua.Run(ctx, s.redis, keys, argv...).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

// DeleteAllForUser removes every tracked session for a user and returns how
// many were live. A session created while the set is being drained is not
// captured; it expires on its own TTL or falls to the next call.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var removed int
	for _, sessionID := range sessionIDs {
		existed, err := s.Delete(ctx, sessionID)
		if err != nil {
			return removed, err
		}
		if existed {
			removed++
		}
	}

	if err := s.redis.Del(ctx, userKey).Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return removed, nil
}

// ActiveSessionIDs returns the tracked session IDs for a user.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping verifies the store connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
