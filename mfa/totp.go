package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

// ErrNotEnrolled is returned when a user has no stored TOTP secret.
var ErrNotEnrolled = errors.New("mfa not enrolled")

// ErrRedisUnavailable wraps connection-level faults from the secret store.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Config carries the TOTP validation parameters. Period and Digits must
// match what the enrollment QR encoded; Skew is how many adjacent periods
// are accepted on either side of now.
type Config struct {
	Issuer string
	Period uint
	Skew   uint
	Digits int
}

// Manager validates TOTP codes against Redis-stored secrets.
type Manager struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// NewManager creates a [Manager]. prefix namespaces the secret keys.
func NewManager(redisClient redis.UniversalClient, prefix string, cfg Config) *Manager {
	return &Manager{redis: redisClient, prefix: prefix, config: cfg}
}

func (m *Manager) key(userID string) string {
	return m.prefix + "mfa:" + userID
}

func (m *Manager) digits() otp.Digits {
	if m.config.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

// Enroll generates a fresh TOTP key for a user, stores its secret and
// returns the otpauth:// provisioning URL for the authenticator app.
func (m *Manager) Enroll(ctx context.Context, userID, accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: accountName,
		Period:      m.config.Period,
		Digits:      m.digits(),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", err
	}
	if err := m.redis.Set(ctx, m.key(userID), key.Secret(), 0).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return key.URL(), nil
}

// Unenroll removes a user's stored secret. Removing a secret that does not
// exist is not an error.
func (m *Manager) Unenroll(ctx context.Context, userID string) error {
	if err := m.redis.Del(ctx, m.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Enrolled reports whether a user has a stored secret.
func (m *Manager) Enrolled(ctx context.Context, userID string) (bool, error) {
	n, err := m.redis.Exists(ctx, m.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}

// Validate checks a TOTP code for a user at the given time. A user without
// a secret validates false with [ErrNotEnrolled]; any other error is a
// store fault and the code's validity is unknown.
func (m *Manager) Validate(ctx context.Context, userID, code string, at time.Time) (bool, error) {
	secret, err := m.redis.Get(ctx, m.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, ErrNotEnrolled
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	valid, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      m.config.Skew,
		Digits:    m.digits(),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// ValidateCustom only errors on malformed input; the code did
		// not validate either way.
		return false, nil
	}
	return valid, nil
}
