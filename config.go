package authcore

import (
	"errors"
	"time"
)

// Config holds all Engine tuning. Construct with [DefaultConfig] and
// override, then treat as immutable once passed to [New].
type Config struct {
	JWT       JWTConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Password  PasswordConfig
	MFA       MFAConfig
	Metrics   MetricsConfig

	// KeyPrefix namespaces every Redis key this engine writes. Empty is
	// valid and uses the bare logical key names.
	KeyPrefix string

	// StoreTimeout bounds each Redis round-trip. A store call that
	// exceeds it surfaces as [ErrStoreUnavailable].
	StoreTimeout time.Duration
}

// JWTConfig controls access-token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	// SlidingActivity stamps the session's last-activity time on every
	// successful Validate. The absolute TTL is never extended by reads;
	// only refresh rotation buys a session more lifetime.
	SlidingActivity bool
}

// RateLimitConfig controls the login lockout window.
type RateLimitConfig struct {
	MaxAttempts     int
	LockoutDuration time.Duration
}

// PasswordConfig carries the Argon2id parameters used to verify (and, for
// integrations that want it, produce) credential hashes.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// MFAConfig controls TOTP validation.
type MFAConfig struct {
	Issuer string
	Period uint
	Skew   uint
	Digits int
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the baseline: 1h access tokens, 7d refresh/session
// lifetime, 5-attempt lockout for 15 minutes, RFC 6238 TOTP defaults.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			SlidingActivity: true,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts:     5,
			LockoutDuration: 15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        2,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		MFA: MFAConfig{
			Issuer: "authcore",
			Period: 30,
			Skew:   1,
			Digits: 6,
		},
		Metrics:      MetricsConfig{Enabled: true},
		StoreTimeout: 250 * time.Millisecond,
	}
}

// Validate rejects configurations the Engine cannot run with.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("jwt: access ttl must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("jwt: refresh ttl must exceed access ttl")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("jwt: hs256 requires a private key")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("jwt: ed25519 requires a key pair")
		}
	default:
		return errors.New("jwt: unsupported signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("jwt: leeway out of range")
	}
	if c.RateLimit.MaxAttempts <= 0 {
		return errors.New("ratelimit: max attempts must be positive")
	}
	if c.RateLimit.LockoutDuration <= 0 {
		return errors.New("ratelimit: lockout duration must be positive")
	}
	if c.MFA.Period == 0 || c.MFA.Digits < 6 || c.MFA.Digits > 8 {
		return errors.New("mfa: invalid totp parameters")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	return nil
}
