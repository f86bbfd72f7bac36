package authcore

import (
	"context"
	"strings"
	"time"
)

// Credential is the read-only account record the user directory returns for
// a login attempt. The directory owns it; authcore never mutates it.
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
	MFAEnabled   bool
	Role         string
}

// UserDirectory is the integration point to the external account store.
// FindByEmail receives the normalized (lower-cased, trimmed) address and
// returns [ErrInvalidCredentials]-compatible failures as plain errors; the
// Engine treats any lookup failure as an unknown account.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*Credential, error)
}

// LoginRecorder is an optional extension of [UserDirectory]. When the
// directory implements it, the Engine reports successful logins so the
// directory can keep last-login bookkeeping. Failures are logged and
// otherwise ignored.
type LoginRecorder interface {
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}

// TokenPair is the product of a successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	TokenType    string
}

// LoginResult is returned by [Engine.Login]. Exactly one of TokenPair and
// MFARequired is populated: an MFA-enabled account that presented a valid
// password but no code gets the MFARequired branch, which is not a failure.
type LoginResult struct {
	TokenPair *TokenPair

	MFARequired bool
	MFAType     string
}

// LoginInput carries the credentials presented to [Engine.Login]. MFACode is
// optional; leaving it empty for an MFA-enabled account yields the
// MFARequired branch.
type LoginInput struct {
	Email    string
	Password string
	MFACode  string
}

// AuthResult is the decoded, verified identity returned by
// [Engine.Validate].
type AuthResult struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
	TokenID   string
	ExpiresAt time.Time
}

// NormalizeEmail lower-cases and trims an address. It is the identity key
// for lockout counters and directory lookups, applied before either sees
// the value.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
