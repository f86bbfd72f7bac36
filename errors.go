package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown account, wrong password, and
	// disabled directory lookups alike. Callers must surface it with a
	// single generic message so lockout and error shape cannot be used as
	// an account-existence oracle.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMFAInvalid is returned when a presented one-time code does not
	// verify against the enrolled secret. It counts as a failed attempt
	// for lockout purposes.
	ErrMFAInvalid = errors.New("invalid mfa code")

	// ErrRateLimited is the lockout sentinel. Engine flows return it
	// wrapped in a [RateLimitedError] carrying the retry delay.
	ErrRateLimited = errors.New("too many attempts")

	// ErrRefreshInvalid is returned for refresh tokens that are unknown,
	// expired, or malformed. Uniform on purpose.
	ErrRefreshInvalid = errors.New("invalid refresh token")

	// ErrRefreshReuse is returned when a superseded refresh token is
	// presented against a still-live session. The session is destroyed
	// before this error is returned; see [Engine.SetReuseHandler].
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrAccessInvalid is the access-token verification sentinel. Engine
	// flows return it wrapped in an [AccessInvalidError] carrying the
	// sub-reason for server-side logs.
	ErrAccessInvalid = errors.New("invalid access token")

	// ErrStoreUnavailable reports a session-store fault (connection error
	// or timeout). It is a service failure, never an allow or a deny, and
	// maps to a 503 at the transport.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrEngineNotReady is returned when a flow is invoked before
	// [Engine.Connect] has succeeded.
	ErrEngineNotReady = errors.New("engine not connected")
)

// RateLimitedError wraps [ErrRateLimited] with the machine-readable delay
// until the lockout window elapses.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// AccessReason is the internal sub-reason attached to an access-token
// verification failure. It is for observability only; the user-facing
// response stays generic.
type AccessReason string

const (
	ReasonMissing     AccessReason = "missing"
	ReasonMalformed   AccessReason = "malformed"
	ReasonExpired     AccessReason = "expired"
	ReasonBlacklisted AccessReason = "blacklisted"
	ReasonSessionGone AccessReason = "session_gone"
)

// AccessInvalidError wraps [ErrAccessInvalid] with a sub-reason.
type AccessInvalidError struct {
	Reason AccessReason
}

func (e *AccessInvalidError) Error() string {
	return "invalid access token: " + string(e.Reason)
}

func (e *AccessInvalidError) Is(target error) bool { return target == ErrAccessInvalid }
