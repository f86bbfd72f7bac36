// Package authcore implements the authentication and session lifecycle core:
// credential verification, TOTP-based MFA, JWT access tokens with rotating
// opaque refresh tokens, Redis-backed sessions, login lockout, and token
// revocation.
//
// The package is designed for horizontally scaled stateless deployments: all
// durable state (sessions, lockout counters, revocation entries, MFA secrets)
// lives in a shared Redis instance, and every mutation is expressed as an
// atomic Redis operation (INCR, Lua compare-and-swap, conditional delete) so
// concurrent requests for the same account resolve deterministically across
// processes.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Config], the
// [UserDirectory] integration interface, and the result/error types of the
// four flows (Login, Refresh, Logout, Validate). Session persistence, lockout
// counters, and the revocation set live under internal/ and sibling
// subpackages and are composed only by the Engine.
//
// The user directory (credential lookup by email) is an external
// collaborator. authcore never creates, updates, or deletes directory
// records; the optional [LoginRecorder] hook is the only write path back, and
// it is best-effort.
//
// # What this package must NOT do
//
//   - Hold authoritative state in process memory beyond a single request.
//   - Log or return plaintext passwords, password hashes, MFA secrets, or
//     raw refresh tokens.
//   - Fail open: a Redis fault during a lockout check or token verification
//     surfaces as [ErrStoreUnavailable], never as an allow or a deny.
package authcore
