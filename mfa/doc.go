// Package mfa stores per-user TOTP secrets in Redis and validates codes
// against them. Validation fails closed: a user with no enrolled secret
// never validates, and a store fault is an error, not a pass.
package mfa
