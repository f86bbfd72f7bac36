// Package session is the Redis-backed session store. A session is a hash
// keyed by ULID session ID, reachable a second way through a refresh-token
// index entry, so redeeming a refresh token never scans the keyspace.
//
// Rotation is a single Lua script that compares the stored refresh-token
// hash against the presented one and swaps in the replacement only on match.
// Redis executes scripts serially, so when several holders of the same token
// race, exactly one observes a match; the rest see the mismatch branch, which
// destroys the session on the assumption that the token leaked.
package session
