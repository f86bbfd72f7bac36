package session

import "time"

// Session is one authenticated device's server-side record. Timestamps are
// unix seconds so the rotation script can read and write them without any
// codec beyond Redis hash fields.
type Session struct {
	SessionID       string `redis:"sid"`
	UserID          string `redis:"uid"`
	Email           string `redis:"email"`
	Role            string `redis:"role"`
	RefreshHash     string `redis:"refresh_hash"`
	AccessTokenID   string `redis:"access_jti"`
	AccessExpiresAt int64  `redis:"access_exp"`
	CreatedAt       int64  `redis:"created_at"`
	LastActivityAt  int64  `redis:"last_activity_at"`
}

// Created returns CreatedAt as a time.
func (s *Session) Created() time.Time {
	return time.Unix(s.CreatedAt, 0)
}

// LastActivity returns LastActivityAt as a time.
func (s *Session) LastActivity() time.Time {
	return time.Unix(s.LastActivityAt, 0)
}
