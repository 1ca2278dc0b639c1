package domain

import (
	"time"
)

// Session is a server-side browser session. The upstream token is the
// credential issued by the auth service and forwarded to the chat and
// profile services on the user's behalf.
type Session struct {
	SessionID     string
	UserID        string
	UpstreamToken string
	CreatedAt     time.Time
	LastSeenAt    time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
}

// Active reports whether the session can still authenticate requests.
func (s *Session) Active(now time.Time) bool {
	if s == nil || s.RevokedAt != nil {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// Remaining returns the time until the session expires.
// Returns 0 if the session is no longer active.
func (s *Session) Remaining(now time.Time) time.Duration {
	if !s.Active(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}
