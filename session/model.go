package session

import (
	"time"

	"github.com/MrEthical07/lexguard/permission"
	"github.com/google/uuid"
)

// Session is the authenticated principal attached to a request.
// A nil *Session means "no session".
type Session struct {
	ID     string
	UserID string
	Role   permission.Role

	CreatedAt int64
	ExpiresAt int64
}

// New creates a session with a random ID that expires ttl after now.
func New(userID string, role permission.Role, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

// Remaining returns the time left before expiry, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	d := time.Unix(s.ExpiresAt, 0).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
