package sessions

import "time"

type Repo interface {
	// Create stores a new session
	Create(session *Session) error

	// GetByToken retrieves a session by its opaque token
	GetByToken(token string) (*Session, error)

	// Delete removes a session by its opaque token
	Delete(token string) error

	// FindActiveByUser returns any unexpired session for the user within
	// the tenant, or ErrSessionNotFound when none exists
	FindActiveByUser(tenantID, userID string, now time.Time) (*Session, error)

	// Touch bumps the session's UpdatedAt without extending its expiry
	Touch(sessionID string, now time.Time) error

	// DeleteExpired removes sessions that expired before the given time
	DeleteExpired(before time.Time) error
}
