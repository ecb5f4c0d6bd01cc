// Package sessions stores the opaque-token login sessions issued by the
// federated-login handlers. Sessions are scoped to one user and are never
// shared across tenants.
package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

const (
	tokenByteLength = 32

	// DefaultTTL is the lifetime of a session issued by a federated login.
	DefaultTTL = 30 * 24 * time.Hour
)

// Session is an authenticated login session. The token is opaque; validity
// is decided by presence in the store, the expiry timestamp, and the tenant
// the session was minted for. A token is never valid on another tenant.
type Session struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"` // never serialize
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// Meta carries the request metadata recorded on session creation.
type Meta struct {
	IPAddress string
	UserAgent string
}

// New builds an unsaved session with a fresh opaque token, bound to the
// tenant whose flow issued it.
func New(tenantID, userID string, ttl time.Duration, meta Meta, now time.Time) *Session {
	return &Session{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		UserID:    userID,
		Token:     generateToken(),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

func generateToken() string {
	b := make([]byte, tokenByteLength)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
