package users

import (
	"strings"
	"time"
)

// User is the minimal identity record this subsystem reads and writes.
// Users are created on first successful federated login or signup; repeat
// federated logins may refresh the display name and avatar.
type User struct {
	ID            string    `json:"id,omitempty"`
	Email         string    `json:"email,omitempty"` // unique, case-insensitive
	Name          string    `json:"name,omitempty"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	EmailVerified bool      `json:"email_verified,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// NormalizeEmail canonicalizes an email for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the domain part of an email, or "" when malformed.
func EmailDomain(email string) string {
	_, domain, found := strings.Cut(NormalizeEmail(email), "@")
	if !found {
		return ""
	}
	return domain
}

// ApplyProfile overwrites name and avatar from a federated profile, keeping
// existing values when the incoming ones are empty. Returns true if
// anything changed.
func (u *User) ApplyProfile(name, avatarURL string) bool {
	changed := false
	if name != "" && name != u.Name {
		u.Name = name
		changed = true
	}
	if avatarURL != "" && avatarURL != u.AvatarURL {
		u.AvatarURL = avatarURL
		changed = true
	}
	return changed
}
