package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pulseboard/authgate/sessions"
)

const (
	// sessionCookieName holds the opaque session token.
	sessionCookieName = "pb_session"
	// sessionDataCookieName caches a non-authoritative projection of the
	// session so pages can render user hints without a store lookup.
	sessionDataCookieName = "pb_session_data"
)

// sessionData is the cached projection stored alongside the token. It is
// never trusted for authentication.
type sessionData struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func sessionTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// setSessionCookies sets the token cookie and its data companion together.
func (s *Server) setSessionCookies(w http.ResponseWriter, r *http.Request, session *sessions.Session) {
	isSecure := getScheme(r) == "https"
	maxAge := int(time.Until(session.ExpiresAt).Seconds())

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})

	data, err := json.Marshal(sessionData{UserID: session.UserID, ExpiresAt: session.ExpiresAt})
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionDataCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// clearSessionCookies expires both cookies together. An invalid session must
// never leave a stale data cookie behind.
func (s *Server) clearSessionCookies(w http.ResponseWriter, r *http.Request) {
	isSecure := getScheme(r) == "https"
	for _, name := range []string{sessionCookieName, sessionDataCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   isSecure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
}
