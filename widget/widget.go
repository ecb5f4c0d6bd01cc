// Package widget authenticates an embedding site's end-user into the
// in-page widget. Two input modes exist: a signed token per user, and a
// legacy per-field HMAC kept for embedders that have not migrated.
package widget

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pulseboard/authgate/internal/secrets"
	"github.com/pulseboard/authgate/members"
	"github.com/pulseboard/authgate/sessions"
	"github.com/pulseboard/authgate/tenants"
	"github.com/pulseboard/authgate/users"
)

// Error codes returned in the identify response body.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeTokenInvalid    = "TOKEN_INVALID"
	CodeHMACInvalid     = "HMAC_INVALID"
	CodeWidgetDisabled  = "WIDGET_DISABLED"
	CodeServerError     = "SERVER_ERROR"
)

// IdentifyError maps a failed identify to a status code and a response body
// safe to hand to the embedding site.
type IdentifyError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *IdentifyError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *IdentifyError) Unwrap() error { return e.Err }

func identifyErr(status int, code, message string, err error) *IdentifyError {
	return &IdentifyError{Status: status, Code: code, Message: message, Err: err}
}

// IdentifyRequest is the POST body. SSOToken selects the token mode; ID and
// Email select the legacy HMAC mode. The two are mutually exclusive.
type IdentifyRequest struct {
	SSOToken  string `json:"ssoToken,omitempty"`
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarURL,omitempty"`
	Hash      string `json:"hash,omitempty"`
}

// UserProjection is the minimal user view returned to the embedding site.
type UserProjection struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl"`
}

// IdentifyResponse is the success body.
type IdentifyResponse struct {
	SessionToken string         `json:"sessionToken"`
	User         UserProjection `json:"user"`
}

// Repos holds the repository dependencies for the widget Service.
type Repos struct {
	Users    users.UserRepo
	Members  members.Repo
	Sessions sessions.Repo
}

// Service verifies identify requests and maps them onto local sessions.
type Service struct {
	repos   Repos
	secrets secrets.Provider
	nowFunc func() time.Time
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func New(repos Repos, secretProvider secrets.Provider, options ...ServiceOption) (*Service, error) {
	if repos.Users == nil || repos.Members == nil || repos.Sessions == nil {
		return nil, errors.New("[widget.New] all repos are required")
	}

	s := &Service{
		repos:   repos,
		secrets: secretProvider,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// identity is the verified end-user regardless of input mode.
type identity struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
}

// Identify verifies the request under the tenant's widget settings and
// returns the session token plus the user projection. Every failure path
// returns a *IdentifyError and identifies nobody.
func (s *Service) Identify(tenant *tenants.Tenant, req *IdentifyRequest) (*IdentifyResponse, error) {
	settings := tenant.Widget
	if settings == nil || !settings.Enabled {
		return nil, identifyErr(http.StatusForbidden, CodeWidgetDisabled, "widget is not enabled for this tenant", nil)
	}

	secret := []byte(settings.Secret)
	if len(secret) == 0 {
		secret = s.secrets.WidgetFallbackSecret()
	}

	var (
		who *identity
		err error
	)
	switch {
	case req.SSOToken != "":
		who, err = verifyToken(req.SSOToken, secret, s.nowFunc())
	case req.ID != "" && req.Email != "":
		who, err = verifyLegacyHMAC(req, settings, secret)
	default:
		return nil, identifyErr(http.StatusBadRequest, CodeValidationError, "either ssoToken or id and email are required", nil)
	}
	if err != nil {
		return nil, err
	}

	return s.establish(tenant, who)
}

// establish maps the verified identity onto user, member, and session rows.
// An unexpired session for the user is reused rather than duplicated.
func (s *Service) establish(tenant *tenants.Tenant, who *identity) (*IdentifyResponse, error) {
	now := s.nowFunc()

	user, created, err := s.repos.Users.FindOrCreateByEmail(&users.User{
		Email:         who.Email,
		Name:          who.Name,
		AvatarURL:     who.AvatarURL,
		EmailVerified: false,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, identifyErr(http.StatusInternalServerError, CodeServerError, "could not identify user", err)
	}
	if !created && user.ApplyProfile(who.Name, who.AvatarURL) {
		if err := s.repos.Users.Upsert(user); err != nil {
			return nil, identifyErr(http.StatusInternalServerError, CodeServerError, "could not identify user", err)
		}
	}

	if _, err := members.EnsureExists(s.repos.Members, tenant.ID, user.ID, members.RoleUser); err != nil {
		return nil, identifyErr(http.StatusInternalServerError, CodeServerError, "could not identify user", err)
	}

	session, err := s.repos.Sessions.FindActiveByUser(tenant.ID, user.ID, now)
	switch {
	case err == nil:
		if err := s.repos.Sessions.Touch(session.ID, now); err != nil {
			return nil, identifyErr(http.StatusInternalServerError, CodeServerError, "could not establish session", err)
		}
	default:
		session = sessions.New(tenant.ID, user.ID, sessions.DefaultTTL, sessions.Meta{}, now)
		if err := s.repos.Sessions.Create(session); err != nil {
			return nil, identifyErr(http.StatusInternalServerError, CodeServerError, "could not establish session", err)
		}
	}

	return &IdentifyResponse{
		SessionToken: session.Token,
		User: UserProjection{
			ID:        user.ID,
			Name:      user.Name,
			Email:     user.Email,
			AvatarURL: user.AvatarURL,
		},
	}, nil
}

type tokenClaims struct {
	Sub       string `json:"sub"`
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarURL"`
	Exp       int64  `json:"exp"`
}

// verifyToken checks an HS256 token directly: the header alg must be exactly
// HS256, the signature is recomputed over header.payload and compared in
// constant time, and exp is enforced when present.
func verifyToken(raw string, secret []byte, now time.Time) (*identity, error) {
	if len(secret) == 0 {
		return nil, identifyErr(http.StatusForbidden, CodeWidgetDisabled, "no widget secret configured", nil)
	}

	headerB64, rest, ok := strings.Cut(raw, ".")
	if !ok {
		return nil, identifyErr(http.StatusUnauthorized, CodeTokenInvalid, "malformed token", nil)
	}
	payloadB64, sigB64, ok := strings.Cut(rest, ".")
	if !ok {
		return nil, identifyErr(http.StatusUnauthorized, CodeTokenInvalid, "malformed token", nil)
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return nil, identifyErr(http.StatusUnauthorized, CodeTokenInvalid, "malformed token", err)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, identifyErr(http.StatusUnauthorized, CodeTokenInvalid, "malformed token", err)
	}
	if header.Alg != "HS256" {
		return nil, identifyErr(http.StatusUnauthorized, CodeTokenInvalid, "unsupported algorithm", nil)
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, identifyErr(http.StatusUnauthorized, CodeTokenInvalid, "malformed token", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(headerB64 + "." + payloadB64))
	expected := mac.Sum(nil)
	if len(sig) != len(expected) || !hmac.Equal(sig, expected) {
		return nil, identifyErr(http.StatusUnauthorized, CodeTokenInvalid, "signature mismatch", nil)
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, identifyErr(http.StatusUnauthorized, CodeTokenInvalid, "malformed token", err)
	}
	var claims tokenClaims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, identifyErr(http.StatusUnauthorized, CodeTokenInvalid, "malformed token", err)
	}
	if claims.Exp != 0 && now.Unix() >= claims.Exp {
		return nil, identifyErr(http.StatusUnauthorized, CodeTokenInvalid, "token expired", nil)
	}

	id := claims.Sub
	if id == "" {
		id = claims.ID
	}
	if id == "" || claims.Email == "" {
		return nil, identifyErr(http.StatusUnauthorized, CodeTokenInvalid, "token missing sub or email", nil)
	}

	return &identity{ID: id, Email: claims.Email, Name: claims.Name, AvatarURL: claims.AvatarURL}, nil
}

// verifyLegacyHMAC checks the per-field hash mode. Tenants that require
// verification must send hash = HMAC-SHA256(id, widgetSecret) hex-encoded.
func verifyLegacyHMAC(req *IdentifyRequest, settings *tenants.WidgetSettings, secret []byte) (*identity, error) {
	if settings.RequireVerification {
		if len(secret) == 0 {
			return nil, identifyErr(http.StatusForbidden, CodeWidgetDisabled, "no widget secret configured", nil)
		}
		if req.Hash == "" {
			return nil, identifyErr(http.StatusForbidden, CodeHMACInvalid, "hash is required", nil)
		}
		if !hashMatches(req.ID, req.Hash, secret) {
			return nil, identifyErr(http.StatusForbidden, CodeHMACInvalid, "hash mismatch", nil)
		}
	}

	return &identity{ID: req.ID, Email: req.Email, Name: req.Name, AvatarURL: req.AvatarURL}, nil
}

// Hash computes the legacy verification hash for an end-user ID. Exposed so
// embedders and tests can produce valid hashes.
func Hash(id string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

func hashMatches(id, hash string, secret []byte) bool {
	expected := Hash(id, secret)
	if len(hash) != len(expected) {
		return false
	}
	return hmac.Equal([]byte(hash), []byte(expected))
}
