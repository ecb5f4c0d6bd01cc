// Package transfer implements the one-time session handoff: a trusted
// provisioning party signs a short-lived JWT, and redeeming it here
// establishes a local user, membership, and session on this domain.
package transfer

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/pulseboard/authgate/internal/secrets"
	"github.com/pulseboard/authgate/members"
	"github.com/pulseboard/authgate/sessions"
	"github.com/pulseboard/authgate/tenants"
	"github.com/pulseboard/authgate/users"
)

// Redirect error codes surfaced to the login page.
const (
	CodeTokenExpired           = "token_expired"
	CodeInvalidToken           = "invalid_token"
	CodeBootstrapNotConfigured = "bootstrap_not_configured"
	CodeSessionFailed          = "session_failed"
)

// DefaultOnboardingPath is where a redeemed transfer lands when the token
// carries no callback URL.
const DefaultOnboardingPath = "/onboarding"

// HandoffError carries the redirect code for a failed transfer.
type HandoffError struct {
	Code string
	Err  error
}

func (e *HandoffError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *HandoffError) Unwrap() error { return e.Err }

func handoffErr(code string, err error) *HandoffError {
	return &HandoffError{Code: code, Err: err}
}

// Claims is the transfer token payload. Context selects the role granted
// when no membership exists yet.
type Claims struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	Image       string `json:"image,omitempty"`
	Context     string `json:"context"`
	CallbackURL string `json:"callbackUrl,omitempty"`
	jwt.RegisteredClaims
}

// Repos holds the repository dependencies for the transfer Service.
type Repos struct {
	Users    users.UserRepo
	Members  members.Repo
	Sessions sessions.Repo
}

// Service redeems transfer tokens.
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
		return nil, errors.New("[transfer.New] all repos are required")
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

// Result is a redeemed handoff: the session to set as a cookie and where to
// send the browser.
type Result struct {
	CallbackURL string
	User        *users.User
	Session     *sessions.Session
}

// Redeem verifies the transfer token and establishes the local rows. Unlike
// the OIDC flow, an existing membership's role is never changed here, in
// either direction.
func (s *Service) Redeem(tenant *tenants.Tenant, rawToken string) (*Result, error) {
	secret := s.secrets.BootstrapSecret()
	if len(secret) == 0 {
		return nil, handoffErr(CodeBootstrapNotConfigured, errors.New("bootstrap secret not set"))
	}
	if rawToken == "" {
		return nil, handoffErr(CodeInvalidToken, errors.New("missing token"))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(rawToken, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.nowFunc),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, handoffErr(CodeTokenExpired, err)
		}
		return nil, handoffErr(CodeInvalidToken, err)
	}
	if claims.Email == "" {
		return nil, handoffErr(CodeInvalidToken, errors.New("token missing email"))
	}

	role := members.RoleUser
	if claims.Context == "team" {
		role = members.RoleAdmin
	}

	// The issuing party already verified the address.
	user, _, err := s.repos.Users.FindOrCreateByEmail(&users.User{
		Email:         claims.Email,
		Name:          claims.Name,
		AvatarURL:     claims.Image,
		EmailVerified: true,
		CreatedAt:     s.nowFunc(),
	})
	if err != nil {
		return nil, handoffErr(CodeSessionFailed, err)
	}

	if _, err := members.EnsureExists(s.repos.Members, tenant.ID, user.ID, role); err != nil {
		return nil, handoffErr(CodeSessionFailed, err)
	}

	session := sessions.New(tenant.ID, user.ID, sessions.DefaultTTL, sessions.Meta{}, s.nowFunc())
	if err := s.repos.Sessions.Create(session); err != nil {
		return nil, handoffErr(CodeSessionFailed, err)
	}

	callbackURL := claims.CallbackURL
	if callbackURL == "" {
		callbackURL = DefaultOnboardingPath
	}
	return &Result{CallbackURL: callbackURL, User: user, Session: session}, nil
}
