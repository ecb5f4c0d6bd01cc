// Package admission decides, for every inbound request, whether to serve it,
// rewrite it into a tenant's namespace, redirect it to login, or reject it
// as belonging to no tenant.
//
// The decision is a pure value over (domain class, route class, session
// state): cookie reads and writes travel in the Request and Decision structs
// rather than through a framework context, so the whole table is directly
// unit-testable.
package admission

import (
	"context"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/pulseboard/authgate/internal/errors"
	"github.com/pulseboard/authgate/sessions"
	"github.com/pulseboard/authgate/tenants"
)

// Action is the outcome class of an admission decision.
type Action int

const (
	// ActionPass serves the request unchanged (bypassed assets, main-domain
	// public paths).
	ActionPass Action = iota
	// ActionRewrite internally rewrites the path into the tenant namespace;
	// the browser URL is unchanged.
	ActionRewrite
	// ActionRedirect issues a 30x to Location.
	ActionRedirect
	// ActionNotFound rewrites to the tenant-not-found page.
	ActionNotFound
	// ActionBadRequest rejects malformed input (a request with no host).
	ActionBadRequest
)

// Request is the slice of an HTTP request the admission table looks at.
type Request struct {
	Host         string
	Path         string
	RawQuery     string
	SessionToken string // empty when no session cookie was presented
}

// Decision is what the HTTP layer executes. ClearSessionCookies instructs it
// to expire both session cookies together.
type Decision struct {
	Action              Action
	Location            string // rewrite target or redirect URL
	TenantID            string
	ClearSessionCookies bool
}

// SessionValidator is the cheap hot-path check on a presented session token.
// The token must belong to the resolved tenant: a session minted by one
// tenant's flow is never acceptable on another tenant's domain. A session
// revoked moments ago may still pass once; handlers needing strong
// freshness re-verify downstream.
type SessionValidator interface {
	Validate(ctx context.Context, tenantID, token string) bool
}

// RepoSessionValidator validates tokens against the session store.
type RepoSessionValidator struct {
	Repo    sessions.Repo
	NowFunc func() time.Time
}

func (v *RepoSessionValidator) Validate(_ context.Context, tenantID, token string) bool {
	s, err := v.Repo.GetByToken(token)
	if err != nil {
		return false
	}
	if s.TenantID != tenantID {
		return false
	}
	now := time.Now
	if v.NowFunc != nil {
		now = v.NowFunc
	}
	return !s.Expired(now())
}

const (
	loginPath          = "/login"
	tenantHomePath     = "/"
	tenantNotFoundPath = "/tenant-not-found"
)

// Fixed allowlist of paths that skip tenant resolution entirely. This bypass
// must never apply to /api/ paths, which need tenant context to reach the
// correct database.
var bypassPrefixes = []string{"/healthz", "/assets/", "/favicon"}

var bypassSuffixes = []string{
	".css", ".js", ".map", ".png", ".jpg", ".jpeg", ".gif", ".svg",
	".ico", ".woff", ".woff2", ".ttf", ".webmanifest",
}

var authEntryPaths = map[string]bool{
	"/login":  true,
	"/signup": true,
}

// Public paths inside a tenant: the portal surface plus the federated entry
// points, each of which independently verifies its own signed token.
var publicPrefixes = []string{
	"/b/", "/roadmap", "/changelog",
	"/auth/", "/callback/", "/session-transfer", "/api/widget/",
}

// Engine orchestrates the tenant resolver and session validator.
type Engine struct {
	resolver  *tenants.Resolver
	validator SessionValidator
	appDomain string // the main application domain (marketing/app shell)
}

func NewEngine(resolver *tenants.Resolver, validator SessionValidator, appDomain string) *Engine {
	return &Engine{
		resolver:  resolver,
		validator: validator,
		appDomain: tenants.NormalizeHost(appDomain),
	}
}

// Admit runs the decision table for one request.
func (e *Engine) Admit(ctx context.Context, req Request) Decision {
	if bypassed(req.Path) {
		return Decision{Action: ActionPass}
	}

	host := tenants.NormalizeHost(req.Host)

	// The main app domain is a strict subset of the tenant table: public
	// paths pass, everything else goes home.
	if host != "" && host == e.appDomain {
		if isPublic(req.Path) {
			return Decision{Action: ActionPass}
		}
		return Decision{Action: ActionRedirect, Location: tenantHomePath}
	}

	tenant, err := e.resolver.Resolve(req.Host)
	if err != nil {
		// A request with no host at all is malformed input, not an
		// unknown tenant.
		if apperrors.Is(err, apperrors.ErrMissingHost) {
			return Decision{Action: ActionBadRequest}
		}
		// Unrecognized tenant domain: keep the requested path visible to
		// the not-found page, nothing else.
		return Decision{
			Action:   ActionNotFound,
			Location: tenantNotFoundPath + "?path=" + url.QueryEscape(req.Path),
		}
	}

	query, _ := url.ParseQuery(req.RawQuery)

	if authEntryPaths[req.Path] {
		return e.admitAuthEntry(ctx, tenant, req, query)
	}
	if isPublic(req.Path) {
		return rewrite(tenant, req)
	}
	return e.admitProtected(ctx, tenant, req)
}

// admitAuthEntry handles the login/signup rows of the table.
func (e *Engine) admitAuthEntry(ctx context.Context, tenant *tenants.Tenant, req Request, query url.Values) Decision {
	// Invitation flows are always admitted, even for a user already logged
	// in elsewhere.
	if query.Has("invitation") {
		return rewrite(tenant, req)
	}

	hasError := query.Has("error")
	if req.SessionToken != "" && !hasError {
		if e.validator.Validate(ctx, tenant.ID, req.SessionToken) {
			// Already logged in: away from the login page, to tenant home.
			return Decision{Action: ActionRedirect, Location: tenantHomePath, TenantID: tenant.ID}
		}
		d := rewrite(tenant, req)
		d.ClearSessionCookies = true
		return d
	}

	return rewrite(tenant, req)
}

// admitProtected handles the protected rows of the table.
func (e *Engine) admitProtected(ctx context.Context, tenant *tenants.Tenant, req Request) Decision {
	if req.SessionToken == "" {
		return Decision{
			Action:   ActionRedirect,
			Location: loginRedirect(req),
			TenantID: tenant.ID,
		}
	}
	if e.validator.Validate(ctx, tenant.ID, req.SessionToken) {
		return rewrite(tenant, req)
	}
	return Decision{
		Action:              ActionRedirect,
		Location:            loginRedirect(req),
		TenantID:            tenant.ID,
		ClearSessionCookies: true,
	}
}

// rewrite prefixes the path into the tenant-scoped namespace, preserving the
// query string. The tenant ID is part of the target, so no downstream cache
// key can collide across tenants.
func rewrite(tenant *tenants.Tenant, req Request) Decision {
	target := "/t/" + tenant.ID + req.Path
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}
	return Decision{Action: ActionRewrite, Location: target, TenantID: tenant.ID}
}

func loginRedirect(req Request) string {
	original := req.Path
	if req.RawQuery != "" {
		original += "?" + req.RawQuery
	}
	return loginPath + "?callbackUrl=" + url.QueryEscape(original)
}

func bypassed(path string) bool {
	if strings.HasPrefix(path, "/api/") {
		return false
	}
	for _, prefix := range bypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, suffix := range bypassSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

func isPublic(path string) bool {
	if path == tenantHomePath {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
