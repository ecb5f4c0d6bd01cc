package server

import (
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pulseboard/authgate/accounts"
	"github.com/pulseboard/authgate/admission"
	"github.com/pulseboard/authgate/discovery"
	"github.com/pulseboard/authgate/federation"
	"github.com/pulseboard/authgate/internal/config"
	"github.com/pulseboard/authgate/internal/secrets"
	"github.com/pulseboard/authgate/members"
	"github.com/pulseboard/authgate/sessions"
	"github.com/pulseboard/authgate/statetoken"
	"github.com/pulseboard/authgate/tenants"
	"github.com/pulseboard/authgate/transfer"
	"github.com/pulseboard/authgate/users"
	"github.com/pulseboard/authgate/widget"
)

// Repos bundles every repository the server depends on.
type Repos struct {
	Tenants  tenants.Repo
	Users    users.UserRepo
	Accounts accounts.Repo
	Members  members.Repo
	Sessions sessions.Repo
}

// Server is the admission front of the application: every request runs
// through the admission engine first, then either reaches one of the auth
// endpoints registered here or is handed to the downstream app handler.
type Server struct {
	env    string // Environment (e.g., "DEV", "production")
	mux    *http.ServeMux
	routes []string
	config config.Config
	logger zerolog.Logger
	repos  Repos

	engine     *admission.Engine
	federation *federation.Client
	transfer   *transfer.Service
	widget     *widget.Service

	app http.Handler
}

// Option defines a function type to modify the Server instance.
type Option func(*Server)

// WithApp sets the downstream application handler that passed and rewritten
// requests are forwarded to.
func WithApp(app http.Handler) Option {
	return func(s *Server) {
		s.app = app
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithFederationClient overrides the federation client (primarily for testing).
func WithFederationClient(client *federation.Client) Option {
	return func(s *Server) {
		s.federation = client
	}
}

func New(cfg config.Config, repos Repos, secretProvider secrets.Provider, options ...Option) (*Server, error) {
	if repos.Tenants == nil || repos.Users == nil || repos.Accounts == nil || repos.Members == nil || repos.Sessions == nil {
		return nil, errors.New("[server.New] all repos are required")
	}
	if secretProvider == nil {
		return nil, errors.New("[server.New] secret provider is required")
	}

	codec := statetoken.New(secretProvider.StateSigningSecret())
	resolver := tenants.NewResolver(repos.Tenants)
	validator := &admission.RepoSessionValidator{Repo: repos.Sessions}

	federationClient, err := federation.New(federation.Repos{
		Users:    repos.Users,
		Accounts: repos.Accounts,
		Members:  repos.Members,
		Sessions: repos.Sessions,
	}, discovery.New(), codec, secretProvider)
	if err != nil {
		return nil, errors.Wrap(err, "[server.New] federation client")
	}

	transferService, err := transfer.New(transfer.Repos{
		Users:    repos.Users,
		Members:  repos.Members,
		Sessions: repos.Sessions,
	}, secretProvider)
	if err != nil {
		return nil, errors.Wrap(err, "[server.New] transfer service")
	}

	widgetService, err := widget.New(widget.Repos{
		Users:    repos.Users,
		Members:  repos.Members,
		Sessions: repos.Sessions,
	}, secretProvider)
	if err != nil {
		return nil, errors.Wrap(err, "[server.New] widget service")
	}

	s := &Server{
		env:        cfg.GetEnv(),
		mux:        http.NewServeMux(),
		config:     cfg,
		logger:     zerolog.New(os.Stderr).With().Timestamp().Str("component", "server").Logger(),
		repos:      repos,
		engine:     admission.NewEngine(resolver, validator, cfg.GetAppDomain()),
		federation: federationClient,
		transfer:   transferService,
		widget:     widgetService,
		app:        http.NotFoundHandler(),
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

// ServeHTTP runs the admission decision before any routing. Rewrites stay
// internal: the downstream mux sees the tenant-scoped path while the browser
// URL is unchanged.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	decision := s.engine.Admit(r.Context(), admission.Request{
		Host:         r.Host,
		Path:         r.URL.Path,
		RawQuery:     r.URL.RawQuery,
		SessionToken: sessionTokenFromRequest(r),
	})

	if decision.ClearSessionCookies {
		s.clearSessionCookies(w, r)
	}

	switch decision.Action {
	case admission.ActionPass:
		s.mux.ServeHTTP(w, r)
	case admission.ActionRewrite, admission.ActionNotFound:
		s.mux.ServeHTTP(w, rewriteRequest(r, decision.Location))
	case admission.ActionRedirect:
		http.Redirect(w, r, decision.Location, http.StatusFound)
	case admission.ActionBadRequest:
		http.Error(w, "bad request", http.StatusBadRequest)
	default:
		s.logger.Error().Int("action", int(decision.Action)).Msg("unknown admission action")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// rewriteRequest clones the request with the rewrite target's path and query.
func rewriteRequest(r *http.Request, location string) *http.Request {
	r2 := r.Clone(r.Context())
	path, rawQuery, _ := strings.Cut(location, "?")
	r2.URL.Path = path
	r2.URL.RawQuery = rawQuery
	return r2
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		s.logger.Debug().Str("route", route).Msg("registered")
	}
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
