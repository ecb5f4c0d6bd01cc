// Package federation runs the OIDC relying-party handshake for a tenant:
// building the authorization redirect, exchanging the callback code,
// fetching userinfo, and resolving the external identity onto a local user,
// account link, membership, and session.
package federation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/pulseboard/authgate/accounts"
	"github.com/pulseboard/authgate/discovery"
	apperrors "github.com/pulseboard/authgate/internal/errors"
	"github.com/pulseboard/authgate/internal/secrets"
	"github.com/pulseboard/authgate/members"
	"github.com/pulseboard/authgate/sessions"
	"github.com/pulseboard/authgate/statetoken"
	"github.com/pulseboard/authgate/tenants"
	"github.com/pulseboard/authgate/users"
)

// CallbackPath is the tenant-relative OIDC redirect URI path.
const CallbackPath = "/callback/oidc"

var defaultScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// Repos holds all repository dependencies for the federation Client.
type Repos struct {
	Users    users.UserRepo
	Accounts accounts.Repo
	Members  members.Repo
	Sessions sessions.Repo
}

// Client drives the code flow against a tenant's configured provider.
type Client struct {
	repos      Repos
	discovery  *discovery.Cache
	codec      *statetoken.Codec
	secrets    secrets.Provider
	httpClient *http.Client
	scheme     string
	nowFunc    func() time.Time
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for token and userinfo calls.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithScheme overrides the redirect-URI scheme (primarily for testing).
func WithScheme(scheme string) ClientOption {
	return func(c *Client) {
		c.scheme = scheme
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowFunc = now
	}
}

func New(repos Repos, discoveryCache *discovery.Cache, codec *statetoken.Codec, secretProvider secrets.Provider, options ...ClientOption) (*Client, error) {
	if repos.Users == nil || repos.Accounts == nil || repos.Members == nil || repos.Sessions == nil {
		return nil, errors.New("[federation.New] all repos are required")
	}
	if discoveryCache == nil {
		return nil, errors.New("[federation.New] discovery cache is required")
	}
	if codec == nil {
		return nil, errors.New("[federation.New] state codec is required")
	}

	c := &Client{
		repos:      repos,
		discovery:  discoveryCache,
		codec:      codec,
		secrets:    secretProvider,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		scheme:     "https",
		nowFunc:    time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Start builds the provider authorization URL for a tenant login. The signed
// state carries everything the callback needs to finish the flow: tenant
// slug, return domain, intended callback URL, the portal/team discriminator,
// the PKCE verifier, and the nonce.
func (c *Client) Start(ctx context.Context, tenant *tenants.Tenant, callbackURL string) (string, error) {
	settings, err := oidcSettings(tenant)
	if err != nil {
		return "", err
	}

	meta, err := c.discovery.Fetch(ctx, settings.Issuer)
	if err != nil {
		return "", flowErr(CodeTokenExchangeFailed, err)
	}

	verifier := oauth2.GenerateVerifier()
	nonce := uuid.New().String()

	state, err := c.codec.Sign(statetoken.Payload{
		Kind:         statetoken.KindOIDC,
		TenantSlug:   tenant.Slug,
		ReturnDomain: tenant.PrimaryDomain(),
		CallbackURL:  callbackURL,
		Flow:         string(settings.Flow),
		CodeVerifier: verifier,
		Nonce:        nonce,
	})
	if err != nil {
		return "", flowErr(CodeInvalidState, err)
	}

	cfg := c.oauthConfig(tenant, settings, meta)
	return cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	), nil
}

// CallbackParams are the query parameters of the provider redirect.
type CallbackParams struct {
	Code             string
	State            string
	ErrorParam       string
	ErrorDescription string
}

// Result is a completed login: the session to set as a cookie and where to
// send the browser.
type Result struct {
	CallbackURL string
	User        *users.User
	Session     *sessions.Session
}

// Callback finishes the flow. Steps run strictly in order — state verify,
// token exchange, userinfo, account resolution, session — and no step runs
// before the prior one succeeds. Every failure is a *FlowError whose code is
// safe to put in a redirect.
func (c *Client) Callback(ctx context.Context, tenant *tenants.Tenant, params CallbackParams) (*Result, error) {
	// Provider-reported errors short-circuit before anything is trusted.
	if params.ErrorParam != "" {
		return nil, flowErr(params.ErrorParam, errors.New(params.ErrorDescription))
	}

	st, err := c.codec.Verify(params.State, statetoken.KindOIDC, statetoken.DefaultMaxAge)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrTokenExpired) {
			return nil, flowErr(CodeAuthExpired, err)
		}
		return nil, flowErr(CodeInvalidState, err)
	}

	// The state must have been minted for this tenant; a token signed for
	// another tenant's flow is never acceptable here.
	if st.TenantSlug != tenant.Slug {
		return nil, flowErr(CodeInvalidState, errors.Errorf("state minted for tenant %q", st.TenantSlug))
	}

	settings, err := oidcSettings(tenant)
	if err != nil {
		return nil, err
	}

	clientSecret, err := secrets.DecryptForTenant(c.secrets.MasterKey(), tenant.ID, settings.EncryptedClientSecret)
	if err != nil {
		return nil, flowErr(CodeSettingsNotFound, err)
	}

	meta, err := c.discovery.Fetch(ctx, settings.Issuer)
	if err != nil {
		return nil, flowErr(CodeTokenExchangeFailed, err)
	}

	cfg := c.oauthConfig(tenant, settings, meta)
	cfg.ClientSecret = clientSecret

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := cfg.Exchange(exchangeCtx, params.Code, oauth2.VerifierOption(st.CodeVerifier))
	if err != nil {
		return nil, flowErr(CodeTokenExchangeFailed, err)
	}

	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" && meta.JWKSURI != "" {
		if err := c.verifyNonce(ctx, settings, meta, rawIDToken, st.Nonce); err != nil {
			return nil, flowErr(CodeInvalidState, err)
		}
	}

	info, err := c.fetchUserinfo(ctx, meta.UserinfoEndpoint, token.AccessToken)
	if err != nil {
		return nil, flowErr(CodeUserInfoFailed, err)
	}

	// Policy checks run after userinfo and before any account mutation.
	if settings.EmailDomain != "" && users.EmailDomain(info.Email) != strings.ToLower(settings.EmailDomain) {
		return nil, flowErr(CodeEmailDomainMismatch, errors.Errorf("email domain %q not allowed", users.EmailDomain(info.Email)))
	}

	user, err := c.resolveAccount(tenant, tenants.Flow(st.Flow), info, token.AccessToken)
	if err != nil {
		return nil, err
	}

	session := sessions.New(tenant.ID, user.ID, sessions.DefaultTTL, sessions.Meta{}, c.nowFunc())
	if err := c.repos.Sessions.Create(session); err != nil {
		return nil, flowErr(CodeSessionFailed, err)
	}

	callbackURL := st.CallbackURL
	if callbackURL == "" {
		callbackURL = "/"
	}
	return &Result{CallbackURL: callbackURL, User: user, Session: session}, nil
}

type userinfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (c *Client) fetchUserinfo(ctx context.Context, endpoint, accessToken string) (*userinfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.fetchUserinfo] build request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.fetchUserinfo] request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("[Client.fetchUserinfo] unexpected status %d", resp.StatusCode)
	}

	var info userinfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, errors.Wrap(err, "[Client.fetchUserinfo] decode")
	}
	if info.Sub == "" || info.Email == "" {
		return nil, errors.New("[Client.fetchUserinfo] response missing sub or email")
	}
	return &info, nil
}

// resolveAccount maps the external identity onto local rows. Team SSO never
// grants or provisions team access — membership is invitation-only — while
// the portal flow signs new users up with the end-user role.
func (c *Client) resolveAccount(tenant *tenants.Tenant, flow tenants.Flow, info *userinfo, accessToken string) (*users.User, error) {
	user, err := c.repos.Users.GetByEmail(info.Email)

	switch {
	case err == nil:
		if flow == tenants.FlowTeam {
			member, merr := c.repos.Members.Get(tenant.ID, user.ID)
			if merr != nil || !member.IsTeamRole() {
				return nil, flowErr(CodeNotTeamMember, merr)
			}
		} else {
			if _, merr := members.EnsureExists(c.repos.Members, tenant.ID, user.ID, members.RoleUser); merr != nil {
				return nil, flowErr(CodeSignupFailed, merr)
			}
		}

		if user.ApplyProfile(info.Name, info.Picture) {
			if uerr := c.repos.Users.Upsert(user); uerr != nil {
				return nil, flowErr(CodeSignupFailed, uerr)
			}
		}

	case apperrors.Is(err, apperrors.ErrUserNotFound):
		if flow == tenants.FlowTeam {
			return nil, flowErr(CodeNotTeamMember, err)
		}

		created, _, cerr := c.repos.Users.FindOrCreateByEmail(&users.User{
			Email:         info.Email,
			Name:          info.Name,
			AvatarURL:     info.Picture,
			EmailVerified: true,
			CreatedAt:     c.nowFunc(),
		})
		if cerr != nil {
			return nil, flowErr(CodeSignupFailed, cerr)
		}
		user = created

		if _, merr := members.EnsureExists(c.repos.Members, tenant.ID, user.ID, members.RoleUser); merr != nil {
			return nil, flowErr(CodeSignupFailed, merr)
		}

	default:
		return nil, flowErr(CodeSignupFailed, err)
	}

	// Link the subject or refresh the stored access token on repeat logins.
	if aerr := c.repos.Accounts.Upsert(&accounts.Account{
		UserID:      user.ID,
		ProviderID:  accounts.ProviderOIDC,
		AccountID:   info.Sub,
		AccessToken: accessToken,
	}); aerr != nil {
		return nil, flowErr(CodeSignupFailed, aerr)
	}

	return user, nil
}

// verifyNonce bridges the cached discovery metadata into a go-oidc provider
// so the ID token's signature and nonce can be checked without a second
// discovery fetch.
func (c *Client) verifyNonce(ctx context.Context, settings *tenants.OIDCSettings, meta *discovery.Metadata, rawIDToken, nonce string) error {
	providerCtx := oidc.ClientContext(ctx, c.httpClient)
	provider := (&oidc.ProviderConfig{
		IssuerURL:   meta.Issuer,
		AuthURL:     meta.AuthorizationEndpoint,
		TokenURL:    meta.TokenEndpoint,
		UserInfoURL: meta.UserinfoEndpoint,
		JWKSURL:     meta.JWKSURI,
	}).NewProvider(providerCtx)

	idToken, err := provider.Verifier(&oidc.Config{ClientID: settings.ClientID}).Verify(providerCtx, rawIDToken)
	if err != nil {
		return errors.Wrap(err, "[Client.verifyNonce] verify id token")
	}

	var claims struct {
		Nonce string `json:"nonce"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return errors.Wrap(err, "[Client.verifyNonce] extract claims")
	}
	if claims.Nonce != nonce {
		return errors.New("[Client.verifyNonce] nonce mismatch")
	}
	return nil
}

func (c *Client) oauthConfig(tenant *tenants.Tenant, settings *tenants.OIDCSettings, meta *discovery.Metadata) *oauth2.Config {
	scopes := settings.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return &oauth2.Config{
		ClientID: settings.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   meta.AuthorizationEndpoint,
			TokenURL:  meta.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: c.scheme + "://" + tenant.PrimaryDomain() + CallbackPath,
		Scopes:      scopes,
	}
}

func oidcSettings(tenant *tenants.Tenant) (*tenants.OIDCSettings, error) {
	if tenant.OIDC == nil {
		return nil, flowErr(CodeSettingsNotFound, errors.New("tenant has no oidc settings"))
	}
	if !tenant.OIDC.Enabled || tenant.OIDC.Issuer == "" || tenant.OIDC.ClientID == "" {
		return nil, flowErr(CodeOIDCNotConfigured, errors.New("oidc connection not configured"))
	}
	return tenant.OIDC, nil
}
