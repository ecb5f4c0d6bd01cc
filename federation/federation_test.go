package federation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	accountrepofakes "github.com/pulseboard/authgate/accounts/repofakes"
	"github.com/pulseboard/authgate/discovery"
	"github.com/pulseboard/authgate/federation"
	"github.com/pulseboard/authgate/internal/secrets"
	"github.com/pulseboard/authgate/members"
	memberrepofakes "github.com/pulseboard/authgate/members/repofakes"
	sessionrepofakes "github.com/pulseboard/authgate/sessions/repofakes"
	"github.com/pulseboard/authgate/statetoken"
	"github.com/pulseboard/authgate/tenants"
	"github.com/pulseboard/authgate/users"
	userrepofakes "github.com/pulseboard/authgate/users/repofakes"
)

const (
	testTenantID     = "tenant-1"
	testTenantSlug   = "acme"
	testTenantDomain = "feedback.acme.com"
	testClientID     = "oidc-client-1"
	testClientSecret = "oidc-secret-1"
	testSubject      = "idp-subject-42"
)

var (
	stateSecret = []byte("state-secret")
	masterKey   = []byte("master-key")
)

type fixture struct {
	t        *testing.T
	provider *httptest.Server
	client   *federation.Client
	codec    *statetoken.Codec

	userRepo    *userrepofakes.FakeUserRepo
	accountRepo *accountrepofakes.FakeAccountRepo
	memberRepo  *memberrepofakes.FakeMemberRepo
	sessionRepo *sessionrepofakes.FakeSessionRepo

	// userinfo payload served by the fake provider
	userinfo map[string]any
	// last form posted to the token endpoint
	tokenForm url.Values
}

func setup(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t: t,
		userinfo: map[string]any{
			"sub":     testSubject,
			"email":   "jane@acme.com",
			"name":    "Jane Doe",
			"picture": "https://cdn.example.com/jane.png",
		},
	}

	f.provider = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			issuer := "http://" + r.Host
			_ = json.NewEncoder(w).Encode(map[string]any{
				"issuer":                 issuer,
				"authorization_endpoint": issuer + "/authorize",
				"token_endpoint":         issuer + "/token",
				"userinfo_endpoint":      issuer + "/userinfo",
			})
		case "/token":
			require.NoError(t, r.ParseForm())
			f.tokenForm = r.PostForm
			if r.PostForm.Get("client_secret") != testClientSecret {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "at-" + r.PostForm.Get("code"),
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "/userinfo":
			require.Equal(t, "Bearer at-good-code", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(f.userinfo)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.provider.Close)

	f.userRepo = userrepofakes.NewFakeUserRepo()
	f.accountRepo = accountrepofakes.NewFakeAccountRepo()
	f.memberRepo = memberrepofakes.NewFakeMemberRepo()
	f.sessionRepo = sessionrepofakes.NewFakeSessionRepo()
	f.codec = statetoken.New(stateSecret)

	cache := discovery.New(
		discovery.WithHTTPClient(f.provider.Client()),
		discovery.WithRetryBackoff(time.Millisecond),
	)

	client, err := federation.New(
		federation.Repos{
			Users:    f.userRepo,
			Accounts: f.accountRepo,
			Members:  f.memberRepo,
			Sessions: f.sessionRepo,
		},
		cache,
		f.codec,
		secrets.StaticProvider{StateSecret: stateSecret, Master: masterKey},
		federation.WithHTTPClient(f.provider.Client()),
		federation.WithScheme("http"),
	)
	require.NoError(t, err)
	f.client = client

	return f
}

func (f *fixture) tenant(flow tenants.Flow, emailDomain string) *tenants.Tenant {
	f.t.Helper()
	encrypted, err := secrets.EncryptForTenant(masterKey, testTenantID, testClientSecret)
	require.NoError(f.t, err)
	return &tenants.Tenant{
		ID:      testTenantID,
		Slug:    testTenantSlug,
		Domains: []tenants.Domain{{Domain: testTenantDomain, Primary: true}},
		OIDC: &tenants.OIDCSettings{
			Enabled:               true,
			Issuer:                f.provider.URL,
			ClientID:              testClientID,
			EncryptedClientSecret: encrypted,
			Flow:                  flow,
			EmailDomain:           emailDomain,
		},
	}
}

func (f *fixture) signedState(flow tenants.Flow) string {
	f.t.Helper()
	state, err := f.codec.Sign(statetoken.Payload{
		Kind:         statetoken.KindOIDC,
		TenantSlug:   testTenantSlug,
		ReturnDomain: testTenantDomain,
		CallbackURL:  "/dashboard",
		Flow:         string(flow),
		CodeVerifier: "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk",
		Nonce:        "nonce-1",
	})
	require.NoError(f.t, err)
	return state
}

func flowCode(t *testing.T, err error) string {
	t.Helper()
	var fe *federation.FlowError
	require.ErrorAs(t, err, &fe)
	return fe.Code
}

func TestStartBuildsAuthorizationURL(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowTeam, "")

	authURL, err := f.client.Start(context.Background(), tenant, "/dashboard")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, "/authorize", parsed.Path)

	q := parsed.Query()
	require.Equal(t, testClientID, q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "http://"+testTenantDomain+federation.CallbackPath, q.Get("redirect_uri"))
	require.Equal(t, "openid email profile", q.Get("scope"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.NotEmpty(t, q.Get("nonce"))

	// The state must verify under the oidc discriminator and carry the flow
	st, err := f.codec.Verify(q.Get("state"), statetoken.KindOIDC, statetoken.DefaultMaxAge)
	require.NoError(t, err)
	require.Equal(t, testTenantSlug, st.TenantSlug)
	require.Equal(t, "team", st.Flow)
	require.NotEmpty(t, st.CodeVerifier)
}

func TestCallbackPortalSignupCreatesUserAccountMemberSession(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowPortal, "")

	result, err := f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: f.signedState(tenants.FlowPortal),
	})
	require.NoError(t, err)
	require.Equal(t, "/dashboard", result.CallbackURL)
	require.NotEmpty(t, result.Session.Token)
	require.Equal(t, testTenantID, result.Session.TenantID)

	require.Equal(t, 1, f.userRepo.Count())
	require.Equal(t, 1, f.accountRepo.Count())
	require.Equal(t, 1, f.memberRepo.Count())
	require.Equal(t, 1, f.sessionRepo.Count())

	user, err := f.userRepo.GetByEmail("jane@acme.com")
	require.NoError(t, err)
	require.True(t, user.EmailVerified)
	require.Equal(t, "Jane Doe", user.Name)

	link, err := f.accountRepo.GetLink(user.ID, "oidc", testSubject)
	require.NoError(t, err)
	require.Equal(t, "at-good-code", link.AccessToken)

	member, err := f.memberRepo.Get(testTenantID, user.ID)
	require.NoError(t, err)
	require.Equal(t, members.RoleUser, member.Role)

	// PKCE verifier travelled from the state into the exchange
	require.Equal(t, "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk", f.tokenForm.Get("code_verifier"))
}

func TestCallbackTeamRejectsUnknownUser(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowTeam, "")

	_, err := f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: f.signedState(tenants.FlowTeam),
	})
	require.Equal(t, federation.CodeNotTeamMember, flowCode(t, err))

	// Nothing was provisioned
	require.Equal(t, 0, f.userRepo.Count())
	require.Equal(t, 0, f.accountRepo.Count())
	require.Equal(t, 0, f.memberRepo.Count())
	require.Equal(t, 0, f.sessionRepo.Count())
}

func TestCallbackTeamRejectsPortalOnlyUser(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowTeam, "")

	existing := &users.User{Email: "jane@acme.com", Name: "Jane"}
	require.NoError(t, f.userRepo.Upsert(existing))
	require.NoError(t, f.memberRepo.Create(&members.Member{
		TenantID: testTenantID, UserID: existing.ID, Role: members.RoleUser,
	}))

	_, err := f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: f.signedState(tenants.FlowTeam),
	})
	require.Equal(t, federation.CodeNotTeamMember, flowCode(t, err))
	require.Equal(t, 0, f.sessionRepo.Count())
}

func TestCallbackTeamAcceptsExistingAdmin(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowTeam, "")

	existing := &users.User{Email: "jane@acme.com", Name: "Jane"}
	require.NoError(t, f.userRepo.Upsert(existing))
	require.NoError(t, f.memberRepo.Create(&members.Member{
		TenantID: testTenantID, UserID: existing.ID, Role: members.RoleAdmin,
	}))

	result, err := f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: f.signedState(tenants.FlowTeam),
	})
	require.NoError(t, err)
	require.Equal(t, existing.ID, result.User.ID)

	// Role is untouched, subject is linked, profile refreshed
	member, err := f.memberRepo.Get(testTenantID, existing.ID)
	require.NoError(t, err)
	require.Equal(t, members.RoleAdmin, member.Role)
	require.Equal(t, 1, f.accountRepo.Count())

	user, err := f.userRepo.GetByID(existing.ID)
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", user.Name)
}

func TestCallbackRepeatLoginRefreshesAccessToken(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowPortal, "")

	_, err := f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: f.signedState(tenants.FlowPortal),
	})
	require.NoError(t, err)

	_, err = f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: f.signedState(tenants.FlowPortal),
	})
	require.NoError(t, err)

	// Still one user and one link; no duplicate provisioning
	require.Equal(t, 1, f.userRepo.Count())
	require.Equal(t, 1, f.accountRepo.Count())
}

func TestCallbackEmailDomainMismatch(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowPortal, "corp.example.com")

	_, err := f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: f.signedState(tenants.FlowPortal),
	})
	require.Equal(t, federation.CodeEmailDomainMismatch, flowCode(t, err))
	require.Equal(t, 0, f.userRepo.Count())
}

func TestCallbackProviderErrorShortCircuits(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowPortal, "")

	_, err := f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		ErrorParam:       "access_denied",
		ErrorDescription: "user cancelled",
	})
	require.Equal(t, "access_denied", flowCode(t, err))
}

func TestCallbackBadStateNeverExchanges(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowPortal, "")

	_, err := f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: "garbage.state",
	})
	require.Equal(t, federation.CodeInvalidState, flowCode(t, err))
	require.Nil(t, f.tokenForm)
}

func TestCallbackExpiredState(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowPortal, "")

	past := time.Now().Add(-10 * time.Minute)
	staleCodec := statetoken.New(stateSecret, statetoken.WithNowFunc(func() time.Time { return past }))
	state, err := staleCodec.Sign(statetoken.Payload{
		Kind:       statetoken.KindOIDC,
		TenantSlug: testTenantSlug,
		Flow:       "portal",
	})
	require.NoError(t, err)

	_, err = f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: state,
	})
	require.Equal(t, federation.CodeAuthExpired, flowCode(t, err))
}

func TestCallbackStateForOtherTenantRejected(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowPortal, "")

	state, err := f.codec.Sign(statetoken.Payload{
		Kind:       statetoken.KindOIDC,
		TenantSlug: "other-tenant",
		Flow:       "portal",
	})
	require.NoError(t, err)

	_, err = f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: state,
	})
	require.Equal(t, federation.CodeInvalidState, flowCode(t, err))
}

func TestCallbackTokenExchangeFailure(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowPortal, "")
	// Force the provider to reject the exchange
	badSecret, err := secrets.EncryptForTenant(masterKey, testTenantID, "wrong-secret")
	require.NoError(t, err)
	tenant.OIDC.EncryptedClientSecret = badSecret

	_, err = f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: f.signedState(tenants.FlowPortal),
	})
	require.Equal(t, federation.CodeTokenExchangeFailed, flowCode(t, err))
}

func TestCallbackUserinfoMissingClaims(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowPortal, "")
	f.userinfo = map[string]any{"sub": testSubject} // no email

	_, err := f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: f.signedState(tenants.FlowPortal),
	})
	require.Equal(t, federation.CodeUserInfoFailed, flowCode(t, err))
}

func TestCallbackNotConfigured(t *testing.T) {
	f := setup(t)
	tenant := f.tenant(tenants.FlowPortal, "")
	tenant.OIDC.Enabled = false

	_, err := f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: f.signedState(tenants.FlowPortal),
	})
	require.Equal(t, federation.CodeOIDCNotConfigured, flowCode(t, err))

	tenant.OIDC = nil
	_, err = f.client.Callback(context.Background(), tenant, federation.CallbackParams{
		Code:  "good-code",
		State: f.signedState(tenants.FlowPortal),
	})
	require.Equal(t, federation.CodeSettingsNotFound, flowCode(t, err))
}
