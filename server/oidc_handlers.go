package server

import (
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/pulseboard/authgate/federation"
	"github.com/pulseboard/authgate/tenants"
)

const loginRoute = "/login"

// OIDCStartHandler kicks off the tenant's single sign-on flow by redirecting
// the browser to the provider's authorization endpoint.
func (s *Server) OIDCStartHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenantFromPath(r)
		if err != nil {
			redirectWithError(w, r, loginRoute, federation.CodeSettingsNotFound)
			return
		}

		authURL, err := s.federation.Start(r.Context(), tenant, r.URL.Query().Get("callbackUrl"))
		if err != nil {
			s.logger.Warn().Err(err).Str("tenant", tenant.ID).Msg("oidc start failed")
			redirectWithError(w, r, loginRoute, flowErrorCode(err))
			return
		}

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// OIDCCallbackHandler finishes the flow: exchanges the code, establishes the
// session, and sends the browser to the state's callback URL. Failures
// redirect to the login page with a short machine-readable code and nothing
// else.
func (s *Server) OIDCCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenantFromPath(r)
		if err != nil {
			redirectWithError(w, r, loginRoute, federation.CodeSettingsNotFound)
			return
		}

		params := callbackParams(r)
		result, err := s.federation.Callback(r.Context(), tenant, params)
		if err != nil {
			s.logger.Warn().Err(err).Str("tenant", tenant.ID).Msg("oidc callback failed")
			redirectWithError(w, r, loginRoute, flowErrorCode(err))
			return
		}

		s.setSessionCookies(w, r, result.Session)
		http.Redirect(w, r, result.CallbackURL, http.StatusFound)
	}
}

// callbackParams reads the provider redirect from the query, or from the
// form body when the provider uses form_post response mode.
func callbackParams(r *http.Request) federation.CallbackParams {
	values := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			values = r.PostForm
		}
	}
	return federation.CallbackParams{
		Code:             values.Get("code"),
		State:            values.Get("state"),
		ErrorParam:       values.Get("error"),
		ErrorDescription: values.Get("error_description"),
	}
}

func (s *Server) tenantFromPath(r *http.Request) (*tenants.Tenant, error) {
	tenantID := r.PathValue("tenant")
	if tenantID == "" {
		return nil, errors.New("[Server.tenantFromPath] missing tenant path value")
	}
	return s.repos.Tenants.Get(tenantID)
}

// flowErrorCode maps any error to a redirect-safe code. Unexpected errors
// collapse to a generic failure code so internals never leak into a URL.
func flowErrorCode(err error) string {
	var fe *federation.FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return federation.CodeSignupFailed
}

func redirectWithError(w http.ResponseWriter, r *http.Request, path, code string) {
	http.Redirect(w, r, path+"?error="+url.QueryEscape(code), http.StatusFound)
}
