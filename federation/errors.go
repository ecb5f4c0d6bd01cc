package federation

// Error codes surfaced to the login page as `error=<code>`. These are the
// only strings that ever reach a redirect URL; internal error detail stays
// in the server-side logs.
const (
	CodeAuthExpired         = "auth_expired"
	CodeSettingsNotFound    = "settings_not_found"
	CodeOIDCNotConfigured   = "oidc_not_configured"
	CodeTokenExchangeFailed = "token_exchange_failed"
	CodeUserInfoFailed      = "user_info_failed"
	CodeEmailDomainMismatch = "email_domain_mismatch"
	CodeNotTeamMember       = "not_team_member"
	CodeSessionFailed       = "session_failed"
	CodeSignupFailed        = "signup_failed"
	CodeInvalidState        = "invalid_state"
)

// FlowError carries a machine-readable code for the redirect and the
// underlying cause for the logs.
type FlowError struct {
	Code string
	Err  error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func flowErr(code string, err error) *FlowError {
	return &FlowError{Code: code, Err: err}
}
