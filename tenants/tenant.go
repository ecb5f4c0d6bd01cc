package tenants

// Flow selects which federated-login policy a tenant's OIDC connection uses.
// Team SSO never provisions accounts; portal SSO signs end-users up freely.
type Flow string

const (
	FlowPortal Flow = "portal"
	FlowTeam   Flow = "team"
)

// Tenant represents an isolated customer workspace, addressed by one or more
// bound domains. Tenants are created at provisioning time; this subsystem
// only ever reads them.
type Tenant struct {
	ID      string          `json:"id"`
	Slug    string          `json:"slug"`
	Domains []Domain        `json:"domains"`
	OIDC    *OIDCSettings   `json:"oidc,omitempty"`
	Widget  *WidgetSettings `json:"widget,omitempty"`
}

// Domain binds a hostname to a tenant. Exactly one bound domain is primary.
type Domain struct {
	Domain  string `json:"domain"`
	Primary bool   `json:"primary"`
}

// OIDCSettings holds a tenant's federated-login connection. The client
// secret is stored encrypted with a tenant-scoped key; see internal/secrets.
type OIDCSettings struct {
	Enabled               bool     `json:"enabled"`
	Issuer                string   `json:"issuer"`
	ClientID              string   `json:"client_id"`
	EncryptedClientSecret string   `json:"encrypted_client_secret"`
	Scopes                []string `json:"scopes,omitempty"` // defaults to openid email profile
	Flow                  Flow     `json:"flow"`
	EmailDomain           string   `json:"email_domain,omitempty"` // exact-match restriction on userinfo email
}

// WidgetSettings configures the embedded-widget identify endpoint.
type WidgetSettings struct {
	Enabled             bool   `json:"enabled"`
	Secret              string `json:"secret"`
	RequireVerification bool   `json:"require_verification"`
}

// PrimaryDomain returns the tenant's primary bound domain, falling back to
// the first bound domain when none is flagged.
func (t *Tenant) PrimaryDomain() string {
	for _, d := range t.Domains {
		if d.Primary {
			return d.Domain
		}
	}
	if len(t.Domains) > 0 {
		return t.Domains[0].Domain
	}
	return ""
}

// HasDomain reports whether the host is bound to this tenant.
func (t *Tenant) HasDomain(host string) bool {
	for _, d := range t.Domains {
		if d.Domain == host {
			return true
		}
	}
	return false
}
