// Package accounts links local users to external identity-provider subjects.
package accounts

import "time"

// ProviderOIDC is the provider ID under which tenant OIDC connections link
// accounts.
const ProviderOIDC = "oidc"

// Account is a link between a User and an external identity-provider
// subject. (UserID, ProviderID, AccountID) uniquely identifies a link; a
// user may hold several provider links.
type Account struct {
	ID          string    `json:"id,omitempty"`
	UserID      string    `json:"user_id"`
	ProviderID  string    `json:"provider_id"`
	AccountID   string    `json:"account_id"` // provider subject
	AccessToken string    `json:"-"`          // never serialize
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Repo interface {
	// GetLink returns the link for (userID, providerID, accountID).
	GetLink(userID, providerID, accountID string) (*Account, error)

	// Upsert inserts the link or, when it already exists, refreshes the
	// stored access token.
	Upsert(account *Account) error
}
