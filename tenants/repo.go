package tenants

type Repo interface {
	Upsert(tenantData *Tenant) error
	Delete(tenantID string) error
	Get(tenantID string) (*Tenant, error)
	GetBySlug(slug string) (*Tenant, error)
	GetByDomain(domain string) (*Tenant, error)
}
