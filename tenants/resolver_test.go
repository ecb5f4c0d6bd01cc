package tenants_test

import (
	"testing"
	"time"

	apperrors "github.com/pulseboard/authgate/internal/errors"
	"github.com/pulseboard/authgate/tenants"
	tenantrepofakes "github.com/pulseboard/authgate/tenants/repofakes"
	"github.com/stretchr/testify/require"
)

func seedTenant(t *testing.T, repo tenants.Repo) *tenants.Tenant {
	t.Helper()
	tenant := &tenants.Tenant{
		ID:   "tenant-1",
		Slug: "acme",
		Domains: []tenants.Domain{
			{Domain: "feedback.acme.com", Primary: true},
			{Domain: "acme.pulseboard.app"},
		},
	}
	require.NoError(t, repo.Upsert(tenant))
	return tenant
}

func TestResolveExactMatch(t *testing.T) {
	repo := tenantrepofakes.NewFakeTenantRepo()
	seedTenant(t, repo)
	resolver := tenants.NewResolver(repo)

	got, err := resolver.Resolve("feedback.acme.com")
	require.NoError(t, err)
	require.Equal(t, "tenant-1", got.ID)

	got, err = resolver.Resolve("acme.pulseboard.app")
	require.NoError(t, err)
	require.Equal(t, "tenant-1", got.ID)
}

func TestResolveStripsPortAndCase(t *testing.T) {
	repo := tenantrepofakes.NewFakeTenantRepo()
	seedTenant(t, repo)
	resolver := tenants.NewResolver(repo)

	got, err := resolver.Resolve("Feedback.ACME.com:8443")
	require.NoError(t, err)
	require.Equal(t, "tenant-1", got.ID)
}

func TestResolveMissingHostIsMalformed(t *testing.T) {
	repo := tenantrepofakes.NewFakeTenantRepo()
	seedTenant(t, repo)
	resolver := tenants.NewResolver(repo)

	_, err := resolver.Resolve("")
	require.ErrorIs(t, err, apperrors.ErrMissingHost)
}

func TestResolveUnknownTenant(t *testing.T) {
	repo := tenantrepofakes.NewFakeTenantRepo()
	seedTenant(t, repo)
	resolver := tenants.NewResolver(repo)

	_, err := resolver.Resolve("nobody.example.com")
	require.ErrorIs(t, err, apperrors.ErrTenantNotFound)
}

func TestResolveNoSuffixMatching(t *testing.T) {
	repo := tenantrepofakes.NewFakeTenantRepo()
	seedTenant(t, repo)
	resolver := tenants.NewResolver(repo)

	_, err := resolver.Resolve("sub.feedback.acme.com")
	require.ErrorIs(t, err, apperrors.ErrTenantNotFound)
}

func TestResolveCachePositiveOnly(t *testing.T) {
	repo := tenantrepofakes.NewFakeTenantRepo()
	tenant := seedTenant(t, repo)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	resolver := tenants.NewResolver(repo,
		tenants.WithCacheTTL(time.Minute),
		tenants.WithResolverNowFunc(func() time.Time { return now }),
	)

	_, err := resolver.Resolve("feedback.acme.com")
	require.NoError(t, err)

	// Deleting the tenant is served from cache until the TTL lapses...
	require.NoError(t, repo.Delete(tenant.ID))
	got, err := resolver.Resolve("feedback.acme.com")
	require.NoError(t, err)
	require.Equal(t, "tenant-1", got.ID)

	// ...then staleness resolves in favor of re-querying
	now = now.Add(2 * time.Minute)
	_, err = resolver.Resolve("feedback.acme.com")
	require.ErrorIs(t, err, apperrors.ErrTenantNotFound)
}
