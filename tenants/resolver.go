package tenants

import (
	"strings"
	"sync"
	"time"

	apperrors "github.com/pulseboard/authgate/internal/errors"
)

// Resolver maps a request's Host header onto a tenant record. Lookups are
// exact-match against the bound-domain table; subdomain patterns are a
// property of how domains are registered, not of resolution.
//
// Successful lookups may be cached for a bounded TTL. Misses are never
// cached, so a deleted or renamed tenant resolves correctly on the next
// request at the cost of a repeat query.
type Resolver struct {
	repo     Repo
	cacheTTL time.Duration
	nowFunc  func() time.Time

	lock  sync.RWMutex
	cache map[string]cachedTenant
}

type cachedTenant struct {
	tenant     *Tenant
	resolvedAt time.Time
}

// ResolverOption defines a function type to modify the Resolver instance.
type ResolverOption func(*Resolver)

// WithCacheTTL enables positive-result caching with the given TTL.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cacheTTL = ttl
	}
}

// WithResolverNowFunc sets the now time function (primarily for testing)
func WithResolverNowFunc(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.nowFunc = now
	}
}

func NewResolver(repo Repo, options ...ResolverOption) *Resolver {
	r := &Resolver{
		repo:    repo,
		nowFunc: time.Now,
		cache:   make(map[string]cachedTenant),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Resolve looks up the tenant bound to the request host. An empty host is a
// malformed request, distinct from an unknown tenant.
func (r *Resolver) Resolve(host string) (*Tenant, error) {
	host = NormalizeHost(host)
	if host == "" {
		return nil, apperrors.ErrMissingHost
	}

	if r.cacheTTL > 0 {
		r.lock.RLock()
		cached, ok := r.cache[host]
		r.lock.RUnlock()
		if ok && r.nowFunc().Sub(cached.resolvedAt) < r.cacheTTL {
			return cached.tenant, nil
		}
	}

	tenant, err := r.repo.GetByDomain(host)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Resolver.Resolve] lookup %q", host)
	}

	if r.cacheTTL > 0 {
		r.lock.Lock()
		r.cache[host] = cachedTenant{tenant: tenant, resolvedAt: r.nowFunc()}
		r.lock.Unlock()
	}

	return tenant, nil
}

// NormalizeHost lowercases the host and strips any port suffix.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}
	return strings.TrimSuffix(host, ".")
}
