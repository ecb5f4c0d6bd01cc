// Package discovery fetches and caches OIDC provider metadata from the
// issuer's well-known configuration endpoint.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	apperrors "github.com/pulseboard/authgate/internal/errors"
)

const (
	defaultTTL      = time.Hour
	fetchAttempts   = 3
	backoffBase     = 100 * time.Millisecond
	maxResponseSize = 1 << 20
)

// Metadata is the subset of an OIDC discovery document this gateway needs.
type Metadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

type entry struct {
	meta      Metadata
	fetchedAt time.Time
}

// Cache caches discovery documents per normalized issuer URL with a bounded
// TTL. Concurrent callers that miss simultaneously each fetch on their own;
// the last writer wins. Duplicate fetches are idempotent and rare at a
// one-hour TTL, so the cache does not coalesce in-flight requests.
type Cache struct {
	client  *http.Client
	ttl     time.Duration
	backoff time.Duration
	nowFunc func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// CacheOption defines a function type to modify the Cache instance.
type CacheOption func(*Cache)

// WithHTTPClient sets the HTTP client used for discovery fetches.
func WithHTTPClient(client *http.Client) CacheOption {
	return func(c *Cache) {
		c.client = client
	}
}

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithRetryBackoff overrides the base retry delay (primarily for testing).
func WithRetryBackoff(backoff time.Duration) CacheOption {
	return func(c *Cache) {
		c.backoff = backoff
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.nowFunc = now
	}
}

func New(options ...CacheOption) *Cache {
	c := &Cache{
		client:  &http.Client{Timeout: 10 * time.Second},
		ttl:     defaultTTL,
		backoff: backoffBase,
		nowFunc: time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Fetch returns the discovery metadata for the issuer, consulting the cache
// first. A failed fetch is never cached.
func (c *Cache) Fetch(ctx context.Context, issuer string) (*Metadata, error) {
	key := strings.TrimRight(issuer, "/")

	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.nowFunc().Sub(cached.fetchedAt) < c.ttl {
		meta := cached.meta
		return &meta, nil
	}

	meta, err := c.fetchWithRetry(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = entry{meta: *meta, fetchedAt: c.nowFunc()}
	c.mu.Unlock()

	return meta, nil
}

func (c *Cache) fetchWithRetry(ctx context.Context, issuer string) (*Metadata, error) {
	var lastErr error
	delay := c.backoff

	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "[Cache.fetchWithRetry] canceled")
			}
			delay *= 2
		}

		meta, err := c.fetchOnce(ctx, issuer)
		if err == nil {
			return meta, nil
		}
		// Incomplete documents are a configuration problem, not a
		// transient one; retrying cannot fix them.
		if apperrors.Is(err, apperrors.ErrDiscoveryIncomplete) {
			return nil, err
		}
		lastErr = err
	}

	return nil, errors.Wrap(lastErr, apperrors.ErrDiscoveryFailed.Error())
}

func (c *Cache) fetchOnce(ctx context.Context, issuer string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+"/.well-known/openid-configuration", nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Cache.fetchOnce] build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Cache.fetchOnce] request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("[Cache.fetchOnce] unexpected status %d", resp.StatusCode)
	}

	var meta Metadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&meta); err != nil {
		return nil, errors.Wrap(err, "[Cache.fetchOnce] decode document")
	}

	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" || meta.UserinfoEndpoint == "" {
		return nil, apperrors.ErrDiscoveryIncomplete
	}

	return &meta, nil
}
