package portal

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// CachedStore caches successful grant lookups for a short TTL. Errors are
// never cached.
type CachedStore struct {
	next    Store
	grants  *lru.LRU[string, Grants]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedStore wraps next. A ttl of zero or less returns next unchanged.
func NewCachedStore(next Store, size int, ttl time.Duration, metrics *observability.Metrics) Store {
	if ttl <= 0 {
		return next
	}
	if size < 1 {
		size = 1000
	}
	return &CachedStore{
		next:    next,
		grants:  lru.NewLRU[string, Grants](size, nil, ttl),
		metrics: metrics,
	}
}

// ActiveGrants returns cached grants or loads them
func (c *CachedStore) ActiveGrants(ctx context.Context, userID string) (Grants, error) {
	if grants, ok := c.grants.Get(userID); ok {
		c.metrics.ObserveCache("portal_access", true)
		return grants, nil
	}
	c.metrics.ObserveCache("portal_access", false)

	v, err, _ := c.group.Do(userID, func() (interface{}, error) {
		grants, err := c.next.ActiveGrants(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.grants.Add(userID, grants)
		return grants, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Grants), nil
}

// Invalidate drops the cached grants for userID
func (c *CachedStore) Invalidate(userID string) {
	c.grants.Remove(userID)
}
