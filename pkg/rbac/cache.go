package rbac

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// CachedStore caches successful lookups of another Store for a short TTL
// and collapses concurrent lookups for the same user. Errors are never
// cached.
type CachedStore struct {
	next     Store
	roles    *lru.LRU[string, []string]
	profiles *lru.LRU[string, *Profile]
	group    singleflight.Group
	metrics  *observability.Metrics
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
		next:     next,
		roles:    lru.NewLRU[string, []string](size, nil, ttl),
		profiles: lru.NewLRU[string, *Profile](size, nil, ttl),
		metrics:  metrics,
	}
}

// ActiveRoles returns cached roles or loads them
func (c *CachedStore) ActiveRoles(ctx context.Context, userID string) ([]string, error) {
	if roles, ok := c.roles.Get(userID); ok {
		c.metrics.ObserveCache("roles", true)
		return roles, nil
	}
	c.metrics.ObserveCache("roles", false)

	v, err, _ := c.group.Do("roles:"+userID, func() (interface{}, error) {
		roles, err := c.next.ActiveRoles(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.roles.Add(userID, roles)
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Profile returns a cached profile or loads it. A missing profile is a
// successful lookup and is cached as nil.
func (c *CachedStore) Profile(ctx context.Context, userID string) (*Profile, error) {
	if p, ok := c.profiles.Get(userID); ok {
		c.metrics.ObserveCache("profile", true)
		return p, nil
	}
	c.metrics.ObserveCache("profile", false)

	v, err, _ := c.group.Do("profile:"+userID, func() (interface{}, error) {
		p, err := c.next.Profile(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.profiles.Add(userID, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Profile), nil
}

// Invalidate drops everything cached for userID
func (c *CachedStore) Invalidate(userID string) {
	c.roles.Remove(userID)
	c.profiles.Remove(userID)
}

// Purge drops the whole cache
func (c *CachedStore) Purge() {
	c.roles.Purge()
	c.profiles.Purge()
}
