package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

func TestNewCachedStore_ZeroTTLPassesThrough(t *testing.T) {
	next := &fakeStore{}
	assert.Same(t, next, NewCachedStore(next, 10, 0, nil))
}

func TestCachedStore_CachesHits(t *testing.T) {
	next := &fakeStore{
		roles:    map[string][]string{"u": {RoleAdmin}},
		profiles: map[string]*Profile{"u": {ID: "u", Email: "u@example.com"}},
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := NewCachedStore(next, 10, time.Minute, metrics).(*CachedStore)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		roles, err := store.ActiveRoles(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, []string{RoleAdmin}, roles)

		p, err := store.Profile(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, "u@example.com", p.Email)
	}
	assert.Equal(t, 2, next.calls)

	missing, err := store.Profile(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
	_, _ = store.Profile(ctx, "ghost")
	assert.Equal(t, 3, next.calls, "missing profiles are cached too")

	store.Invalidate("u")
	_, _ = store.ActiveRoles(ctx, "u")
	assert.Equal(t, 4, next.calls)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("roles")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("roles")))
}

func TestCachedStore_ErrorsNotCached(t *testing.T) {
	next := &fakeStore{err: errors.New("db down")}
	store := NewCachedStore(next, 10, time.Minute, nil)
	ctx := context.Background()

	_, err := store.ActiveRoles(ctx, "u")
	assert.Error(t, err)

	next.mu.Lock()
	next.err = nil
	next.roles = map[string][]string{"u": {"sales"}}
	next.mu.Unlock()

	roles, err := store.ActiveRoles(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, roles)
}

func TestCachedStore_Expiry(t *testing.T) {
	next := &fakeStore{roles: map[string][]string{"u": {RoleAdmin}}}
	store := NewCachedStore(next, 10, 20*time.Millisecond, nil)
	ctx := context.Background()

	_, _ = store.ActiveRoles(ctx, "u")
	assert.Eventually(t, func() bool {
		_, _ = store.ActiveRoles(ctx, "u")
		next.mu.Lock()
		defer next.mu.Unlock()
		return next.calls > 1
	}, time.Second, 10*time.Millisecond)
}

// blockingStore holds every lookup until release is closed
type blockingStore struct {
	fakeStore
	release chan struct{}
}

func (b *blockingStore) ActiveRoles(ctx context.Context, userID string) ([]string, error) {
	<-b.release
	return b.fakeStore.ActiveRoles(ctx, userID)
}

func TestCachedStore_CollapsesConcurrentLookups(t *testing.T) {
	next := &blockingStore{
		fakeStore: fakeStore{roles: map[string][]string{"u": {RoleAdmin}}},
		release:   make(chan struct{}),
	}
	store := NewCachedStore(next, 10, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			roles, err := store.ActiveRoles(context.Background(), "u")
			assert.NoError(t, err)
			assert.Equal(t, []string{RoleAdmin}, roles)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(next.release)
	wg.Wait()

	assert.Equal(t, 1, next.calls)
}
