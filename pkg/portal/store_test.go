package portal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

func TestSQLStore_ActiveGrants(t *testing.T) {
	db := rbac.OpenTestDB(t)
	ctx := context.Background()

	rbac.SeedUser(t, db, "u-multi", "multi@example.com", "employee")
	rbac.SeedPortalAccess(t, db, "u-multi", "designer", true, []string{"samples", "orders"})
	rbac.SeedPortalAccess(t, db, "u-multi", "customer", true, []string{"orders"})
	rbac.SeedPortalAccess(t, db, "u-multi", "qc", false, []string{"inspections"})

	rbac.SeedUser(t, db, "u-empty", "empty@example.com", "customer")
	rbac.SeedPortalAccess(t, db, "u-empty", "customer", true, nil)

	_, err := db.Exec("UPDATE portal_access SET customer_id = 'cust-9' WHERE user_id = 'u-multi' AND portal_type = 'customer'")
	require.NoError(t, err)

	store := NewSQLStore(db, time.Second, nil)

	grants, err := store.ActiveGrants(ctx, "u-multi")
	require.NoError(t, err)
	require.Len(t, grants, 2)

	assert.Equal(t, TypeCustomer, grants[0].PortalType)
	assert.Equal(t, []string{"orders"}, grants[0].AllowedModules)
	require.NotNil(t, grants[0].CustomerID)
	assert.Equal(t, "cust-9", *grants[0].CustomerID)
	assert.Nil(t, grants[0].PartnerID)

	assert.Equal(t, TypeDesigner, grants[1].PortalType)
	assert.Equal(t, []string{"samples", "orders"}, grants[1].AllowedModules)

	_, ok := grants.For(TypeQC)
	assert.False(t, ok, "inactive grants are excluded")

	grants, err = store.ActiveGrants(ctx, "u-empty")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Empty(t, grants[0].AllowedModules)

	grants, err = store.ActiveGrants(ctx, "u-none")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestSQLStore_ActiveGrantsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, 0, nil)
	ctx := context.Background()
	columns := []string{"portal_type", "allowed_modules", "customer_id", "partner_id"}

	mock.ExpectQuery("SELECT portal_type, allowed_modules").
		WithArgs("u-1").
		WillReturnError(errors.New("connection refused"))
	_, err = store.ActiveGrants(ctx, "u-1")
	assert.ErrorContains(t, err, "connection refused")

	mock.ExpectQuery("SELECT portal_type, allowed_modules").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("customer", "{not json", nil, nil))
	_, err = store.ActiveGrants(ctx, "u-1")
	assert.ErrorContains(t, err, "allowed modules")

	mock.ExpectQuery("SELECT portal_type, allowed_modules").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("warehouse", `["stock"]`, nil, nil).
			AddRow("factory", `["production"]`, nil, "partner-3"))
	grants, err := store.ActiveGrants(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, grants, 1, "unknown portal types are skipped")
	assert.Equal(t, TypeFactory, grants[0].PortalType)
	require.NotNil(t, grants[0].PartnerID)
	assert.Equal(t, "partner-3", *grants[0].PartnerID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

type countingStore struct {
	mu     sync.Mutex
	grants Grants
	err    error
	calls  int
}

func (c *countingStore) ActiveGrants(context.Context, string) (Grants, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.grants, c.err
}

func TestCachedStore(t *testing.T) {
	next := &countingStore{err: errors.New("db down")}
	store := NewCachedStore(next, 10, time.Minute, nil)
	ctx := context.Background()

	_, err := store.ActiveGrants(ctx, "u")
	assert.Error(t, err)

	next.err = nil
	next.grants = Grants{{PortalType: TypeQC, AllowedModules: []string{"inspections"}}}

	for i := 0; i < 3; i++ {
		grants, err := store.ActiveGrants(ctx, "u")
		require.NoError(t, err)
		assert.Len(t, grants, 1)
	}
	assert.Equal(t, 2, next.calls, "the error was not cached, the success was")

	store.(*CachedStore).Invalidate("u")
	_, _ = store.ActiveGrants(ctx, "u")
	assert.Equal(t, 3, next.calls)

	assert.Same(t, next, NewCachedStore(next, 10, 0, nil))
}
