package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/store/memory"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, store.Stores) {
	t.Helper()
	stores := memory.NewDB().Stores()
	return New(stores.Tenants, WithClock(func() time.Time { return testNow })), stores
}

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	acme, err := reg.Create(ctx, "Acme Corp", "acme")
	require.NoError(t, err)
	require.True(t, acme.Active)
	require.Equal(t, testNow, acme.CreatedAt)

	t.Run("duplicate slug", func(t *testing.T) {
		_, err := reg.Create(ctx, "Other", "acme")
		require.ErrorIs(t, err, ErrDuplicateSlug)
	})

	t.Run("invalid slug", func(t *testing.T) {
		_, err := reg.Create(ctx, "Bad", "Not A Slug")
		require.ErrorIs(t, err, models.ErrInvalid)
	})

	t.Run("lookup by id and slug", func(t *testing.T) {
		byID, err := reg.Lookup(ctx, acme.TenantID.String())
		require.NoError(t, err)
		require.Equal(t, acme.TenantID, byID.TenantID)

		bySlug, err := reg.Lookup(ctx, " ACME ")
		require.NoError(t, err)
		require.Equal(t, acme.TenantID, bySlug.TenantID)
	})

	t.Run("unknown identifiers", func(t *testing.T) {
		_, err := reg.Lookup(ctx, "globex")
		require.ErrorIs(t, err, tenancy.ErrUnknownTenant)
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = reg.Lookup(ctx, uuid.NewString())
		require.ErrorIs(t, err, tenancy.ErrUnknownTenant)
	})

	t.Run("returned tenants are copies", func(t *testing.T) {
		got, err := reg.Get(ctx, acme.TenantID)
		require.NoError(t, err)
		got.Name = "mutated"

		again, err := reg.Get(ctx, acme.TenantID)
		require.NoError(t, err)
		require.Equal(t, "Acme Corp", again.Name)
	})
}

func TestDeactivateInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	acme, err := reg.Create(ctx, "Acme", "acme")
	require.NoError(t, err)

	// prime the cache
	_, err = reg.GetBySlug(ctx, "acme")
	require.NoError(t, err)

	_, err = reg.Deactivate(ctx, acme.TenantID)
	require.NoError(t, err)

	got, err := reg.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	require.False(t, got.Active)

	inactive, err := reg.Inactive(ctx)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{acme.TenantID}, inactive)

	_, err = reg.Activate(ctx, acme.TenantID)
	require.NoError(t, err)

	inactive, err = reg.Inactive(ctx)
	require.NoError(t, err)
	require.Empty(t, inactive)

	renamed, err := reg.Rename(ctx, acme.TenantID, "Acme Holdings")
	require.NoError(t, err)
	require.Equal(t, "Acme Holdings", renamed.Name)

	_, err = reg.Rename(ctx, uuid.New(), "Nobody")
	require.ErrorIs(t, err, tenancy.ErrUnknownTenant)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	reg, stores := newRegistry(t)

	acme, err := reg.Create(ctx, "Acme", "acme")
	require.NoError(t, err)

	role, err := models.NewRole(uuid.New(), acme.TenantID, "Admin", "", true, testNow)
	require.NoError(t, err)
	require.NoError(t, stores.Roles.Insert(ctx, role))

	user, err := models.NewUser(uuid.New(), acme.TenantID, "alice", "alice@acme.test", "", testNow)
	require.NoError(t, err)
	require.NoError(t, stores.Users.Insert(ctx, user))

	require.ErrorIs(t, reg.Delete(ctx, acme.TenantID), ErrTenantInUse)

	require.NoError(t, stores.Users.Delete(ctx, acme.TenantID, user.UserID))
	require.NoError(t, reg.Delete(ctx, acme.TenantID))

	_, err = stores.Roles.Get(ctx, acme.TenantID, role.RoleID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = reg.Get(ctx, acme.TenantID)
	require.ErrorIs(t, err, tenancy.ErrUnknownTenant)

	require.ErrorIs(t, reg.Delete(ctx, acme.TenantID), tenancy.ErrUnknownTenant)
}

// racingTenants inserts a user right before the delete reaches the store, as
// a concurrent CreateUser committing in between would.
type racingTenants struct {
	store.TenantStore
	users store.Backend[*models.User]
	user  *models.User
}

func (r *racingTenants) Delete(ctx context.Context, tenantID uuid.UUID) error {
	if err := r.users.Insert(ctx, r.user); err != nil {
		return err
	}
	return r.TenantStore.Delete(ctx, tenantID)
}

func TestDeleteKeepsTenantWithConcurrentUser(t *testing.T) {
	ctx := context.Background()
	stores := memory.NewDB().Stores()

	acme, err := New(stores.Tenants).Create(ctx, "Acme", "acme")
	require.NoError(t, err)

	late, err := models.NewUser(uuid.New(), acme.TenantID, "late", "late@acme.test", "", testNow)
	require.NoError(t, err)

	reg := New(&racingTenants{TenantStore: stores.Tenants, users: stores.Users, user: late})
	require.ErrorIs(t, reg.Delete(ctx, acme.TenantID), ErrTenantInUse)

	_, err = stores.Users.Get(ctx, acme.TenantID, late.UserID)
	require.NoError(t, err)
	_, err = stores.Tenants.Get(ctx, acme.TenantID)
	require.NoError(t, err)
}
