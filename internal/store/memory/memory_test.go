package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return id
}

func createTenant(t *testing.T, stores store.Stores, slug string) *models.Tenant {
	t.Helper()
	tenant, err := models.NewTenant(newID(t), slug, slug, testNow)
	require.NoError(t, err)
	require.NoError(t, stores.Tenants.Create(context.Background(), tenant))
	return tenant
}

func createUser(t *testing.T, stores store.Stores, tenantID uuid.UUID, login string) *models.User {
	t.Helper()
	u, err := models.NewUser(newID(t), tenantID, login, login+"@example.test", "", testNow)
	require.NoError(t, err)
	require.NoError(t, stores.Users.Insert(context.Background(), u))
	return u
}

func createRole(t *testing.T, stores store.Stores, tenantID uuid.UUID, name string) *models.Role {
	t.Helper()
	r, err := models.NewRole(newID(t), tenantID, name, "", false, testNow)
	require.NoError(t, err)
	require.NoError(t, stores.Roles.Insert(context.Background(), r))
	return r
}

func createPermission(t *testing.T, stores store.Stores, name string) *models.Permission {
	t.Helper()
	p, err := models.NewPermission(newID(t), name, "", false, testNow)
	require.NoError(t, err)
	require.NoError(t, stores.Permissions.Create(context.Background(), p))
	return p
}

func TestTenantStore(t *testing.T) {
	ctx := context.Background()
	stores := NewDB().Stores()

	acme := createTenant(t, stores, "acme")

	t.Run("duplicate slug", func(t *testing.T) {
		dup, err := models.NewTenant(newID(t), "Other", "acme", testNow)
		require.NoError(t, err)
		require.ErrorIs(t, stores.Tenants.Create(ctx, dup), store.ErrAlreadyExists)
	})

	t.Run("get by slug returns a copy", func(t *testing.T) {
		got, err := stores.Tenants.GetBySlug(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, acme.TenantID, got.TenantID)

		got.Name = "mutated"
		again, err := stores.Tenants.Get(ctx, acme.TenantID)
		require.NoError(t, err)
		require.Equal(t, "acme", again.Name)
	})

	t.Run("usage and cascade", func(t *testing.T) {
		u := createUser(t, stores, acme.TenantID, "alice")
		r := createRole(t, stores, acme.TenantID, "Admin")
		_, err := stores.Assignments.AddUserRole(ctx, acme.TenantID, u.UserID, r.RoleID, testNow)
		require.NoError(t, err)

		usage, err := stores.Tenants.Usage(ctx, acme.TenantID)
		require.NoError(t, err)
		require.Equal(t, store.TenantUsage{Users: 1, Roles: 1}, usage)

		require.ErrorIs(t, stores.Tenants.Delete(ctx, acme.TenantID), store.ErrReferenced)
		_, err = stores.Users.Get(ctx, acme.TenantID, u.UserID)
		require.NoError(t, err)

		require.NoError(t, stores.Users.Delete(ctx, acme.TenantID, u.UserID))
		require.NoError(t, stores.Tenants.Delete(ctx, acme.TenantID))

		_, err = stores.Roles.Get(ctx, acme.TenantID, r.RoleID)
		require.ErrorIs(t, err, store.ErrNotFound)
		ids, err := stores.Assignments.RoleIDsOfUser(ctx, acme.TenantID, u.UserID)
		require.NoError(t, err)
		require.Empty(t, ids)
	})
}

func TestTableIsolation(t *testing.T) {
	ctx := context.Background()
	stores := NewDB().Stores()

	acme := createTenant(t, stores, "acme")
	globex := createTenant(t, stores, "globex")
	alice := createUser(t, stores, acme.TenantID, "alice")

	_, err := stores.Users.Get(ctx, globex.TenantID, alice.UserID)
	require.ErrorIs(t, err, store.ErrNotFound)

	users, err := stores.Users.List(ctx, globex.TenantID)
	require.NoError(t, err)
	require.Empty(t, users)

	require.ErrorIs(t, stores.Users.Delete(ctx, globex.TenantID, alice.UserID), store.ErrNotFound)

	hijack := alice.Clone()
	hijack.FullName = "Mallory"
	require.ErrorIs(t, stores.Users.Update(ctx, globex.TenantID, hijack), store.ErrNotFound)

	// the same login may exist in another tenant
	createUser(t, stores, globex.TenantID, "alice")

	dup, err := models.NewUser(newID(t), acme.TenantID, "ALICE", "other@example.test", "", testNow)
	require.NoError(t, err)
	require.ErrorIs(t, stores.Users.Insert(ctx, dup), store.ErrAlreadyExists)
}

func TestRoleUniqueness(t *testing.T) {
	ctx := context.Background()
	stores := NewDB().Stores()
	acme := createTenant(t, stores, "acme")

	createRole(t, stores, acme.TenantID, "Admin")

	dup, err := models.NewRole(newID(t), acme.TenantID, " admin ", "", false, testNow)
	require.NoError(t, err)
	require.ErrorIs(t, stores.Roles.Insert(ctx, dup), store.ErrAlreadyExists)
}

func TestAssignments(t *testing.T) {
	ctx := context.Background()
	stores := NewDB().Stores()

	acme := createTenant(t, stores, "acme")
	globex := createTenant(t, stores, "globex")
	alice := createUser(t, stores, acme.TenantID, "alice")
	admin := createRole(t, stores, acme.TenantID, "Admin")
	perm := createPermission(t, stores, "CanCreateUser")

	t.Run("grant is idempotent", func(t *testing.T) {
		added, err := stores.Assignments.GrantPermission(ctx, acme.TenantID, admin.RoleID, perm.PermissionID, testNow)
		require.NoError(t, err)
		require.True(t, added)

		added, err = stores.Assignments.GrantPermission(ctx, acme.TenantID, admin.RoleID, perm.PermissionID, testNow)
		require.NoError(t, err)
		require.False(t, added)

		n, err := stores.Assignments.CountPermissionGrants(ctx, perm.PermissionID)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("cross tenant references are rejected", func(t *testing.T) {
		_, err := stores.Assignments.GrantPermission(ctx, globex.TenantID, admin.RoleID, perm.PermissionID, testNow)
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = stores.Assignments.AddUserRole(ctx, globex.TenantID, alice.UserID, admin.RoleID, testNow)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("tenant restricted permission", func(t *testing.T) {
		p, err := models.NewPermission(newID(t), "CanExportGlobex", "", false, testNow)
		require.NoError(t, err)
		p.TenantID = &globex.TenantID
		require.NoError(t, stores.Permissions.Create(ctx, p))

		_, err = stores.Assignments.GrantPermission(ctx, acme.TenantID, admin.RoleID, p.PermissionID, testNow)
		require.ErrorIs(t, err, tenancy.ErrTenantMismatch)
	})

	t.Run("held role and granted permission cannot be deleted", func(t *testing.T) {
		_, err := stores.Assignments.AddUserRole(ctx, acme.TenantID, alice.UserID, admin.RoleID, testNow)
		require.NoError(t, err)

		require.ErrorIs(t, stores.Roles.Delete(ctx, acme.TenantID, admin.RoleID), store.ErrReferenced)
		require.ErrorIs(t, stores.Permissions.Delete(ctx, perm.PermissionID), store.ErrReferenced)
	})

	t.Run("deleting a user removes assignments", func(t *testing.T) {
		require.NoError(t, stores.Users.Delete(ctx, acme.TenantID, alice.UserID))

		holders, err := stores.Assignments.UserIDsWithRole(ctx, acme.TenantID, admin.RoleID)
		require.NoError(t, err)
		require.Empty(t, holders)

		require.NoError(t, stores.Roles.Delete(ctx, acme.TenantID, admin.RoleID))
		require.NoError(t, stores.Permissions.Delete(ctx, perm.PermissionID))
	})
}

func TestInTx(t *testing.T) {
	db := NewDB()
	stores := db.Stores()
	acme := createTenant(t, stores, "acme")

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.InTx(context.Background(), func(ctx context.Context) error {
			require.True(t, store.InTransaction(ctx))
			u, err := models.NewUser(newID(t), acme.TenantID, "rolled-back", "rb@example.test", "", testNow)
			require.NoError(t, err)
			require.NoError(t, stores.Users.Insert(ctx, u))

			users, err := stores.Users.List(ctx, acme.TenantID)
			require.NoError(t, err)
			require.Len(t, users, 1)

			// committed state is untouched until the transaction ends
			users, err = stores.Users.List(context.Background(), acme.TenantID)
			require.NoError(t, err)
			require.Empty(t, users)
			return boom
		})
		require.ErrorIs(t, err, boom)

		users, err := stores.Users.List(context.Background(), acme.TenantID)
		require.NoError(t, err)
		require.Empty(t, users)
	})

	t.Run("commit is visible", func(t *testing.T) {
		err := db.InTx(context.Background(), func(ctx context.Context) error {
			u, err := models.NewUser(newID(t), acme.TenantID, "bob", "bob@example.test", "", testNow)
			require.NoError(t, err)
			if err := stores.Users.Insert(ctx, u); err != nil {
				return err
			}
			// nested transactions join the outer one
			return db.InTx(ctx, func(ctx context.Context) error {
				users, err := stores.Users.List(ctx, acme.TenantID)
				require.NoError(t, err)
				require.Len(t, users, 1)
				return nil
			})
		})
		require.NoError(t, err)

		users, err := stores.Users.List(context.Background(), acme.TenantID)
		require.NoError(t, err)
		require.Len(t, users, 1)
	})

	t.Run("cancelled context aborts commit", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		err := db.InTx(ctx, func(ctx context.Context) error {
			u, err := models.NewUser(newID(t), acme.TenantID, "carol", "carol@example.test", "", testNow)
			require.NoError(t, err)
			require.NoError(t, stores.Users.Insert(ctx, u))
			cancel()
			return nil
		})
		require.ErrorIs(t, err, context.Canceled)

		users, err := stores.Users.List(context.Background(), acme.TenantID)
		require.NoError(t, err)
		require.Len(t, users, 1)
	})
}

func TestCredentialStore(t *testing.T) {
	ctx := context.Background()
	stores := NewDB().Stores()

	acme := createTenant(t, stores, "acme")
	globex := createTenant(t, stores, "globex")
	alice := createUser(t, stores, acme.TenantID, "alice")

	_, err := stores.Credentials.Get(ctx, acme.TenantID, alice.UserID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.ErrorIs(t, stores.Credentials.Put(ctx, &models.Credential{UserID: alice.UserID, TenantID: globex.TenantID, Hash: []byte("x")}), store.ErrNotFound)
	require.ErrorIs(t, stores.Credentials.Put(ctx, &models.Credential{UserID: newID(t), TenantID: acme.TenantID, Hash: []byte("x")}), store.ErrNotFound)

	hash := []byte("hash")
	require.NoError(t, stores.Credentials.Put(ctx, &models.Credential{UserID: alice.UserID, TenantID: acme.TenantID, Hash: hash}))
	hash[0] = 'X'

	for want := 1; want <= 2; want++ {
		n, err := stores.Credentials.RecordFailure(ctx, acme.TenantID, alice.UserID)
		require.NoError(t, err)
		require.Equal(t, want, n)
	}

	got, err := stores.Credentials.Get(ctx, acme.TenantID, alice.UserID)
	require.NoError(t, err)
	require.Equal(t, []byte("hash"), got.Hash)
	require.Equal(t, 2, got.FailedAttempts)

	_, err = stores.Credentials.Get(ctx, globex.TenantID, alice.UserID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = stores.Credentials.RecordFailure(ctx, globex.TenantID, alice.UserID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, stores.Credentials.ResetFailures(ctx, acme.TenantID, alice.UserID))
	got, err = stores.Credentials.Get(ctx, acme.TenantID, alice.UserID)
	require.NoError(t, err)
	require.Zero(t, got.FailedAttempts)

	t.Run("deleted with the user", func(t *testing.T) {
		require.NoError(t, stores.Users.Delete(ctx, acme.TenantID, alice.UserID))
		_, err := stores.Credentials.Get(ctx, acme.TenantID, alice.UserID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
