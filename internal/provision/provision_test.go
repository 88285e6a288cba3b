package provision

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wolfeidau/tenantcore/internal/catalog"
	"github.com/wolfeidau/tenantcore/internal/login"
	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/rbac"
	"github.com/wolfeidau/tenantcore/internal/registry"
	"github.com/wolfeidau/tenantcore/internal/store/memory"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

const acmeManifest = `
tenant:
  name: Acme Corp
  slug: acme
roles:
  - name: Admin
    admin: true
    permissions: [CanCreateUser, CanReadUser, CanUpdateUser, CanCreateSection]
  - name: Clerk
    permissions: [CanApproveInvoice]
sections:
  - name: Invoices
    description: Customer invoices
    grantTo: [clerk]
users:
  - login: alice
    email: alice@acme.test
    fullName: Alice Liddell
    password: correct horse
    roles: [Admin]
  - login: bob
    email: bob@acme.test
    roles: [Clerk]
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(acmeManifest))
	require.NoError(t, err)
	require.Equal(t, "acme", m.Tenant.Slug)
	require.Len(t, m.Roles, 2)
	require.Equal(t, []string{"clerk"}, m.Sections[0].GrantTo)

	tests := []struct {
		name     string
		manifest string
	}{
		{name: "unknown field", manifest: "tenant: {name: A, slug: a}\nextra: true\n"},
		{name: "bad slug", manifest: "tenant: {name: A, slug: Not A Slug}\n"},
		{name: "missing name", manifest: "tenant: {slug: a}\n"},
		{name: "unknown role", manifest: "tenant: {name: A, slug: a}\nusers:\n  - {login: x, email: x@a.test, roles: [Ghost]}\n"},
		{name: "duplicate role", manifest: "tenant: {name: A, slug: a}\nroles:\n  - {name: Admin}\n  - {name: ADMIN}\n"},
		{name: "bad permission", manifest: "tenant: {name: A, slug: a}\nroles:\n  - {name: Admin, permissions: [delete_everything]}\n"},
		{name: "duplicate login", manifest: "tenant: {name: A, slug: a}\nusers:\n  - {login: x, email: x@a.test}\n  - {login: X, email: y@a.test}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.manifest))
			require.Error(t, err)
		})
	}

	t.Run("validation errors wrap ErrInvalid", func(t *testing.T) {
		_, err := ParseManifest([]byte("tenant: {name: A, slug: Not A Slug}\n"))
		require.ErrorIs(t, err, models.ErrInvalid)
	})
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acme.yaml")
	require.NoError(t, os.WriteFile(path, []byte(acmeManifest), 0o600))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, "Acme Corp", m.Tenant.Name)

	_, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()

	stores := memory.NewDB().Stores()
	reg := registry.New(stores.Tenants)
	cat := catalog.New(stores.Permissions, stores.Assignments)
	require.NoError(t, cat.Seed(ctx))
	engine := rbac.New(stores, cat)
	passwords := login.NewBcryptVerifier(stores.Credentials, login.WithCost(bcrypt.MinCost))

	p := New(reg, cat, engine, passwords)

	m, err := ParseManifest([]byte(acmeManifest))
	require.NoError(t, err)

	first, err := p.Apply(ctx, m)
	require.NoError(t, err)
	require.True(t, first.TenantCreated)
	require.Equal(t, 2, first.RolesCreated)
	require.Equal(t, 1, first.SectionsCreated)
	require.Equal(t, 2, first.UsersCreated)
	require.Equal(t, 5+4, first.GrantsAdded)

	second, err := p.Apply(ctx, m)
	require.NoError(t, err)
	require.Equal(t, first.TenantID, second.TenantID)
	require.False(t, second.TenantCreated)
	require.Zero(t, second.RolesCreated)
	require.Zero(t, second.SectionsCreated)
	require.Zero(t, second.UsersCreated)
	require.Zero(t, second.GrantsAdded)

	tctx := tenancy.WithTenant(ctx, first.TenantID)

	bob, err := engine.FindUserByLogin(tctx, "bob")
	require.NoError(t, err)
	names, err := engine.PermissionNamesOfUser(tctx, bob.UserID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"CanApproveInvoice",
		"CanCreateDataInSectionInvoices",
		"CanReadDataInSectionInvoices",
		"CanUpdateDataInSectionInvoices",
		"CanDeleteDataInSectionInvoices",
	}, names)

	alice, err := engine.FindUserByLogin(tctx, "alice")
	require.NoError(t, err)
	has, err := passwords.HasPassword(tctx, alice)
	require.NoError(t, err)
	require.True(t, has)
	has, err = passwords.HasPassword(tctx, bob)
	require.NoError(t, err)
	require.False(t, has)

	ok, err := engine.HasPermission(tctx, alice.UserID, "CanCreateSection")
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("new grants in the manifest are added", func(t *testing.T) {
		m.Sections[0].GrantTo = append(m.Sections[0].GrantTo, "Admin")
		report, err := p.Apply(ctx, m)
		require.NoError(t, err)
		require.Equal(t, 4, report.GrantsAdded)
	})
}
