package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestValidateSlug(t *testing.T) {
	tests := []struct {
		slug  string
		valid bool
	}{
		{"acme", true},
		{"acme-corp", true},
		{"a1", true},
		{"", false},
		{"Acme", false},
		{"acme_corp", false},
		{"-acme", false},
		{"acme--corp", false},
		{"acme.corp", false},
	}

	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			err := ValidateSlug(tt.slug)
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestNewUser(t *testing.T) {
	now := time.Now()

	t.Run("normalizes login and email", func(t *testing.T) {
		u, err := NewUser(uuid.New(), uuid.Nil, "  Alice ", "Alice@Acme.Test", " Alice Smith ", now)
		require.NoError(t, err)
		require.Equal(t, "alice", u.LoginName)
		require.Equal(t, "alice@acme.test", u.Email)
		require.Equal(t, "Alice Smith", u.FullName)
		require.True(t, u.Active)
		require.True(t, u.Matches("ALICE@acme.test"))
		require.True(t, u.Matches("alice"))
		require.False(t, u.Matches("bob"))
	})

	t.Run("rejects bad email", func(t *testing.T) {
		_, err := NewUser(uuid.New(), uuid.Nil, "alice", "not-an-email", "", now)
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("rejects empty login", func(t *testing.T) {
		_, err := NewUser(uuid.New(), uuid.Nil, "  ", "alice@acme.test", "", now)
		require.ErrorIs(t, err, ErrInvalid)
	})
}

func TestRoleNormalizedName(t *testing.T) {
	r, err := NewRole(uuid.New(), uuid.Nil, " Admin ", "", true, time.Now())
	require.NoError(t, err)
	require.Equal(t, "Admin", r.Name)
	require.Equal(t, "ADMIN", r.NormalizedName)
	require.Equal(t, NormalizeRoleName("admin"), r.NormalizedName)

	require.ErrorIs(t, r.Rename("", time.Now()), ErrInvalid)
}

func TestPermissionAssignableIn(t *testing.T) {
	p, err := NewPermission(uuid.New(), "CanCreateUser", "", true, time.Now())
	require.NoError(t, err)

	tenantA, tenantB := uuid.New(), uuid.New()
	require.True(t, p.AssignableIn(tenantA))

	p.TenantID = &tenantA
	require.True(t, p.AssignableIn(tenantA))
	require.False(t, p.AssignableIn(tenantB))

	_, err = NewPermission(uuid.New(), "createUser", "", false, time.Now())
	require.ErrorIs(t, err, ErrInvalid)
}

func TestStampTenant(t *testing.T) {
	s, err := NewSection(uuid.New(), uuid.Nil, "Invoices", "Invoices", "", time.Now())
	require.NoError(t, err)
	require.Equal(t, uuid.Nil, s.OwnerTenant())

	tenantID := uuid.New()
	s.StampTenant(tenantID)
	require.Equal(t, tenantID, s.OwnerTenant())
	require.Equal(t, s.SectionID, s.EntityID())
}
