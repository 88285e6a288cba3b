package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a named bundle of permissions within a tenant.
type Role struct {
	RoleID         uuid.UUID // UUIDv7
	TenantID       uuid.UUID // UUIDv7, FK to tenants
	Name           string    // display name, carried in token role claims
	NormalizedName string    // uniqueness key within the tenant
	Description    string
	Admin          bool // holders administer the tenant
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewRole builds an active role.
func NewRole(id, tenantID uuid.UUID, name, description string, admin bool, now time.Time) (*Role, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalid)
	}

	r := &Role{
		RoleID:      id,
		TenantID:    tenantID,
		Description: strings.TrimSpace(description),
		Admin:       admin,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.Rename(name, now); err != nil {
		return nil, err
	}

	return r, nil
}

// NormalizeRoleName returns the case-insensitive comparison form of a role name.
func NormalizeRoleName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Rename changes the display name and its normalized form together.
func (r *Role) Rename(name string, now time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalid)
	}
	r.Name = name
	r.NormalizedName = NormalizeRoleName(name)
	r.UpdatedAt = now
	return nil
}

func (r *Role) EntityID() uuid.UUID    { return r.RoleID }
func (r *Role) OwnerTenant() uuid.UUID { return r.TenantID }

func (r *Role) StampTenant(tenantID uuid.UUID) { r.TenantID = tenantID }

// Clone returns a copy of the role.
func (r *Role) Clone() *Role {
	clone := *r
	return &clone
}
