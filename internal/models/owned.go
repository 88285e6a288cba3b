package models

import "github.com/google/uuid"

// TenantOwned is implemented by every entity that belongs to exactly one tenant.
// The owning tenant is set once, on creation, and never reassigned.
type TenantOwned interface {
	EntityID() uuid.UUID
	OwnerTenant() uuid.UUID
	StampTenant(tenantID uuid.UUID)
}

var (
	_ TenantOwned = (*User)(nil)
	_ TenantOwned = (*Role)(nil)
	_ TenantOwned = (*Section)(nil)
)
