package models

import (
	"time"

	"github.com/google/uuid"
)

// RolePermission grants a permission to a role. The role's tenant is recorded
// so storage can enforce that both sides belong to the same tenant.
type RolePermission struct {
	TenantID     uuid.UUID
	RoleID       uuid.UUID
	PermissionID uuid.UUID
	CreatedAt    time.Time
}

// UserRole assigns a role to a user of the same tenant.
type UserRole struct {
	TenantID  uuid.UUID
	UserID    uuid.UUID
	RoleID    uuid.UUID
	CreatedAt time.Time
}
