package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var permissionNamePattern = regexp.MustCompile(`^Can[A-Z][A-Za-z0-9]*$`)

// Permission is a named capability in the global catalog.
//
// TenantID is nil for every catalog permission; a non-nil value restricts the
// permission to roles of that tenant.
type Permission struct {
	PermissionID uuid.UUID // UUIDv7
	Name         string    // Can + Action + Subject, e.g. CanCreateUser
	Description  string
	System       bool // system permissions are immutable
	TenantID     *uuid.UUID
	CreatedAt    time.Time
}

// NewPermission builds a global permission.
func NewPermission(id uuid.UUID, name, description string, system bool, now time.Time) (*Permission, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: permission id is required", ErrInvalid)
	}
	if err := ValidatePermissionName(name); err != nil {
		return nil, err
	}

	return &Permission{
		PermissionID: id,
		Name:         name,
		Description:  strings.TrimSpace(description),
		System:       system,
		CreatedAt:    now,
	}, nil
}

// ValidatePermissionName checks the Can+Action+Subject naming convention.
func ValidatePermissionName(name string) error {
	if !permissionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: permission name %q must match Can<Action><Subject>", ErrInvalid, name)
	}
	return nil
}

// AssignableIn reports whether roles of tenantID may hold this permission.
func (p *Permission) AssignableIn(tenantID uuid.UUID) bool {
	return p.TenantID == nil || *p.TenantID == tenantID
}

// Clone returns a deep copy of the permission.
func (p *Permission) Clone() *Permission {
	clone := *p
	if p.TenantID != nil {
		id := *p.TenantID
		clone.TenantID = &id
	}
	return &clone
}
