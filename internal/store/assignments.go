package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

// Assignments scopes an AssignmentBackend to the context tenant.
type Assignments struct {
	backend AssignmentBackend
}

// NewAssignments wraps backend.
func NewAssignments(backend AssignmentBackend) *Assignments {
	return &Assignments{backend: backend}
}

func (a *Assignments) tenant(ctx context.Context) (uuid.UUID, error) {
	tenantID, err := tenancy.Require(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Assignment access without tenant context")
		return uuid.Nil, fmt.Errorf("assignments: %w", err)
	}
	return tenantID, nil
}

func (a *Assignments) GrantPermission(ctx context.Context, roleID, permissionID uuid.UUID, at time.Time) (bool, error) {
	tenantID, err := a.tenant(ctx)
	if err != nil {
		return false, err
	}
	return a.backend.GrantPermission(ctx, tenantID, roleID, permissionID, at)
}

func (a *Assignments) RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) (bool, error) {
	tenantID, err := a.tenant(ctx)
	if err != nil {
		return false, err
	}
	return a.backend.RevokePermission(ctx, tenantID, roleID, permissionID)
}

func (a *Assignments) PermissionIDsOfRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	tenantID, err := a.tenant(ctx)
	if err != nil {
		return nil, err
	}
	return a.backend.PermissionIDsOfRole(ctx, tenantID, roleID)
}

func (a *Assignments) AddUserRole(ctx context.Context, userID, roleID uuid.UUID, at time.Time) (bool, error) {
	tenantID, err := a.tenant(ctx)
	if err != nil {
		return false, err
	}
	return a.backend.AddUserRole(ctx, tenantID, userID, roleID, at)
}

func (a *Assignments) RemoveUserRole(ctx context.Context, userID, roleID uuid.UUID) (bool, error) {
	tenantID, err := a.tenant(ctx)
	if err != nil {
		return false, err
	}
	return a.backend.RemoveUserRole(ctx, tenantID, userID, roleID)
}

func (a *Assignments) RoleIDsOfUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	tenantID, err := a.tenant(ctx)
	if err != nil {
		return nil, err
	}
	return a.backend.RoleIDsOfUser(ctx, tenantID, userID)
}

func (a *Assignments) UserIDsWithRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	tenantID, err := a.tenant(ctx)
	if err != nil {
		return nil, err
	}
	return a.backend.UserIDsWithRole(ctx, tenantID, roleID)
}

// LockTenant serializes membership changes of the context tenant.
func (a *Assignments) LockTenant(ctx context.Context) error {
	tenantID, err := a.tenant(ctx)
	if err != nil {
		return err
	}
	return a.backend.LockTenant(ctx, tenantID)
}
