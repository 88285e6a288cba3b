package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

// RoleInput carries the editable fields of a role.
type RoleInput struct {
	Name        string
	Description string
	Admin       bool
}

// CreateRole creates an active role in the context tenant. Names are compared
// case-insensitively; Admin is fixed at creation.
func (e *Engine) CreateRole(ctx context.Context, in RoleInput) (*models.Role, error) {
	id, err := e.id()
	if err != nil {
		return nil, err
	}

	role, err := models.NewRole(id, uuid.Nil, in.Name, in.Description, in.Admin, e.now())
	if err != nil {
		return nil, err
	}

	if _, err := e.roleByName(ctx, role.NormalizedName); err == nil {
		return nil, fmt.Errorf("%w: role %s", ErrDuplicateName, role.Name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := e.roles.Create(ctx, role); err != nil {
		return nil, duplicate(err, "role "+role.Name)
	}

	zerolog.Ctx(ctx).Info().
		Str("role_id", role.RoleID.String()).
		Str("role", role.Name).
		Bool("admin", role.Admin).
		Msg("Created role")

	return role, nil
}

// UpdateRole renames a role and replaces its description.
func (e *Engine) UpdateRole(ctx context.Context, roleID uuid.UUID, name, description string) (*models.Role, error) {
	role, err := e.roles.Find(ctx, roleID)
	if err != nil {
		return nil, err
	}

	if err := role.Rename(name, e.now()); err != nil {
		return nil, err
	}
	role.Description = description

	if other, err := e.roleByName(ctx, role.NormalizedName); err == nil && other.RoleID != role.RoleID {
		return nil, fmt.Errorf("%w: role %s", ErrDuplicateName, role.Name)
	}

	if err := e.roles.Update(ctx, role); err != nil {
		return nil, duplicate(err, "role "+role.Name)
	}
	return role, nil
}

// ActivateRole makes a role contribute to its holders' permissions again.
func (e *Engine) ActivateRole(ctx context.Context, roleID uuid.UUID) (*models.Role, error) {
	return e.setRoleActive(ctx, roleID, true)
}

// DeactivateRole stops a role contributing permissions. Assignments are kept.
func (e *Engine) DeactivateRole(ctx context.Context, roleID uuid.UUID) (*models.Role, error) {
	return e.setRoleActive(ctx, roleID, false)
}

func (e *Engine) setRoleActive(ctx context.Context, roleID uuid.UUID, active bool) (*models.Role, error) {
	var role *models.Role
	err := e.write(ctx, func(ctx context.Context) error {
		var err error
		role, err = e.roles.Find(ctx, roleID)
		if err != nil {
			return err
		}

		role.Active = active
		role.UpdatedAt = e.now()
		return e.roles.Update(ctx, role)
	})
	return role, err
}

// RemoveRole deletes a role that no user holds.
func (e *Engine) RemoveRole(ctx context.Context, roleID uuid.UUID) error {
	return e.write(ctx, func(ctx context.Context) error {
		role, err := e.roles.Find(ctx, roleID)
		if err != nil {
			return err
		}

		holders, err := e.assignments.UserIDsWithRole(ctx, roleID)
		if err != nil {
			return err
		}
		if len(holders) > 0 {
			return fmt.Errorf("%w: %s is held by %d users", ErrRoleInUse, role.Name, len(holders))
		}

		if err := e.roles.Remove(ctx, role); err != nil {
			if errors.Is(err, store.ErrReferenced) {
				return fmt.Errorf("%w: %s", ErrRoleInUse, role.Name)
			}
			return err
		}

		zerolog.Ctx(ctx).Info().Str("role_id", roleID.String()).Msg("Removed role")
		return nil
	})
}

// GetRole returns a role of the context tenant.
func (e *Engine) GetRole(ctx context.Context, roleID uuid.UUID) (*models.Role, error) {
	return e.roles.Find(ctx, roleID)
}

// ListRoles returns the roles of the context tenant.
func (e *Engine) ListRoles(ctx context.Context) ([]*models.Role, error) {
	return e.roles.List(ctx, nil)
}

// FindRoleByName returns the role whose name matches case-insensitively.
func (e *Engine) FindRoleByName(ctx context.Context, name string) (*models.Role, error) {
	return e.roleByName(ctx, models.NormalizeRoleName(name))
}

func (e *Engine) roleByName(ctx context.Context, normalized string) (*models.Role, error) {
	return e.roles.First(ctx, func(r *models.Role) bool { return r.NormalizedName == normalized })
}

// AssignPermission grants a permission to a role. Granting twice is a no-op;
// the result reports whether a grant was added. A permission restricted to
// another tenant fails with tenancy.ErrTenantMismatch.
func (e *Engine) AssignPermission(ctx context.Context, roleID, permissionID uuid.UUID) (bool, error) {
	perm, err := e.catalog.Get(ctx, permissionID)
	if err != nil {
		return false, err
	}
	return e.grant(ctx, roleID, perm)
}

// AssignPermissionByName grants the catalog permission called name.
func (e *Engine) AssignPermissionByName(ctx context.Context, roleID uuid.UUID, name string) (bool, error) {
	perm, err := e.catalog.GetByName(ctx, name)
	if err != nil {
		return false, err
	}
	return e.grant(ctx, roleID, perm)
}

func (e *Engine) grant(ctx context.Context, roleID uuid.UUID, perm *models.Permission) (bool, error) {
	added := false
	err := e.write(ctx, func(ctx context.Context) error {
		var err error
		added, err = e.grantInTx(ctx, roleID, perm)
		return err
	})
	return added, err
}

func (e *Engine) grantInTx(ctx context.Context, roleID uuid.UUID, perm *models.Permission) (bool, error) {
	tenantID, err := tenancy.Require(ctx)
	if err != nil {
		return false, err
	}
	if !perm.AssignableIn(tenantID) {
		return false, fmt.Errorf("permission %s: %w", perm.Name, tenancy.ErrTenantMismatch)
	}

	if _, err := e.roles.Find(ctx, roleID); err != nil {
		return false, err
	}

	return e.assignments.GrantPermission(ctx, roleID, perm.PermissionID, e.now())
}

// RevokePermission removes a grant; revoking a missing grant is a no-op.
func (e *Engine) RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) (bool, error) {
	removed := false
	err := e.write(ctx, func(ctx context.Context) error {
		if _, err := e.roles.Find(ctx, roleID); err != nil {
			return err
		}

		var err error
		removed, err = e.assignments.RevokePermission(ctx, roleID, permissionID)
		return err
	})
	return removed, err
}

// PermissionsOfRole returns the permissions granted to a role, ordered by name.
func (e *Engine) PermissionsOfRole(ctx context.Context, roleID uuid.UUID) ([]*models.Permission, error) {
	if _, err := e.roles.Find(ctx, roleID); err != nil {
		return nil, err
	}

	ids, err := e.assignments.PermissionIDsOfRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return e.catalog.ListByIDs(ctx, ids)
}
