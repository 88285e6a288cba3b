package rbac

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// AssignRoles gives a user every listed role. All roles are validated before
// anything is written, so either every assignment is made or none is.
// Already held roles are skipped.
func (e *Engine) AssignRoles(ctx context.Context, userID uuid.UUID, roleIDs ...uuid.UUID) error {
	return e.write(ctx, func(ctx context.Context) error {
		if _, err := e.users.Find(ctx, userID); err != nil {
			return err
		}

		for _, roleID := range roleIDs {
			if _, err := e.roles.Find(ctx, roleID); err != nil {
				return fmt.Errorf("role %s: %w", roleID, err)
			}
		}

		now := e.now()
		for _, roleID := range roleIDs {
			if _, err := e.assignments.AddUserRole(ctx, userID, roleID, now); err != nil {
				return err
			}
		}

		zerolog.Ctx(ctx).Info().
			Str("user_id", userID.String()).
			Int("roles", len(roleIDs)).
			Msg("Assigned roles")
		return nil
	})
}

// RevokeRole takes a role away from a user. The tenant is locked for the
// duration so two concurrent revocations cannot both remove "another"
// administrator and leave none.
func (e *Engine) RevokeRole(ctx context.Context, userID, roleID uuid.UUID) (bool, error) {
	removed := false
	err := e.write(ctx, func(ctx context.Context) error {
		if err := e.assignments.LockTenant(ctx); err != nil {
			return err
		}

		if _, err := e.users.Find(ctx, userID); err != nil {
			return err
		}
		if _, err := e.roles.Find(ctx, roleID); err != nil {
			return err
		}

		if err := e.guardLastAdministrator(ctx, userID, roleID); err != nil {
			return err
		}

		var err error
		removed, err = e.assignments.RemoveUserRole(ctx, userID, roleID)
		return err
	})
	return removed, err
}

// guardLastAdministrator fails when userID losing roleID (every role when
// roleID is uuid.Nil) would leave the tenant without an administrator.
// Holders of inactive administrative roles still count.
func (e *Engine) guardLastAdministrator(ctx context.Context, userID, roleID uuid.UUID) error {
	adminRoles, err := e.roles.List(ctx, func(r *models.Role) bool { return r.Admin })
	if err != nil {
		return err
	}

	holders := map[uuid.UUID]bool{}
	keeps := false
	for _, role := range adminRoles {
		ids, err := e.assignments.UserIDsWithRole(ctx, role.RoleID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			holders[id] = true
			if id == userID && roleID != uuid.Nil && role.RoleID != roleID {
				keeps = true
			}
		}
	}

	if !holders[userID] || keeps || len(holders) > 1 {
		return nil
	}
	return ErrLastAdministratorProtected
}

// RolesOfUser returns the roles a user holds, active or not.
func (e *Engine) RolesOfUser(ctx context.Context, userID uuid.UUID) ([]*models.Role, error) {
	if _, err := e.users.Find(ctx, userID); err != nil {
		return nil, err
	}

	ids, err := e.assignments.RoleIDsOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return e.roles.List(ctx, func(r *models.Role) bool { return slices.Contains(ids, r.RoleID) })
}

// PermissionsOfUser returns the union of the permissions of the user's active
// roles, ordered by name.
func (e *Engine) PermissionsOfUser(ctx context.Context, userID uuid.UUID) ([]*models.Permission, error) {
	roles, err := e.RolesOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, role := range roles {
		if !role.Active {
			continue
		}
		permIDs, err := e.assignments.PermissionIDsOfRole(ctx, role.RoleID)
		if err != nil {
			return nil, err
		}
		for _, id := range permIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	return e.catalog.ListByIDs(ctx, ids)
}

// PermissionNamesOfUser returns the names of the user's effective
// permissions, consulting the permission cache when one is configured.
// Cache failures fall back to storage.
func (e *Engine) PermissionNamesOfUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	useCache := e.cache != nil && !store.InTransaction(ctx)

	var (
		tenantID   uuid.UUID
		generation Generation
		cacheable  bool
	)
	if useCache {
		// the user lookup enforces the tenant before anything is read from the cache
		user, err := e.users.Find(ctx, userID)
		if err != nil {
			return nil, err
		}
		tenantID = user.TenantID

		names, gen, ok, err := e.cache.Get(ctx, tenantID, userID)
		switch {
		case err != nil:
			cacheError(ctx, "get")
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Permission cache read failed")
		case ok:
			cacheHit(ctx, true)
			return names, nil
		default:
			cacheHit(ctx, false)
			generation, cacheable = gen, true
		}
	}

	perms, err := e.PermissionsOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}

	if cacheable {
		if err := e.cache.Set(ctx, tenantID, userID, generation, names); err != nil {
			cacheError(ctx, "set")
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Permission cache write failed")
		}
	}

	return names, nil
}

// HasPermission reports whether the user effectively holds the named permission.
func (e *Engine) HasPermission(ctx context.Context, userID uuid.UUID, name string) (bool, error) {
	names, err := e.PermissionNamesOfUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return slices.Contains(names, name), nil
}
