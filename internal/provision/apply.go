package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/tenantcore/internal/catalog"
	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/rbac"
	"github.com/wolfeidau/tenantcore/internal/registry"
	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

// PasswordStore sets initial user passwords.
type PasswordStore interface {
	SetPassword(ctx context.Context, user *models.User, plaintext string) error
	HasPassword(ctx context.Context, user *models.User) (bool, error)
}

// Report counts what an Apply created.
type Report struct {
	TenantID        uuid.UUID
	TenantCreated   bool
	RolesCreated    int
	SectionsCreated int
	UsersCreated    int
	GrantsAdded     int
}

// Provisioner applies manifests.
type Provisioner struct {
	tenants   *registry.Registry
	catalog   *catalog.Catalog
	engine    *rbac.Engine
	passwords PasswordStore
}

// New creates a provisioner. passwords may be nil, in which case manifest
// passwords are ignored.
func New(tenants *registry.Registry, cat *catalog.Catalog, engine *rbac.Engine, passwords PasswordStore) *Provisioner {
	return &Provisioner{tenants: tenants, catalog: cat, engine: engine, passwords: passwords}
}

// Apply converges the tenant towards the manifest. It only adds: existing
// roles, sections, users and grants are kept, and passwords are set only for
// users that have none. Applying the same manifest twice is a no-op.
func (p *Provisioner) Apply(ctx context.Context, m *Manifest) (*Report, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	report := &Report{}

	tenant, err := p.tenants.GetBySlug(ctx, m.Tenant.Slug)
	switch {
	case errors.Is(err, tenancy.ErrUnknownTenant):
		tenant, err = p.tenants.Create(ctx, m.Tenant.Name, m.Tenant.Slug)
		if err != nil {
			return nil, err
		}
		report.TenantCreated = true
	case err != nil:
		return nil, err
	}
	report.TenantID = tenant.TenantID

	ctx = tenancy.WithTenant(ctx, tenant.TenantID)

	roleIDs := map[string]uuid.UUID{}
	for _, spec := range m.Roles {
		role, created, err := p.role(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", spec.Name, err)
		}
		if created {
			report.RolesCreated++
		}
		roleIDs[role.NormalizedName] = role.RoleID

		for _, name := range spec.Permissions {
			perm, err := p.catalog.Ensure(ctx, name, "")
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", spec.Name, err)
			}
			added, err := p.engine.AssignPermission(ctx, role.RoleID, perm.PermissionID)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", spec.Name, err)
			}
			if added {
				report.GrantsAdded++
			}
		}
	}

	for _, spec := range m.Sections {
		grantTo := lookupRoles(roleIDs, spec.GrantTo)
		created, added, err := p.section(ctx, spec, grantTo)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", spec.Name, err)
		}
		if created {
			report.SectionsCreated++
		}
		report.GrantsAdded += added
	}

	for _, spec := range m.Users {
		created, err := p.user(ctx, spec, lookupRoles(roleIDs, spec.Roles))
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", spec.Login, err)
		}
		if created {
			report.UsersCreated++
		}
	}

	log.Info().
		Str("tenant", tenant.Slug).
		Bool("tenant_created", report.TenantCreated).
		Int("roles_created", report.RolesCreated).
		Int("sections_created", report.SectionsCreated).
		Int("users_created", report.UsersCreated).
		Int("grants_added", report.GrantsAdded).
		Msg("Applied manifest")

	return report, nil
}

func lookupRoles(ids map[string]uuid.UUID, names []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		out = append(out, ids[models.NormalizeRoleName(name)])
	}
	return out
}

func (p *Provisioner) role(ctx context.Context, spec RoleSpec) (*models.Role, bool, error) {
	role, err := p.engine.FindRoleByName(ctx, spec.Name)
	if err == nil {
		return role, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	role, err = p.engine.CreateRole(ctx, rbac.RoleInput{Name: spec.Name, Description: spec.Description, Admin: spec.Admin})
	if err != nil {
		return nil, false, err
	}
	return role, true, nil
}

func (p *Provisioner) section(ctx context.Context, spec SectionSpec, grantTo []uuid.UUID) (bool, int, error) {
	_, err := p.engine.FindSectionByName(ctx, spec.Name)
	if errors.Is(err, store.ErrNotFound) {
		_, perms, err := p.engine.CreateSection(ctx, spec.Name, spec.Description, grantTo...)
		if err != nil {
			return false, 0, err
		}
		return true, len(perms) * len(grantTo), nil
	}
	if err != nil {
		return false, 0, err
	}

	names, err := catalog.SectionPermissionNames(spec.Name)
	if err != nil {
		return false, 0, err
	}

	added := 0
	for _, roleID := range grantTo {
		for _, name := range names {
			ok, err := p.engine.AssignPermissionByName(ctx, roleID, name)
			if err != nil {
				return false, 0, err
			}
			if ok {
				added++
			}
		}
	}
	return false, added, nil
}

func (p *Provisioner) user(ctx context.Context, spec UserSpec, roleIDs []uuid.UUID) (bool, error) {
	created := false

	user, err := p.engine.FindUserByLogin(ctx, spec.Login)
	if errors.Is(err, store.ErrNotFound) {
		user, err = p.engine.CreateUser(ctx, rbac.UserInput{LoginName: spec.Login, Email: spec.Email, FullName: spec.FullName})
		created = true
	}
	if err != nil {
		return false, err
	}

	if len(roleIDs) > 0 {
		if err := p.engine.AssignRoles(ctx, user.UserID, roleIDs...); err != nil {
			return false, err
		}
	}

	if p.passwords != nil && spec.Password != "" {
		has, err := p.passwords.HasPassword(ctx, user)
		if err != nil {
			return false, err
		}
		if !has {
			if err := p.passwords.SetPassword(ctx, user, spec.Password); err != nil {
				return false, err
			}
		}
	}

	return created, nil
}
