package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/tenantcore/internal/catalog"
	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// CreateSection creates a section, ensures its four data permissions exist in
// the catalog and grants them to each role in grantTo. Everything happens in
// one transaction.
func (e *Engine) CreateSection(ctx context.Context, name, description string, grantTo ...uuid.UUID) (*models.Section, []*models.Permission, error) {
	key, err := catalog.SectionKey(name)
	if err != nil {
		return nil, nil, err
	}
	names, err := catalog.SectionPermissionNames(name)
	if err != nil {
		return nil, nil, err
	}

	id, err := e.id()
	if err != nil {
		return nil, nil, err
	}

	section, err := models.NewSection(id, uuid.Nil, name, key, description, e.now())
	if err != nil {
		return nil, nil, err
	}

	var perms []*models.Permission
	err = e.write(ctx, func(ctx context.Context) error {
		if _, err := e.sectionByKey(ctx, key); err == nil {
			return fmt.Errorf("%w: section %s", ErrDuplicateName, section.Name)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		for _, roleID := range grantTo {
			if _, err := e.roles.Find(ctx, roleID); err != nil {
				return fmt.Errorf("role %s: %w", roleID, err)
			}
		}

		if err := e.sections.Create(ctx, section); err != nil {
			return duplicate(err, "section "+section.Name)
		}

		for _, permName := range names {
			p, err := e.catalog.Ensure(ctx, permName, fmt.Sprintf("Access to data in section %s", section.Name))
			if err != nil {
				return err
			}
			perms = append(perms, p)
		}

		for _, roleID := range grantTo {
			for _, p := range perms {
				if _, err := e.grantInTx(ctx, roleID, p); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("section_id", section.SectionID.String()).
		Str("section", section.Name).
		Int("granted_roles", len(grantTo)).
		Msg("Created section")

	return section, perms, nil
}

// GetSection returns a section of the context tenant.
func (e *Engine) GetSection(ctx context.Context, sectionID uuid.UUID) (*models.Section, error) {
	return e.sections.Find(ctx, sectionID)
}

// FindSectionByName returns the section whose normalized name matches.
func (e *Engine) FindSectionByName(ctx context.Context, name string) (*models.Section, error) {
	key, err := catalog.SectionKey(name)
	if err != nil {
		return nil, err
	}
	return e.sectionByKey(ctx, key)
}

func (e *Engine) sectionByKey(ctx context.Context, key string) (*models.Section, error) {
	return e.sections.First(ctx, func(s *models.Section) bool { return s.Key == key })
}

// ListSections returns the sections of the context tenant.
func (e *Engine) ListSections(ctx context.Context) ([]*models.Section, error) {
	return e.sections.List(ctx, nil)
}

// RemoveSection deletes a section and revokes its permissions from the
// tenant's roles. The permissions stay in the global catalog since other
// tenants may have a section of the same name.
func (e *Engine) RemoveSection(ctx context.Context, sectionID uuid.UUID) error {
	return e.write(ctx, func(ctx context.Context) error {
		section, err := e.sections.Find(ctx, sectionID)
		if err != nil {
			return err
		}

		names, err := catalog.SectionPermissionNames(section.Name)
		if err != nil {
			return err
		}

		roles, err := e.roles.List(ctx, nil)
		if err != nil {
			return err
		}

		for _, name := range names {
			p, err := e.catalog.GetByName(ctx, name)
			if errors.Is(err, catalog.ErrPermissionNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			for _, role := range roles {
				if _, err := e.assignments.RevokePermission(ctx, role.RoleID, p.PermissionID); err != nil {
					return err
				}
			}
		}

		if err := e.sections.Remove(ctx, section); err != nil {
			return err
		}

		zerolog.Ctx(ctx).Info().Str("section_id", sectionID.String()).Msg("Removed section")
		return nil
	})
}
