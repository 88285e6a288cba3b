package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// TenantStore implements store.TenantStore using PostgreSQL.
type TenantStore struct {
	db *DB
}

var _ store.TenantStore = (*TenantStore)(nil)

const tenantColumns = `tenant_id, name, slug, active, created_at, updated_at`

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.TenantID, &t.Name, &t.Slug, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create creates a new tenant in the database.
func (s *TenantStore) Create(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (` + tenantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.q(ctx).Exec(ctx, query,
		tenant.TenantID,
		tenant.Name,
		tenant.Slug,
		tenant.Active,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tenant %s: %w", tenant.Slug, store.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	log.Debug().
		Str("tenant_id", tenant.TenantID.String()).
		Str("slug", tenant.Slug).
		Msg("Created tenant")

	return nil
}

// Get retrieves a tenant by ID.
func (s *TenantStore) Get(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE tenant_id = $1`

	tenant, err := scanTenant(s.db.q(ctx).QueryRow(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return tenant, nil
}

// GetBySlug retrieves a tenant by its access identifier.
func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1`

	tenant, err := scanTenant(s.db.q(ctx).QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant by slug: %w", err)
	}

	return tenant, nil
}

// List returns every tenant ordered by slug.
func (s *TenantStore) List(ctx context.Context) ([]*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY slug`

	rows, err := s.db.q(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}

	return tenants, rows.Err()
}

// Update updates an existing tenant.
func (s *TenantStore) Update(ctx context.Context, tenant *models.Tenant) error {
	query := `
		UPDATE tenants SET
			name = $2,
			slug = $3,
			active = $4,
			updated_at = $5
		WHERE tenant_id = $1
	`

	result, err := s.db.q(ctx).Exec(ctx, query,
		tenant.TenantID,
		tenant.Name,
		tenant.Slug,
		tenant.Active,
		tenant.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tenant %s: %w", tenant.Slug, store.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	return nil
}

// Delete deletes a tenant by ID.
// This cascade-deletes its users, roles, sections and assignments via FK constraints.
func (s *TenantStore) Delete(ctx context.Context, tenantID uuid.UUID) error {
	return s.db.InTx(ctx, func(ctx context.Context) error {
		// Row lock conflicts with the key share lock taken by inserts
		// referencing the tenant, so in-flight users and sections commit first
		// and new ones wait for this transaction.
		var locked uuid.UUID
		err := s.db.q(ctx).QueryRow(ctx,
			`SELECT tenant_id FROM tenants WHERE tenant_id = $1 FOR UPDATE`, tenantID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("failed to lock tenant: %w", mapPostgresError(err))
		}

		query := `
			DELETE FROM tenants
			WHERE tenant_id = $1
				AND NOT EXISTS (SELECT 1 FROM users WHERE tenant_id = $1)
				AND NOT EXISTS (SELECT 1 FROM sections WHERE tenant_id = $1)
		`
		result, err := s.db.q(ctx).Exec(ctx, query, tenantID)
		if err != nil {
			return fmt.Errorf("failed to delete tenant: %w", mapPostgresError(err))
		}

		if result.RowsAffected() == 0 {
			return store.ErrReferenced
		}

		log.Info().
			Str("tenant_id", tenantID.String()).
			Msg("Deleted tenant (and cascade-deleted its roles and assignments)")

		return nil
	})
}

// Usage counts the users, roles and sections owned by a tenant.
func (s *TenantStore) Usage(ctx context.Context, tenantID uuid.UUID) (store.TenantUsage, error) {
	query := `
		SELECT
			(SELECT count(*) FROM users WHERE tenant_id = t.tenant_id),
			(SELECT count(*) FROM roles WHERE tenant_id = t.tenant_id),
			(SELECT count(*) FROM sections WHERE tenant_id = t.tenant_id)
		FROM tenants t
		WHERE t.tenant_id = $1
	`

	var usage store.TenantUsage
	err := s.db.q(ctx).QueryRow(ctx, query, tenantID).Scan(&usage.Users, &usage.Roles, &usage.Sections)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return usage, store.ErrNotFound
		}
		return usage, fmt.Errorf("failed to count tenant usage: %w", err)
	}

	return usage, nil
}
