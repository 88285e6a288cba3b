package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/store"
)

// SectionStore implements store.Backend for sections.
type SectionStore struct {
	db *DB
}

var _ store.Backend[*models.Section] = (*SectionStore)(nil)

const sectionColumns = `section_id, tenant_id, name, key, description, created_at, updated_at`

func scanSection(row pgx.Row) (*models.Section, error) {
	var sec models.Section
	err := row.Scan(&sec.SectionID, &sec.TenantID, &sec.Name, &sec.Key, &sec.Description, &sec.CreatedAt, &sec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

func (s *SectionStore) Get(ctx context.Context, tenantID, sectionID uuid.UUID) (*models.Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM sections WHERE tenant_id = $1 AND section_id = $2`

	sec, err := scanSection(s.db.q(ctx).QueryRow(ctx, query, tenantID, sectionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get section: %w", err)
	}
	return sec, nil
}

func (s *SectionStore) List(ctx context.Context, tenantID uuid.UUID) ([]*models.Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM sections WHERE tenant_id = $1 ORDER BY key`

	rows, err := s.db.q(ctx).Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	var sections []*models.Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

func (s *SectionStore) Insert(ctx context.Context, sec *models.Section) error {
	query := `
		INSERT INTO sections (` + sectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.q(ctx).Exec(ctx, query,
		sec.SectionID,
		sec.TenantID,
		sec.Name,
		sec.Key,
		sec.Description,
		sec.CreatedAt,
		sec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("section %s: %w", sec.Name, store.ErrAlreadyExists)
		}
		return insertError("section", err)
	}
	return nil
}

func (s *SectionStore) Update(ctx context.Context, tenantID uuid.UUID, sec *models.Section) error {
	if sec.TenantID != tenantID {
		return store.ErrNotFound
	}

	query := `
		UPDATE sections SET
			name = $3,
			key = $4,
			description = $5,
			updated_at = $6
		WHERE tenant_id = $1 AND section_id = $2
	`

	result, err := s.db.q(ctx).Exec(ctx, query,
		tenantID,
		sec.SectionID,
		sec.Name,
		sec.Key,
		sec.Description,
		sec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("section %s: %w", sec.Name, store.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update section: %w", err)
	}

	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SectionStore) Delete(ctx context.Context, tenantID, sectionID uuid.UUID) error {
	result, err := s.db.q(ctx).Exec(ctx, `DELETE FROM sections WHERE tenant_id = $1 AND section_id = $2`, tenantID, sectionID)
	if err != nil {
		return fmt.Errorf("failed to delete section: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
