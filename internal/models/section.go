package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Section is a tenant defined data structure whose CRUD operations are gated
// by four generated permissions. Key is the normalized subject those
// permission names are derived from and is unique within the tenant.
type Section struct {
	SectionID   uuid.UUID // UUIDv7
	TenantID    uuid.UUID // UUIDv7, FK to tenants
	Name        string
	Key         string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewSection builds a section; key must be the normalized form of name.
func NewSection(id, tenantID uuid.UUID, name, key, description string, now time.Time) (*Section, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: section id is required", ErrInvalid)
	}

	name = strings.TrimSpace(name)
	if name == "" || key == "" {
		return nil, fmt.Errorf("%w: section name must contain letters or digits", ErrInvalid)
	}

	return &Section{
		SectionID:   id,
		TenantID:    tenantID,
		Name:        name,
		Key:         key,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Section) EntityID() uuid.UUID    { return s.SectionID }
func (s *Section) OwnerTenant() uuid.UUID { return s.TenantID }

func (s *Section) StampTenant(tenantID uuid.UUID) { s.TenantID = tenantID }

// Clone returns a copy of the section.
func (s *Section) Clone() *Section {
	clone := *s
	return &clone
}
