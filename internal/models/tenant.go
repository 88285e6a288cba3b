package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalid is returned by constructors when an entity fails validation.
var ErrInvalid = errors.New("invalid entity")

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

const maxSlugLength = 63

// Tenant represents an isolated customer organisation sharing the deployment.
// Tenants are not owned by any other tenant.
type Tenant struct {
	TenantID  uuid.UUID // UUIDv7
	Name      string
	Slug      string // unique, URL safe access identifier
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTenant builds an active tenant after validating its name and slug.
func NewTenant(id uuid.UUID, name, slug string, now time.Time) (*Tenant, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalid)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", ErrInvalid)
	}

	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	return &Tenant{
		TenantID:  id,
		Name:      name,
		Slug:      slug,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ValidateSlug checks a tenant access identifier is lowercase and URL safe.
func ValidateSlug(slug string) error {
	if slug == "" || len(slug) > maxSlugLength {
		return fmt.Errorf("%w: slug must be between 1 and %d characters", ErrInvalid, maxSlugLength)
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: slug %q must be lowercase letters, digits and single hyphens", ErrInvalid, slug)
	}
	return nil
}
