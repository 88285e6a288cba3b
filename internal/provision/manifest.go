// Package provision creates a tenant with its roles, sections and users from
// a YAML manifest.
package provision

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wolfeidau/tenantcore/internal/models"
)

// Manifest describes the desired state of one tenant.
type Manifest struct {
	Tenant   TenantSpec    `yaml:"tenant"`
	Roles    []RoleSpec    `yaml:"roles"`
	Sections []SectionSpec `yaml:"sections"`
	Users    []UserSpec    `yaml:"users"`
}

type TenantSpec struct {
	Name string `yaml:"name"`
	Slug string `yaml:"slug"`
}

type RoleSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Admin       bool     `yaml:"admin"`
	Permissions []string `yaml:"permissions"`
}

type SectionSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	GrantTo     []string `yaml:"grantTo"`
}

type UserSpec struct {
	Login    string   `yaml:"login"`
	Email    string   `yaml:"email"`
	FullName string   `yaml:"fullName"`
	Password string   `yaml:"password"`
	Roles    []string `yaml:"roles"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a YAML manifest. Unknown fields are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest is self consistent: every role referenced by
// a section or user is declared and names are not repeated.
func (m *Manifest) Validate() error {
	var errs []error

	if err := models.ValidateSlug(m.Tenant.Slug); err != nil {
		errs = append(errs, fmt.Errorf("tenant: %w", err))
	}
	if strings.TrimSpace(m.Tenant.Name) == "" {
		errs = append(errs, errors.New("tenant: name is required"))
	}

	roles := map[string]bool{}
	for i, r := range m.Roles {
		key := models.NormalizeRoleName(r.Name)
		switch {
		case key == "":
			errs = append(errs, fmt.Errorf("roles[%d]: name is required", i))
		case roles[key]:
			errs = append(errs, fmt.Errorf("roles[%d]: duplicate role %q", i, r.Name))
		}
		roles[key] = true

		for _, p := range r.Permissions {
			if err := models.ValidatePermissionName(p); err != nil {
				errs = append(errs, fmt.Errorf("roles[%d]: %w", i, err))
			}
		}
	}

	checkRoles := func(where string, names []string) {
		for _, name := range names {
			if !roles[models.NormalizeRoleName(name)] {
				errs = append(errs, fmt.Errorf("%s: unknown role %q", where, name))
			}
		}
	}

	for i, s := range m.Sections {
		if strings.TrimSpace(s.Name) == "" {
			errs = append(errs, fmt.Errorf("sections[%d]: name is required", i))
		}
		checkRoles(fmt.Sprintf("sections[%d]", i), s.GrantTo)
	}

	logins := map[string]bool{}
	for i, u := range m.Users {
		login := models.NormalizeLogin(u.Login)
		switch {
		case login == "":
			errs = append(errs, fmt.Errorf("users[%d]: login is required", i))
		case logins[login]:
			errs = append(errs, fmt.Errorf("users[%d]: duplicate login %q", i, u.Login))
		}
		logins[login] = true
		checkRoles(fmt.Sprintf("users[%d]", i), u.Roles)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrInvalid, errors.Join(errs...))
	}
	return nil
}
