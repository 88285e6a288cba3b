package auth

import (
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string   `json:"tenantId"`
	UserName    string   `json:"userName"`
	FullName    string   `json:"fullName,omitempty"`
	Roles       []string `json:"role"`
	Permissions []string `json:"permission,omitempty"`
}

var _ jwt.ClaimsValidator = (*Claims)(nil)

// Validate checks the claims every token must carry. It is called by the jwt
// parser after the registered claims have been checked.
func (c *Claims) Validate() error {
	if _, err := c.UserID(); err != nil {
		return err
	}
	if _, err := c.Tenant(); err != nil {
		return err
	}
	if c.ID == "" {
		return fmt.Errorf("missing jti claim")
	}
	if c.IssuedAt == nil {
		return fmt.Errorf("missing iat claim")
	}
	if c.UserName == "" {
		return fmt.Errorf("missing userName claim")
	}
	return nil
}

// UserID parses the sub claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid sub claim: %w", err)
	}
	return id, nil
}

// Tenant parses the tenantId claim.
func (c *Claims) Tenant() (uuid.UUID, error) {
	id, err := uuid.Parse(c.TenantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid tenantId claim: %w", err)
	}
	return id, nil
}

// HasRole reports whether the role claim names role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}
