package models

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a person who can log in to a single tenant.
// LoginName and Email are stored lowercased and are unique within the tenant only.
type User struct {
	UserID      uuid.UUID // UUIDv7
	TenantID    uuid.UUID // UUIDv7, FK to tenants
	LoginName   string
	Email       string
	FullName    string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// NewUser builds an active user. The tenant may be left as uuid.Nil and is
// stamped from the request context when the user is created.
func NewUser(id, tenantID uuid.UUID, loginName, email, fullName string, now time.Time) (*User, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalid)
	}

	login := NormalizeLogin(loginName)
	if login == "" {
		return nil, fmt.Errorf("%w: login name is required", ErrInvalid)
	}
	if strings.ContainsAny(login, " \t\r\n") {
		return nil, fmt.Errorf("%w: login name must not contain whitespace", ErrInvalid)
	}

	addr, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	return &User{
		UserID:    id,
		TenantID:  tenantID,
		LoginName: login,
		Email:     addr,
		FullName:  strings.TrimSpace(fullName),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NormalizeLogin returns the comparison form of a login name or email.
func NormalizeLogin(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SetEmail validates and replaces the user's email.
func (u *User) SetEmail(email string) error {
	addr, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	u.Email = addr
	return nil
}

// Matches reports whether login identifies this user by login name or email.
func (u *User) Matches(login string) bool {
	login = NormalizeLogin(login)
	return login != "" && (u.LoginName == login || u.Email == login)
}

func (u *User) EntityID() uuid.UUID    { return u.UserID }
func (u *User) OwnerTenant() uuid.UUID { return u.TenantID }

func (u *User) StampTenant(tenantID uuid.UUID) { u.TenantID = tenantID }

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	clone := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		clone.LastLoginAt = &t
	}
	return &clone
}

func normalizeEmail(email string) (string, error) {
	email = NormalizeLogin(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalid)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email %q is not a valid address", ErrInvalid, email)
	}
	return email, nil
}
