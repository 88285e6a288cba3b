// Package login authenticates tenant users by password and issues their tokens.
package login

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/tenantcore/internal/auth"
	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/rbac"
	"github.com/wolfeidau/tenantcore/internal/registry"
	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/telemetry"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

var (
	// ErrInvalidCredentials is returned for an unknown login or a wrong
	// password; the two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserInactive is returned when the password is right but the user is deactivated.
	ErrUserInactive = errors.New("user is inactive")
)

// Result is a successful login.
type Result struct {
	Token  string
	Claims *auth.Claims
	User   *models.User
}

// Service logs users in to the context tenant.
type Service struct {
	tenants  *registry.Registry
	engine   *rbac.Engine
	verifier CredentialVerifier
	issuer   *auth.Issuer
}

func NewService(tenants *registry.Registry, engine *rbac.Engine, verifier CredentialVerifier, issuer *auth.Issuer) *Service {
	return &Service{tenants: tenants, engine: engine, verifier: verifier, issuer: issuer}
}

// Login checks, in order, that the tenant is active, the login names a user
// of the tenant, the password verifies and the user is active. It then
// records the login and issues a token.
func (s *Service) Login(ctx context.Context, login, password string) (*Result, error) {
	telemetry.GetMetrics().LoginAttemptsTotal.Add(ctx, 1)

	tenantID, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}

	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.Active {
		return nil, s.failed(ctx, "tenant_inactive", registry.ErrTenantInactive)
	}

	user, err := s.engine.FindUserByLogin(ctx, login)
	if errors.Is(err, store.ErrNotFound) {
		if decoy, ok := s.verifier.(UnknownUserVerifier); ok {
			decoy.VerifyUnknown(ctx, password)
		}
		return nil, s.failed(ctx, "unknown_user", ErrInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.verifier.VerifyPassword(ctx, user, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.verifier.RecordFailedAttempt(ctx, user); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to record failed login attempt")
		}
		return nil, s.failed(ctx, "bad_password", ErrInvalidCredentials)
	}

	if !user.Active {
		return nil, s.failed(ctx, "user_inactive", ErrUserInactive)
	}

	if err := s.verifier.ResetFailedAttempts(ctx, user); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to reset failed login attempts")
	}

	if err := s.engine.RecordLogin(ctx, user.UserID); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	token, claims, err := s.issuer.Issue(ctx, user.UserID)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("user_id", user.UserID.String()).
		Str("tenant_id", tenantID.String()).
		Msg("User logged in")

	return &Result{Token: token, Claims: claims, User: user}, nil
}

func (s *Service) failed(ctx context.Context, reason string, err error) error {
	telemetry.GetMetrics().LoginFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	zerolog.Ctx(ctx).Debug().Str("reason", reason).Msg("Login failed")
	return err
}

// Subjects loads token subjects from the registry and the engine.
type Subjects struct {
	tenants *registry.Registry
	engine  *rbac.Engine
}

var _ auth.SubjectLoader = (*Subjects)(nil)

func NewSubjects(tenants *registry.Registry, engine *rbac.Engine) *Subjects {
	return &Subjects{tenants: tenants, engine: engine}
}

// LoadSubject returns the user with the names of their active roles and
// their effective permissions.
func (s *Subjects) LoadSubject(ctx context.Context, userID uuid.UUID) (*auth.Subject, error) {
	tenantID, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}

	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	user, err := s.engine.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	roles, err := s.engine.RolesOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		if role.Active {
			names = append(names, role.Name)
		}
	}

	permissions, err := s.engine.PermissionNamesOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &auth.Subject{
		User:        user,
		Tenant:      tenant,
		Roles:       names,
		Permissions: permissions,
	}, nil
}
