// Package auth issues and verifies the access tokens of tenant users.
package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	httpmiddleware "github.com/wolfeidau/tenantcore/internal/http"
	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/telemetry"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

var (
	// ErrInvalidToken is returned for any token that fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrRefreshDenied is returned when a token may not be exchanged for a new one.
	ErrRefreshDenied = errors.New("refresh denied")

	// ErrInactiveSubject is returned when issuing for an inactive user or tenant.
	ErrInactiveSubject = errors.New("user or tenant is inactive")

	// ErrSecretTooShort is returned for signing secrets under MinSecretLength bytes.
	ErrSecretTooShort = errors.New("signing secret too short")
)

// MinSecretLength is the minimum HS256 secret size in bytes.
const MinSecretLength = 32

const keyIDLength = 12

// KeyID derives the kid header of a signing secret.
func KeyID(secret []byte) string {
	sum := sha256.Sum256(secret)
	return base58.Encode(sum[:])[:keyIDLength]
}

// KeyRing holds the HS256 secrets of the issuer. The primary secret signs new
// tokens; previous secrets still verify tokens signed before a rotation.
type KeyRing struct {
	primaryID string
	secrets   map[string][]byte
}

// NewKeyRing creates a key ring signing with primary.
func NewKeyRing(primary []byte, previous ...[]byte) (*KeyRing, error) {
	k := &KeyRing{secrets: make(map[string][]byte, len(previous)+1)}

	for i, secret := range append([][]byte{primary}, previous...) {
		if len(secret) < MinSecretLength {
			return nil, fmt.Errorf("%w: secret %d has %d bytes, need %d", ErrSecretTooShort, i, len(secret), MinSecretLength)
		}
		id := KeyID(secret)
		if i == 0 {
			k.primaryID = id
		}
		k.secrets[id] = slices.Clone(secret)
	}

	return k, nil
}

func (k *KeyRing) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = k.primaryID
	return token.SignedString(k.secrets[k.primaryID])
}

func (k *KeyRing) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	secret, ok := k.secrets[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return secret, nil
}

// Subject is everything a token says about its user.
type Subject struct {
	User        *models.User
	Tenant      *models.Tenant
	Roles       []string
	Permissions []string
}

// SubjectLoader loads a user of the context tenant together with their roles
// and effective permissions. A user of another tenant must not be found.
type SubjectLoader interface {
	LoadSubject(ctx context.Context, userID uuid.UUID) (*Subject, error)
}

// IssuerConfig configures token issuance.
type IssuerConfig struct {
	Issuer        string        `help:"Token issuer (iss claim)." default:"tenantcore" env:"TENANTCORE_JWT_ISSUER"`
	Audience      string        `help:"Token audience (aud claim)." default:"tenantcore" env:"TENANTCORE_JWT_AUDIENCE"`
	TTL           time.Duration `help:"Access token lifetime." default:"15m" env:"TENANTCORE_JWT_TTL"`
	RefreshWindow time.Duration `help:"How long after issue a token may be refreshed." default:"24h" env:"TENANTCORE_JWT_REFRESH_WINDOW"`
}

// ApplyDefaults fills zero values.
func (c *IssuerConfig) ApplyDefaults() {
	if c.Issuer == "" {
		c.Issuer = "tenantcore"
	}
	if c.Audience == "" {
		c.Audience = "tenantcore"
	}
	if c.TTL == 0 {
		c.TTL = 15 * time.Minute
	}
	if c.RefreshWindow == 0 {
		c.RefreshWindow = 24 * time.Hour
	}
}

// Validate checks the configuration is usable.
func (c *IssuerConfig) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if c.RefreshWindow < c.TTL {
		return fmt.Errorf("refresh window (%s) must not be shorter than the token ttl (%s)", c.RefreshWindow, c.TTL)
	}
	return nil
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock overrides the clock.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// WithTokenIDGenerator overrides the jti generator.
func WithTokenIDGenerator(newID func() (uuid.UUID, error)) IssuerOption {
	return func(i *Issuer) { i.newID = newID }
}

// Issuer signs and verifies access tokens.
type Issuer struct {
	keys     *KeyRing
	subjects SubjectLoader
	cfg      IssuerConfig

	now   func() time.Time
	newID func() (uuid.UUID, error)
}

var _ tenancy.ClaimReader = (*Issuer)(nil)

// NewIssuer creates an issuer. Zero config fields take their defaults.
func NewIssuer(keys *KeyRing, subjects SubjectLoader, cfg IssuerConfig, opts ...IssuerOption) (*Issuer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	i := &Issuer{
		keys:     keys,
		subjects: subjects,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewV7,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a token for a user of the context tenant.
func (i *Issuer) Issue(ctx context.Context, userID uuid.UUID) (string, *Claims, error) {
	tenantID, err := tenancy.Require(ctx)
	if err != nil {
		return "", nil, err
	}

	subject, err := i.subjects.LoadSubject(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if subject.User.TenantID != tenantID || subject.Tenant.TenantID != tenantID {
		return "", nil, tenancy.ErrTenantMismatch
	}
	if !subject.User.Active || !subject.Tenant.Active {
		return "", nil, ErrInactiveSubject
	}

	token, claims, err := i.sign(subject)
	if err != nil {
		return "", nil, err
	}

	telemetry.GetMetrics().TokensIssuedTotal.Add(ctx, 1)
	return token, claims, nil
}

func (i *Issuer) sign(subject *Subject) (string, *Claims, error) {
	jti, err := i.newID()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token id: %w", err)
	}

	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   subject.User.UserID.String(),
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TTL)),
		},
		TenantID:    subject.Tenant.TenantID.String(),
		UserName:    subject.User.LoginName,
		FullName:    subject.User.FullName,
		Roles:       subject.Roles,
		Permissions: subject.Permissions,
	}
	if claims.Roles == nil {
		claims.Roles = []string{}
	}

	token, err := i.keys.sign(claims)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, claims, nil
}

// Validate verifies signature, algorithm, key id, required claims, issuer,
// audience and expiry. Any failure yields nil claims and ErrInvalidToken.
func (i *Issuer) Validate(token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, i.keys.keyFunc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// parseExpired verifies a token like Validate but ignores expiry.
func (i *Issuer) parseExpired(token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, i.keys.keyFunc); err != nil {
		return nil, err
	}
	if claims.Issuer != i.cfg.Issuer {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if !slices.Contains(claims.Audience, i.cfg.Audience) {
		return nil, fmt.Errorf("unexpected audience %v", claims.Audience)
	}
	if err := claims.Validate(); err != nil {
		return nil, err
	}
	return claims, nil
}

// Refresh exchanges a token, expired or not, for a new one. The token must
// have been issued within the refresh window, and its user must still exist
// in the embedded tenant with both user and tenant active. Roles and
// permissions are reloaded.
func (i *Issuer) Refresh(ctx context.Context, token string) (string, *Claims, error) {
	claims, err := i.parseExpired(token)
	if err != nil {
		return "", nil, i.denied(ctx, "invalid", fmt.Errorf("%w: %w: %w", ErrRefreshDenied, ErrInvalidToken, err))
	}

	if i.now().Sub(claims.IssuedAt.Time) > i.cfg.RefreshWindow {
		return "", nil, i.denied(ctx, "window", fmt.Errorf("%w: token issued outside the refresh window", ErrRefreshDenied))
	}

	userID, _ := claims.UserID()
	tenantID, _ := claims.Tenant()

	subject, err := i.subjects.LoadSubject(tenancy.WithTenant(ctx, tenantID), userID)
	if err != nil {
		return "", nil, i.denied(ctx, "subject", fmt.Errorf("%w: %w", ErrRefreshDenied, err))
	}
	if subject.User.TenantID != tenantID {
		return "", nil, i.denied(ctx, "tenant", fmt.Errorf("%w: %w", ErrRefreshDenied, tenancy.ErrTenantMismatch))
	}
	if !subject.User.Active || !subject.Tenant.Active {
		return "", nil, i.denied(ctx, "inactive", fmt.Errorf("%w: %w", ErrRefreshDenied, ErrInactiveSubject))
	}

	refreshed, newClaims, err := i.sign(subject)
	if err != nil {
		return "", nil, err
	}

	telemetry.GetMetrics().TokensRefreshedTotal.Add(ctx, 1)
	return refreshed, newClaims, nil
}

func (i *Issuer) denied(ctx context.Context, reason string, err error) error {
	telemetry.GetMetrics().RefreshDeniedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	zerolog.Ctx(ctx).Debug().Err(err).Str("reason", reason).Msg("Token refresh denied")
	return err
}

// TenantClaim returns the tenantId of a valid bearer token so the claim
// strategy can resolve the tenant from it.
func (i *Issuer) TenantClaim(r *http.Request) (string, bool) {
	token, ok := httpmiddleware.BearerToken(r)
	if !ok {
		return "", false
	}

	claims, err := i.Validate(token)
	if err != nil {
		log.Debug().Err(err).Msg("Ignoring unverifiable bearer token for tenant resolution")
		return "", false
	}
	return claims.TenantID, true
}
