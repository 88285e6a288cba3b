package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

var (
	errNoSuchUser = errors.New("no such user")

	primarySecret = []byte("0123456789abcdef0123456789abcdef")
	rotatedSecret = []byte("fedcba9876543210fedcba9876543210")
)

type fakeSubjects struct {
	subjects map[uuid.UUID]*Subject
}

func (f *fakeSubjects) LoadSubject(ctx context.Context, userID uuid.UUID) (*Subject, error) {
	tenantID, err := tenancy.Require(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := f.subjects[userID]
	if !ok || s.User.TenantID != tenantID {
		return nil, errNoSuchUser
	}
	return s, nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type issuerFixture struct {
	issuer   *Issuer
	clock    *clock
	subjects *fakeSubjects
	tenant   *models.Tenant
	alice    *models.User
	ctx      context.Context
}

func newIssuerFixture(t *testing.T) *issuerFixture {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tenant, err := models.NewTenant(uuid.New(), "Acme", "acme", now)
	require.NoError(t, err)
	alice, err := models.NewUser(uuid.New(), tenant.TenantID, "alice", "alice@acme.test", "Alice Liddell", now)
	require.NoError(t, err)

	f := &issuerFixture{
		clock:  &clock{now: now},
		tenant: tenant,
		alice:  alice,
		ctx:    tenancy.WithTenant(context.Background(), tenant.TenantID),
		subjects: &fakeSubjects{subjects: map[uuid.UUID]*Subject{
			alice.UserID: {
				User:        alice,
				Tenant:      tenant,
				Roles:       []string{"Admin"},
				Permissions: []string{"CanCreateUser"},
			},
		}},
	}

	keys, err := NewKeyRing(primarySecret)
	require.NoError(t, err)

	f.issuer, err = NewIssuer(keys, f.subjects, IssuerConfig{}, WithIssuerClock(f.clock.Now))
	require.NoError(t, err)
	return f
}

func TestKeyRing(t *testing.T) {
	t.Run("short secret", func(t *testing.T) {
		_, err := NewKeyRing([]byte("too short"))
		require.ErrorIs(t, err, ErrSecretTooShort)

		_, err = NewKeyRing(primarySecret, []byte("short"))
		require.ErrorIs(t, err, ErrSecretTooShort)
	})

	t.Run("key id", func(t *testing.T) {
		require.Len(t, KeyID(primarySecret), 12)
		require.Equal(t, KeyID(primarySecret), KeyID(primarySecret))
		require.NotEqual(t, KeyID(primarySecret), KeyID(rotatedSecret))
	})
}

func TestIssuerConfig(t *testing.T) {
	cfg := IssuerConfig{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 15*time.Minute, cfg.TTL)

	cfg.RefreshWindow = time.Minute
	require.Error(t, cfg.Validate())
}

func TestIssue(t *testing.T) {
	f := newIssuerFixture(t)

	token, claims, err := f.issuer.Issue(f.ctx, f.alice.UserID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.Equal(t, f.alice.UserID.String(), claims.Subject)
	require.Equal(t, f.tenant.TenantID.String(), claims.TenantID)
	require.Equal(t, "alice", claims.UserName)
	require.Equal(t, "Alice Liddell", claims.FullName)
	require.Equal(t, []string{"Admin"}, claims.Roles)
	require.Equal(t, []string{"CanCreateUser"}, claims.Permissions)
	require.Equal(t, f.clock.now.Add(15*time.Minute), claims.ExpiresAt.Time.UTC())
	require.NotEmpty(t, claims.ID)

	validated, err := f.issuer.Validate(token)
	require.NoError(t, err)
	require.Equal(t, claims.ID, validated.ID)
	require.True(t, validated.HasRole("Admin"))

	t.Run("kid header", func(t *testing.T) {
		parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
		require.NoError(t, err)
		require.Equal(t, KeyID(primarySecret), parsed.Header["kid"])
		require.Equal(t, "HS256", parsed.Header["alg"])
	})

	t.Run("fresh jti per token", func(t *testing.T) {
		_, again, err := f.issuer.Issue(f.ctx, f.alice.UserID)
		require.NoError(t, err)
		require.NotEqual(t, claims.ID, again.ID)
	})

	t.Run("missing tenant context", func(t *testing.T) {
		_, _, err := f.issuer.Issue(context.Background(), f.alice.UserID)
		require.ErrorIs(t, err, tenancy.ErrMissingTenantContext)
	})

	t.Run("user of another tenant", func(t *testing.T) {
		_, _, err := f.issuer.Issue(tenancy.WithTenant(context.Background(), uuid.New()), f.alice.UserID)
		require.ErrorIs(t, err, errNoSuchUser)
	})

	t.Run("inactive user", func(t *testing.T) {
		f.alice.Active = false
		defer func() { f.alice.Active = true }()

		_, _, err := f.issuer.Issue(f.ctx, f.alice.UserID)
		require.ErrorIs(t, err, ErrInactiveSubject)
	})
}

func TestValidateFailsClosed(t *testing.T) {
	f := newIssuerFixture(t)

	token, claims, err := f.issuer.Issue(f.ctx, f.alice.UserID)
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, c *Claims, secret []byte) string {
		tok := jwt.NewWithClaims(method, c)
		tok.Header["kid"] = KeyID(primarySecret)
		s, err := tok.SignedString(secret)
		require.NoError(t, err)
		return s
	}

	withClaims := func(mutate func(c *Claims)) *Claims {
		c := *claims
		c.RegisteredClaims.Audience = append(jwt.ClaimStrings{}, claims.Audience...)
		mutate(&c)
		return &c
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "tampered signature", token: tampered},
		{name: "alg none", token: none},
		{name: "algorithm mismatch", token: sign(jwt.SigningMethodHS384, claims, primarySecret)},
		{name: "wrong secret", token: sign(jwt.SigningMethodHS256, claims, rotatedSecret)},
		{name: "wrong issuer", token: sign(jwt.SigningMethodHS256, withClaims(func(c *Claims) { c.Issuer = "evil" }), primarySecret)},
		{name: "wrong audience", token: sign(jwt.SigningMethodHS256, withClaims(func(c *Claims) { c.Audience = jwt.ClaimStrings{"other"} }), primarySecret)},
		{name: "missing tenant", token: sign(jwt.SigningMethodHS256, withClaims(func(c *Claims) { c.TenantID = "" }), primarySecret)},
		{name: "missing subject", token: sign(jwt.SigningMethodHS256, withClaims(func(c *Claims) { c.Subject = "" }), primarySecret)},
		{name: "missing expiry", token: sign(jwt.SigningMethodHS256, withClaims(func(c *Claims) { c.ExpiresAt = nil }), primarySecret)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.issuer.Validate(tt.token)
			require.ErrorIs(t, err, ErrInvalidToken)
			require.Nil(t, got)
		})
	}

	t.Run("unknown kid", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		tok.Header["kid"] = "unknown"
		s, err := tok.SignedString(primarySecret)
		require.NoError(t, err)

		_, err = f.issuer.Validate(s)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		f.clock.now = f.clock.now.Add(16 * time.Minute)
		_, err := f.issuer.Validate(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestKeyRotation(t *testing.T) {
	f := newIssuerFixture(t)

	oldToken, _, err := f.issuer.Issue(f.ctx, f.alice.UserID)
	require.NoError(t, err)

	rotated, err := NewKeyRing(rotatedSecret, primarySecret)
	require.NoError(t, err)
	issuer, err := NewIssuer(rotated, f.subjects, IssuerConfig{}, WithIssuerClock(f.clock.Now))
	require.NoError(t, err)

	_, err = issuer.Validate(oldToken)
	require.NoError(t, err)

	newToken, _, err := issuer.Issue(f.ctx, f.alice.UserID)
	require.NoError(t, err)
	_, err = f.issuer.Validate(newToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	retired, err := NewKeyRing(rotatedSecret)
	require.NoError(t, err)
	issuer, err = NewIssuer(retired, f.subjects, IssuerConfig{}, WithIssuerClock(f.clock.Now))
	require.NoError(t, err)
	_, err = issuer.Validate(oldToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh(t *testing.T) {
	f := newIssuerFixture(t)

	token, claims, err := f.issuer.Issue(f.ctx, f.alice.UserID)
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(time.Hour)

	_, err = f.issuer.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	refreshed, newClaims, err := f.issuer.Refresh(context.Background(), token)
	require.NoError(t, err)
	require.True(t, newClaims.ExpiresAt.After(claims.ExpiresAt.Time))
	require.NotEqual(t, claims.ID, newClaims.ID)
	require.Equal(t, claims.TenantID, newClaims.TenantID)

	_, err = f.issuer.Validate(refreshed)
	require.NoError(t, err)

	t.Run("reloads roles", func(t *testing.T) {
		f.subjects.subjects[f.alice.UserID].Roles = []string{"Admin", "Auditor"}
		_, c, err := f.issuer.Refresh(context.Background(), token)
		require.NoError(t, err)
		require.Equal(t, []string{"Admin", "Auditor"}, c.Roles)
	})

	t.Run("inactive user", func(t *testing.T) {
		f.alice.Active = false
		defer func() { f.alice.Active = true }()

		_, got, err := f.issuer.Refresh(context.Background(), token)
		require.ErrorIs(t, err, ErrRefreshDenied)
		require.Nil(t, got)
	})

	t.Run("inactive tenant", func(t *testing.T) {
		f.tenant.Active = false
		defer func() { f.tenant.Active = true }()

		_, _, err := f.issuer.Refresh(context.Background(), token)
		require.ErrorIs(t, err, ErrRefreshDenied)
	})

	t.Run("user no longer in tenant", func(t *testing.T) {
		subject := f.subjects.subjects[f.alice.UserID]
		delete(f.subjects.subjects, f.alice.UserID)
		defer func() { f.subjects.subjects[f.alice.UserID] = subject }()

		_, _, err := f.issuer.Refresh(context.Background(), token)
		require.ErrorIs(t, err, ErrRefreshDenied)
	})

	t.Run("invalid signature", func(t *testing.T) {
		_, _, err := f.issuer.Refresh(context.Background(), token+"x")
		require.ErrorIs(t, err, ErrRefreshDenied)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("outside refresh window", func(t *testing.T) {
		f.clock.now = f.clock.now.Add(24 * time.Hour)
		_, _, err := f.issuer.Refresh(context.Background(), token)
		require.ErrorIs(t, err, ErrRefreshDenied)
	})
}

func TestTenantClaim(t *testing.T) {
	f := newIssuerFixture(t)

	token, _, err := f.issuer.Issue(f.ctx, f.alice.UserID)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	id, ok := f.issuer.TenantClaim(req)
	require.True(t, ok)
	require.Equal(t, f.tenant.TenantID.String(), id)

	req.Header.Set("Authorization", "Bearer forged")
	_, ok = f.issuer.TenantClaim(req)
	require.False(t, ok)

	req.Header.Del("Authorization")
	_, ok = f.issuer.TenantClaim(req)
	require.False(t, ok)
}
