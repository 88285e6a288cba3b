package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wolfeidau/tenantcore/internal/auth"
	"github.com/wolfeidau/tenantcore/internal/catalog"
	httpmiddleware "github.com/wolfeidau/tenantcore/internal/http"
	"github.com/wolfeidau/tenantcore/internal/login"
	"github.com/wolfeidau/tenantcore/internal/models"
	"github.com/wolfeidau/tenantcore/internal/rbac"
	"github.com/wolfeidau/tenantcore/internal/registry"
	"github.com/wolfeidau/tenantcore/internal/store/memory"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

const password = "correct horse"

type apiFixture struct {
	handler http.Handler
	engine  *rbac.Engine
	acme    *models.Tenant
	globex  *models.Tenant
	admin   *models.Role
	clerk   *models.Role
	alice   *models.User
	bob     *models.User
	gadmin  *models.Role
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()

	stores := memory.NewDB().Stores()
	reg := registry.New(stores.Tenants)
	cat := catalog.New(stores.Permissions, stores.Assignments)
	require.NoError(t, cat.Seed(ctx))
	engine := rbac.New(stores, cat)

	keys, err := auth.NewKeyRing([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(keys, login.NewSubjects(reg, engine), auth.IssuerConfig{})
	require.NoError(t, err)

	verifier := login.NewBcryptVerifier(stores.Credentials, login.WithCost(bcrypt.MinCost))

	f := &apiFixture{engine: engine}

	f.acme, err = reg.Create(ctx, "Acme", "acme")
	require.NoError(t, err)
	f.globex, err = reg.Create(ctx, "Globex", "globex")
	require.NoError(t, err)

	actx := tenancy.WithTenant(ctx, f.acme.TenantID)
	f.admin, err = engine.CreateRole(actx, rbac.RoleInput{Name: "Admin", Admin: true})
	require.NoError(t, err)
	for _, name := range []string{"CanCreateSection", "CanReadUser", "CanUpdateUser"} {
		_, err = engine.AssignPermissionByName(actx, f.admin.RoleID, name)
		require.NoError(t, err)
	}
	f.clerk, err = engine.CreateRole(actx, rbac.RoleInput{Name: "Clerk"})
	require.NoError(t, err)

	f.alice, err = engine.CreateUser(actx, rbac.UserInput{LoginName: "alice", Email: "alice@acme.test", FullName: "Alice Liddell"})
	require.NoError(t, err)
	require.NoError(t, engine.AssignRoles(actx, f.alice.UserID, f.admin.RoleID))
	require.NoError(t, verifier.SetPassword(actx, f.alice, password))

	f.bob, err = engine.CreateUser(actx, rbac.UserInput{LoginName: "bob", Email: "bob@acme.test"})
	require.NoError(t, err)
	require.NoError(t, engine.AssignRoles(actx, f.bob.UserID, f.clerk.RoleID))
	require.NoError(t, verifier.SetPassword(actx, f.bob, password))

	gctx := tenancy.WithTenant(ctx, f.globex.TenantID)
	f.gadmin, err = engine.CreateRole(gctx, rbac.RoleInput{Name: "Admin", Admin: true})
	require.NoError(t, err)

	server := NewServer(Config{
		Resolver:      tenancy.NewResolver(reg, tenancy.HeaderStrategy{}),
		Authenticator: auth.NewAuthenticator(issuer, nil, auth.WithLivePermissions(engine)),
		Login:         login.NewService(reg, engine, verifier, issuer),
		Issuer:        issuer,
		Engine:        engine,
		CORSOrigins:   []string{"https://app.example.test"},
		Logger:        zerolog.Nop(),
	})
	f.handler = server.Handler()

	return f
}

func (f *apiFixture) do(t *testing.T, method, path, tenant, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(tenancy.DefaultHeader, tenant)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) login(t *testing.T, tenant, user string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/login", tenant, "", loginRequest{Login: user, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res.Token
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var res httpmiddleware.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res.Error
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestLogin(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/auth/login", "acme", "", loginRequest{Login: "alice", Password: password})
	require.Equal(t, http.StatusOK, rec.Code)

	var res tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	require.Equal(t, "Bearer", res.TokenType)
	require.Equal(t, f.acme.TenantID.String(), res.Claims.TenantID)
	require.Equal(t, "alice", res.Claims.UserName)
	require.Equal(t, []string{"Admin"}, res.Claims.Roles)
	require.ElementsMatch(t, []string{"CanCreateSection", "CanReadUser", "CanUpdateUser"}, res.Claims.Permissions)

	tests := []struct {
		name   string
		tenant string
		body   any
		status int
		code   string
	}{
		{name: "wrong password", tenant: "acme", body: loginRequest{Login: "alice", Password: "nope"}, status: http.StatusUnauthorized, code: "invalid_credentials"},
		{name: "unknown user", tenant: "acme", body: loginRequest{Login: "mallory", Password: password}, status: http.StatusUnauthorized, code: "invalid_credentials"},
		{name: "user of another tenant", tenant: "globex", body: loginRequest{Login: "alice", Password: password}, status: http.StatusUnauthorized, code: "invalid_credentials"},
		{name: "no tenant", body: loginRequest{Login: "alice", Password: password}, status: http.StatusBadRequest, code: "missing_tenant_context"},
		{name: "unknown tenant", tenant: "initech", body: loginRequest{Login: "alice", Password: password}, status: http.StatusNotFound, code: "unknown_tenant"},
		{name: "unknown field", tenant: "acme", body: map[string]string{"username": "alice"}, status: http.StatusBadRequest, code: "invalid_argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/auth/login", tt.tenant, "", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestRefresh(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, "acme", "alice")

	rec := f.do(t, http.MethodPost, "/auth/refresh", "", "", refreshRequest{Token: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEqual(t, token, res.Token)
	require.Equal(t, f.acme.TenantID.String(), res.Claims.TenantID)

	t.Run("bearer header", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/auth/refresh", "", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/auth/refresh", "", "", refreshRequest{Token: "not.a.token"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "refresh_denied", errorCode(t, rec))
	})
}

func TestMe(t *testing.T) {
	f := newAPIFixture(t)
	token := f.login(t, "acme", "alice")

	rec := f.do(t, http.MethodGet, "/v1/me", "", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	require.Equal(t, f.alice.UserID, me.UserID)
	require.Equal(t, f.acme.TenantID, me.TenantID)
	require.Equal(t, []string{"Admin"}, me.Roles)
	require.ElementsMatch(t, []string{"CanCreateSection", "CanReadUser", "CanUpdateUser"}, me.Permissions)

	t.Run("matching tenant header", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/v1/me", "acme", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("token used against another tenant", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/v1/me", "globex", token, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Equal(t, "tenant_mismatch", errorCode(t, rec))
	})

	t.Run("no token", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/v1/me", "acme", "", nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("user without permissions", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/v1/me", "", f.login(t, "acme", "bob"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
		require.Empty(t, me.Permissions)
		require.NotNil(t, me.Permissions)
	})
}

func TestCreateSection(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.login(t, "acme", "alice")

	body := createSectionRequest{Name: "Invoices", Description: "Customer invoices", GrantTo: []uuid.UUID{f.clerk.RoleID}}
	rec := f.do(t, http.MethodPost, "/v1/sections", "", alice, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var section sectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &section))
	require.Equal(t, "Invoices", section.Key)
	require.Equal(t, []string{
		"CanCreateDataInSectionInvoices",
		"CanReadDataInSectionInvoices",
		"CanUpdateDataInSectionInvoices",
		"CanDeleteDataInSectionInvoices",
	}, section.Permissions)

	t.Run("grantees see the new permissions", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/v1/me", "", f.login(t, "acme", "bob"), nil)
		var me meResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
		require.Len(t, me.Permissions, 4)
	})

	t.Run("duplicate", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/sections", "", alice, createSectionRequest{Name: "invoices"})
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, "already_exists", errorCode(t, rec))
	})

	t.Run("without permission", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/sections", "", f.login(t, "acme", "bob"), createSectionRequest{Name: "Orders"})
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Equal(t, "permission_denied", errorCode(t, rec))
	})

	t.Run("grant to a role of another tenant", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/sections", "", alice, createSectionRequest{Name: "Orders", GrantTo: []uuid.UUID{f.gadmin.RoleID}})
		require.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.do(t, http.MethodPost, "/v1/sections", "", alice, createSectionRequest{Name: "Orders"})
		require.Equal(t, http.StatusCreated, rec.Code)
	})
}

func TestUserRoles(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.login(t, "acme", "alice")

	bobRoles := "/v1/users/" + f.bob.UserID.String() + "/roles"

	rec := f.do(t, http.MethodPost, bobRoles, "", alice, assignRolesRequest{RoleIDs: []uuid.UUID{f.admin.RoleID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var roles []roleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roles))
	require.Len(t, roles, 2)

	rec = f.do(t, http.MethodGet, bobRoles, "", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, bobRoles+"/"+f.admin.RoleID.String(), "", alice, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	t.Run("last administrator", func(t *testing.T) {
		path := "/v1/users/" + f.alice.UserID.String() + "/roles/" + f.admin.RoleID.String()
		rec := f.do(t, http.MethodDelete, path, "", alice, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, "last_administrator", errorCode(t, rec))
	})

	t.Run("role of another tenant", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, bobRoles, "", alice, assignRolesRequest{RoleIDs: []uuid.UUID{f.gadmin.RoleID}})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("empty role list", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, bobRoles, "", alice, assignRolesRequest{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed user id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/v1/users/not-a-uuid/roles", "", alice, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("without permission", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, bobRoles, "", f.login(t, "acme", "bob"), assignRolesRequest{RoleIDs: []uuid.UUID{f.admin.RoleID}})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("revoked permissions apply to existing tokens", func(t *testing.T) {
		ctx := tenancy.WithTenant(context.Background(), f.acme.TenantID)
		perm, err := f.engine.PermissionsOfRole(ctx, f.admin.RoleID)
		require.NoError(t, err)
		for _, p := range perm {
			if p.Name == permReadUser {
				_, err := f.engine.RevokePermission(ctx, f.admin.RoleID, p.PermissionID)
				require.NoError(t, err)
			}
		}

		rec := f.do(t, http.MethodGet, bobRoles, "", alice, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{tenancy.ErrMissingTenantContext, http.StatusBadRequest},
		{tenancy.ErrTenantMismatch, http.StatusForbidden},
		{rbac.ErrDuplicateName, http.StatusConflict},
		{rbac.ErrRoleInUse, http.StatusConflict},
		{rbac.ErrLastAdministratorProtected, http.StatusConflict},
		{catalog.ErrImmutablePermission, http.StatusConflict},
		{login.ErrInvalidCredentials, http.StatusUnauthorized},
		{auth.ErrInvalidToken, http.StatusUnauthorized},
		{registry.ErrTenantInactive, http.StatusForbidden},
		{context.Canceled, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, _ := errorStatus(tt.err)
			require.Equal(t, tt.status, status)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/me", nil)
	req.Header.Set("Origin", "https://app.example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, "https://app.example.test", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCrossOriginLoginRejected(t *testing.T) {
	f := newAPIFixture(t)

	body, err := json.Marshal(loginRequest{Login: "alice", Password: password})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.Header.Set(tenancy.DefaultHeader, "acme")
	req.Header.Set("Sec-Fetch-Site", "cross-site")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}
