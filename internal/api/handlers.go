package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/tenantcore/internal/auth"
	"github.com/wolfeidau/tenantcore/internal/catalog"
	httpmiddleware "github.com/wolfeidau/tenantcore/internal/http"
	"github.com/wolfeidau/tenantcore/internal/models"
)

const maxBodyBytes = 64 * 1024

var (
	permCreateSection = catalog.Name(catalog.ActionCreate, "Section")
	permReadUser      = catalog.Name(catalog.ActionRead, "User")
	permUpdateUser    = catalog.Name(catalog.ActionUpdate, "User")
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"tokenType"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Claims    *auth.Claims `json:"claims"`
}

type meResponse struct {
	UserID      uuid.UUID `json:"userId"`
	TenantID    uuid.UUID `json:"tenantId"`
	UserName    string    `json:"userName"`
	FullName    string    `json:"fullName,omitempty"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
}

type createSectionRequest struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	GrantTo     []uuid.UUID `json:"grantTo"`
}

type sectionResponse struct {
	SectionID   uuid.UUID `json:"sectionId"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
}

type assignRolesRequest struct {
	RoleIDs []uuid.UUID `json:"roleIds"`
}

type roleResponse struct {
	RoleID uuid.UUID `json:"roleId"`
	Name   string    `json:"name"`
	Admin  bool      `json:"admin"`
	Active bool      `json:"active"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httpmiddleware.WriteJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.login.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, newTokenResponse(res.Token, res.Claims))
}

// handleRefresh accepts the token either in the body or as a bearer token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := httpmiddleware.BearerToken(r)
	if !ok {
		var req refreshRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		token = req.Token
	}
	if token == "" {
		writeError(w, r, auth.ErrUnauthenticated)
		return
	}

	refreshed, claims, err := s.issuer.Refresh(r.Context(), token)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, newTokenResponse(refreshed, claims))
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.PrincipalFromContext(ctx)
	if p == nil {
		writeError(w, r, auth.ErrUnauthenticated)
		return
	}

	perms, err := s.engine.PermissionNamesOfUser(ctx, p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, meResponse{
		UserID:      p.UserID,
		TenantID:    p.TenantID,
		UserName:    p.UserName,
		FullName:    p.FullName,
		Roles:       nonNil(p.Roles),
		Permissions: nonNil(perms),
	})
}

func (s *Server) createSection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := auth.RequirePermission(ctx, permCreateSection); err != nil {
		writeError(w, r, err)
		return
	}

	var req createSectionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	section, perms, err := s.engine.CreateSection(ctx, req.Name, req.Description, req.GrantTo...)
	if err != nil {
		writeError(w, r, err)
		return
	}

	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}

	httpmiddleware.WriteJSON(w, r, http.StatusCreated, sectionResponse{
		SectionID:   section.SectionID,
		Name:        section.Name,
		Key:         section.Key,
		Description: section.Description,
		Permissions: names,
	})
}

func (s *Server) rolesOfUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := auth.RequirePermission(ctx, permReadUser); err != nil {
		writeError(w, r, err)
		return
	}

	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.writeRoles(w, r, userID)
}

func (s *Server) assignRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := auth.RequirePermission(ctx, permUpdateUser); err != nil {
		writeError(w, r, err)
		return
	}

	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req assignRolesRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.RoleIDs) == 0 {
		writeError(w, r, fmt.Errorf("%w: roleIds is required", models.ErrInvalid))
		return
	}

	if err := s.engine.AssignRoles(ctx, userID, req.RoleIDs...); err != nil {
		writeError(w, r, err)
		return
	}

	s.writeRoles(w, r, userID)
}

func (s *Server) revokeRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := auth.RequirePermission(ctx, permUpdateUser); err != nil {
		writeError(w, r, err)
		return
	}

	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.engine.RevokeRole(ctx, userID, roleID); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeRoles(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	roles, err := s.engine.RolesOfUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleResponse{RoleID: role.RoleID, Name: role.Name, Admin: role.Admin, Active: role.Active})
	}

	httpmiddleware.WriteJSON(w, r, http.StatusOK, out)
}

func newTokenResponse(token string, claims *auth.Claims) tokenResponse {
	res := tokenResponse{Token: token, TokenType: "Bearer", Claims: claims}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res
}

// decode reads a JSON body into v. Unknown fields and trailing data are rejected.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %w", models.ErrInvalid, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body must contain a single JSON object", models.ErrInvalid)
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s is not a valid id", models.ErrInvalid, name)
	}
	return id, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
