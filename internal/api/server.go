// Package api exposes login, token refresh and a small set of tenant
// administration endpoints over HTTP.
package api

import (
	"net/http"
	"strings"

	"filippo.io/csrf"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/wolfeidau/tenantcore/internal/auth"
	httpmiddleware "github.com/wolfeidau/tenantcore/internal/http"
	"github.com/wolfeidau/tenantcore/internal/logger"
	"github.com/wolfeidau/tenantcore/internal/login"
	"github.com/wolfeidau/tenantcore/internal/rbac"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

// Config wires the services behind the HTTP surface.
type Config struct {
	Resolver      *tenancy.Resolver
	Authenticator *auth.Authenticator
	Login         *login.Service
	Issuer        *auth.Issuer
	Engine        *rbac.Engine
	CORSOrigins   []string
	Logger        zerolog.Logger
}

type Server struct {
	resolver      *tenancy.Resolver
	authenticator *auth.Authenticator
	login         *login.Service
	issuer        *auth.Issuer
	engine        *rbac.Engine
	corsOrigins   []string
	logger        zerolog.Logger
}

func NewServer(cfg Config) *Server {
	return &Server{
		resolver:      cfg.Resolver,
		authenticator: cfg.Authenticator,
		login:         cfg.Login,
		issuer:        cfg.Issuer,
		engine:        cfg.Engine,
		corsOrigins:   cfg.CORSOrigins,
		logger:        cfg.Logger,
	}
}

// Handler returns the root handler. Every request passes through client IP
// extraction, request logging, CORS (API routes) or cross-origin protection
// (everything else), and optional tenant resolution. Routes under /v1/
// additionally require a bearer token.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)

	authn := s.authenticator.Middleware()
	mux.Handle("GET /v1/me", authn(http.HandlerFunc(s.me)))
	mux.Handle("POST /v1/sections", authn(http.HandlerFunc(s.createSection)))
	mux.Handle("GET /v1/users/{id}/roles", authn(http.HandlerFunc(s.rolesOfUser)))
	mux.Handle("POST /v1/users/{id}/roles", authn(http.HandlerFunc(s.assignRoles)))
	mux.Handle("DELETE /v1/users/{id}/roles/{roleID}", authn(http.HandlerFunc(s.revokeRole)))

	routed := tenancy.Middleware(s.resolver, false)(mux)

	protection := csrf.New()
	api := withCORS(s.corsOrigins, routed)
	pages := protection.Handler(routed)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIRoute(r.URL.Path) {
			api.ServeHTTP(w, r)
			return
		}
		pages.ServeHTTP(w, r)
	})

	return httpmiddleware.ClientIPMiddleware()(logger.RequestLogger(s.logger)(handler))
}

// isAPIRoute reports whether path is a token authenticated API route, which
// gets CORS instead of cross-origin protection. A path strategy prefix may
// still be present at this point.
func isAPIRoute(path string) bool {
	return strings.Contains(path, "/v1/")
}

func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization", tenancy.DefaultHeader},
	})
	return middleware.Handler(h)
}
