package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/tenantcore/internal/api"
	"github.com/wolfeidau/tenantcore/internal/auth"
	"github.com/wolfeidau/tenantcore/internal/catalog"
	"github.com/wolfeidau/tenantcore/internal/login"
	"github.com/wolfeidau/tenantcore/internal/provision"
	"github.com/wolfeidau/tenantcore/internal/rbac"
	"github.com/wolfeidau/tenantcore/internal/registry"
	"github.com/wolfeidau/tenantcore/internal/store"
	"github.com/wolfeidau/tenantcore/internal/telemetry"
	"github.com/wolfeidau/tenantcore/internal/tenancy"
)

type ServeCmd struct {
	// Server configuration
	Listen          string        `help:"HTTP server listen address" default:"localhost:8080" env:"TENANTCORE_LISTEN"`
	ShutdownTimeout time.Duration `help:"how long to wait for in-flight requests on shutdown" default:"10s"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"TENANTCORE_CORS_ORIGINS"`

	// Tenant resolution
	TenantStrategies []string `help:"tenant resolution strategies in order of precedence" default:"header,path,claim" env:"TENANTCORE_TENANT_STRATEGIES"`
	TenantHeader     string   `help:"header carrying the tenant id or slug" default:"X-Tenant-ID" env:"TENANTCORE_TENANT_HEADER"`
	BaseDomain       string   `help:"base domain for the subdomain strategy" env:"TENANTCORE_BASE_DOMAIN"`
	PathPrefix       string   `help:"path prefix for the path strategy" default:"/t/" env:"TENANTCORE_PATH_PREFIX"`

	// Authentication
	JWTSecret          string            `name:"jwt-secret" help:"HMAC secret signing access tokens" env:"TENANTCORE_JWT_SECRET" required:""`
	JWTPreviousSecrets []string          `name:"jwt-previous-secrets" help:"retired secrets still accepted for validation" env:"TENANTCORE_JWT_PREVIOUS_SECRETS"`
	JWT                auth.IssuerConfig `embed:"" prefix:"jwt-"`
	LivePermissions    bool              `help:"load permissions from the store on every request instead of trusting the token" default:"true" negatable:"" env:"TENANTCORE_LIVE_PERMISSIONS"`
	MaxLoginFailures   int               `help:"failed logins before an account is locked" default:"5" env:"TENANTCORE_MAX_LOGIN_FAILURES"`
	SuspensionRefresh  time.Duration     `help:"how often inactive tenants are reloaded" default:"30s"`

	// Caches
	TenantCacheTTL time.Duration `help:"lifetime of cached tenant lookups" default:"30s"`

	// Development and operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"TENANTCORE_TRACING"`

	// Startup provisioning
	Manifests []string `help:"tenant manifests applied at startup" type:"existingfile" env:"TENANTCORE_MANIFESTS"`

	// Store configuration
	Store StoreFlags `embed:""`
	Redis RedisFlags `embed:"" prefix:"redis-"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, log := setupLogger(ctx, globals)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "tenantcore",
			Version:     globals.Version,
			Traces:      true,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	stores, closeStores, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	var permissionCache *rbac.RedisCache
	if c.Redis.Enabled() {
		client, err := c.Redis.connect(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		permissionCache = rbac.NewRedisCache(client, c.Redis.CacheTTL)
		log.Info().Str("addr", c.Redis.Addr).Msg("Using Redis permission cache")
	}

	app, err := c.build(ctx, stores, log, permissionCache)
	if err != nil {
		return err
	}
	defer app.Close()

	handler := app.handler
	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "tenantcore")
	}

	srv := configureHTTPServer(c.Listen, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// application holds the wired services behind the HTTP handler.
type application struct {
	handler     http.Handler
	registry    *registry.Registry
	suspensions *auth.TenantSuspensions
}

func (a *application) Close() {
	a.suspensions.Stop()
}

// build wires the services over stores, seeds the system permissions and
// applies any startup manifests. permissionCache may be nil.
func (c *ServeCmd) build(ctx context.Context, stores store.Stores, log zerolog.Logger, permissionCache *rbac.RedisCache) (*application, error) {
	reg := registry.New(stores.Tenants, registry.WithCache(1024, c.TenantCacheTTL))

	var (
		catalogOpts []catalog.Option
		engineOpts  []rbac.Option
	)
	if permissionCache != nil {
		catalogOpts = append(catalogOpts, catalog.WithInvalidator(permissionCache))
		engineOpts = append(engineOpts, rbac.WithPermissionCache(permissionCache))
	}

	cat := catalog.New(stores.Permissions, stores.Assignments, catalogOpts...)
	if err := cat.Seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed permissions: %w", err)
	}

	engine := rbac.New(stores, cat, engineOpts...)
	verifier := login.NewBcryptVerifier(stores.Credentials, login.WithMaxFailures(c.MaxLoginFailures))

	if err := applyManifests(ctx, provision.New(reg, cat, engine, verifier), c.Manifests); err != nil {
		return nil, err
	}

	previous := make([][]byte, 0, len(c.JWTPreviousSecrets))
	for _, s := range c.JWTPreviousSecrets {
		previous = append(previous, []byte(s))
	}
	keys, err := auth.NewKeyRing([]byte(c.JWTSecret), previous...)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing keys: %w", err)
	}

	issuer, err := auth.NewIssuer(keys, login.NewSubjects(reg, engine), c.JWT)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	strategies, err := tenancy.ParseStrategies(c.TenantStrategies, tenancy.StrategyConfig{
		Header:     c.TenantHeader,
		BaseDomain: c.BaseDomain,
		PathPrefix: c.PathPrefix,
		Claims:     issuer,
	})
	if err != nil {
		return nil, err
	}

	suspensions := auth.NewTenantSuspensions(ctx, reg, c.SuspensionRefresh)

	var authOpts []auth.AuthenticatorOption
	if c.LivePermissions {
		authOpts = append(authOpts, auth.WithLivePermissions(engine))
	}

	srv := api.NewServer(api.Config{
		Resolver:      tenancy.NewResolver(reg, strategies...),
		Authenticator: auth.NewAuthenticator(issuer, suspensions, authOpts...),
		Login:         login.NewService(reg, engine, verifier, issuer),
		Issuer:        issuer,
		Engine:        engine,
		CORSOrigins:   c.CORSOrigins,
		Logger:        log,
	})

	log.Info().
		Strs("tenant_strategies", c.TenantStrategies).
		Bool("live_permissions", c.LivePermissions).
		Msg("Services initialized")

	return &application{
		handler:     srv.Handler(),
		registry:    reg,
		suspensions: suspensions,
	}, nil
}
