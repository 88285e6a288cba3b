package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/tenantcore/internal/logger"
	"github.com/wolfeidau/tenantcore/internal/store"
	memorystore "github.com/wolfeidau/tenantcore/internal/store/memory"
	postgresstore "github.com/wolfeidau/tenantcore/internal/store/postgres"
)

type Globals struct {
	Debug   bool
	Version string
}

// setupLogger configures the global logger and returns a context carrying it.
func setupLogger(ctx context.Context, globals *Globals) (context.Context, zerolog.Logger) {
	l := logger.Setup(globals.Debug)
	log.Logger = l
	return l.WithContext(ctx), l
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`
	ConnectRetry    int32 `help:"seconds to keep retrying an unreachable database" default:"30"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"TENANTCORE_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	if s.MinConns > s.MaxConns {
		return fmt.Errorf("--postgres-min-conns %d exceeds --postgres-max-conns %d", s.MinConns, s.MaxConns)
	}
	return nil
}

// connect opens the pool and, when asked to, applies migrations.
func (s *PostgresStoreFlags) connect(ctx context.Context, migrate bool) (*pgxpool.Pool, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate postgres flags: %w", err)
	}

	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString:      s.ConnString,
		MaxConns:        s.MaxConns,
		MinConns:        s.MinConns,
		MaxConnLifetime: s.MaxConnLifetime,
		MaxConnIdleTime: s.MaxConnIdleTime,
		ConnectRetry:    s.ConnectRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if migrate || s.AutoMigrate {
		if err := postgresstore.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info().Msg("Database migrations completed")
	}

	return pool, nil
}

// StoreFlags selects the storage implementation.
type StoreFlags struct {
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"TENANTCORE_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

// open returns the configured stores and a function releasing them.
func (s *StoreFlags) open(ctx context.Context) (store.Stores, func(), error) {
	switch s.StoreType {
	case "postgres":
		pool, err := s.PostgresStore.connect(ctx, false)
		if err != nil {
			return store.Stores{}, nil, err
		}
		log.Info().Msg("Using PostgreSQL stores")
		return postgresstore.NewDB(pool).Stores(), pool.Close, nil

	default:
		log.Info().Msg("Using in-memory stores, data is lost on exit")
		return memorystore.NewDB().Stores(), func() {}, nil
	}
}
