package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/tenantcore/internal/catalog"
	postgresstore "github.com/wolfeidau/tenantcore/internal/store/postgres"
)

// SeedCmd writes the system permissions into the database. Serve does the
// same at startup; this lets operators prepare a database ahead of time.
type SeedCmd struct {
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

func (c *SeedCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, log := setupLogger(ctx, globals)

	pool, err := c.PostgresStore.connect(ctx, false)
	if err != nil {
		return err
	}
	defer pool.Close()

	stores := postgresstore.NewDB(pool).Stores()
	if err := catalog.New(stores.Permissions, stores.Assignments).Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed permissions: %w", err)
	}

	log.Info().Int("permissions", len(catalog.SystemPermissions())).Msg("Seeded system permissions")
	return nil
}
