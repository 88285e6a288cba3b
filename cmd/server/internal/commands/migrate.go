package commands

import (
	"context"
)

type MigrateCmd struct {
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, _ = setupLogger(ctx, globals)

	pool, err := c.PostgresStore.connect(ctx, true)
	if err != nil {
		return err
	}
	pool.Close()

	return nil
}
