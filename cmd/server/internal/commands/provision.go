package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/tenantcore/internal/catalog"
	"github.com/wolfeidau/tenantcore/internal/login"
	"github.com/wolfeidau/tenantcore/internal/provision"
	"github.com/wolfeidau/tenantcore/internal/rbac"
	"github.com/wolfeidau/tenantcore/internal/registry"
	"github.com/wolfeidau/tenantcore/internal/store"
	memorystore "github.com/wolfeidau/tenantcore/internal/store/memory"
)

type ProvisionCmd struct {
	File   []string `help:"tenant manifest to apply" type:"existingfile" required:"" short:"f"`
	DryRun bool     `help:"validate and apply against an empty in-memory store only"`

	Store StoreFlags `embed:""`
}

func (c *ProvisionCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, _ = setupLogger(ctx, globals)

	var stores store.Stores
	if c.DryRun {
		stores = memorystore.NewDB().Stores()
	} else {
		var (
			closeStores func()
			err         error
		)
		stores, closeStores, err = c.Store.open(ctx)
		if err != nil {
			return err
		}
		defer closeStores()
	}

	reg := registry.New(stores.Tenants)
	cat := catalog.New(stores.Permissions, stores.Assignments)
	if err := cat.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed permissions: %w", err)
	}
	engine := rbac.New(stores, cat)
	p := provision.New(reg, cat, engine, login.NewBcryptVerifier(stores.Credentials))

	if err := applyManifests(ctx, p, c.File); err != nil {
		return err
	}

	if c.DryRun {
		log.Info().Msg("Dry run complete, nothing was persisted")
	}
	return nil
}

func applyManifests(ctx context.Context, p *provision.Provisioner, paths []string) error {
	for _, path := range paths {
		m, err := provision.LoadManifest(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		report, err := p.Apply(ctx, m)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		log.Info().
			Str("file", path).
			Str("tenant_id", report.TenantID.String()).
			Msg("Provisioned tenant")
	}
	return nil
}
