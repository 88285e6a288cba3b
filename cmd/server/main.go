package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/tenantcore/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug     bool                    `help:"Enable debug mode." env:"TENANTCORE_DEBUG"`
		Version   kong.VersionFlag
		Serve     commands.ServeCmd     `cmd:"" help:"Start the HTTP server."`
		Migrate   commands.MigrateCmd   `cmd:"" help:"Apply pending database migrations."`
		Provision commands.ProvisionCmd `cmd:"" help:"Create or extend a tenant from a manifest."`
		Seed      commands.SeedCmd      `cmd:"" help:"Seed the system permissions."`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("tenantcore"),
		kong.Description("Tenant isolation and authorization service."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
