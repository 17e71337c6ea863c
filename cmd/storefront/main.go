package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/storefront/cmd/storefront/internal/commands"
	"github.com/wolfeidau/storefront/internal/config"
)

var (
	version = "dev"
	cli     struct {
		Login    commands.LoginCmd    `cmd:"" help:"Sign in with an email address"`
		Register commands.RegisterCmd `cmd:"" help:"Create an account and sign in"`
		Logout   commands.LogoutCmd   `cmd:"" help:"Sign out and forget the stored session"`
		Whoami   commands.WhoamiCmd   `cmd:"" help:"Show the signed in user"`
		Products commands.ProductsCmd `cmd:"" help:"Browse the product catalog"`
		Serve    commands.ServeCmd    `cmd:"" help:"Serve the session API for a browser UI"`

		Debug    bool   `help:"Enable debug mode."`
		APIURL   string `name:"api-url" help:"Catalog service URL" default:"https://fakestoreapi.com" env:"STOREFRONT_API_URL"`
		StateDir string `help:"Directory holding the stored session (default ~/.storefront)" env:"STOREFRONT_STATE_DIR"`
		NoCache  bool   `help:"Disable the on-disk HTTP cache" env:"STOREFRONT_NO_CACHE"`
		Tracing  bool   `help:"Enable tracing" env:"STOREFRONT_TRACING"`

		Config  kong.ConfigFlag `help:"YAML configuration file"`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.Configuration(config.YAML, "~/.storefront/config.yaml"),
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:    cli.Debug,
		Version:  version,
		APIURL:   cli.APIURL,
		StateDir: cli.StateDir,
		NoCache:  cli.NoCache,
		Tracing:  cli.Tracing,
	})
	cmd.FatalIfErrorf(err)
}
