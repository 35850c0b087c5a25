package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

// Version is stamped by the build via -ldflags.
var Version = "dev"

// DefaultConfigPath is where mauved looks when --config is not given.
const DefaultConfigPath = "mauve.yaml"

// RootCmd is the mauved command tree.
var RootCmd struct {
	Config string `short:"c" default:"mauve.yaml" help:"Path to the configuration file." placeholder:"PATH"`
	Debug  bool   `short:"d" help:"Enable debug output."`

	Start   StartCmd   `cmd:"" default:"1" help:"Start the daemon."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Execute parses arguments and runs the selected subcommand. The bound
// context is cancelled on SIGINT or SIGTERM, which starts the drain.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name("mauved"),
		kong.Description("The mauve object daemon.\n\nServes newline-delimited JSON commands over TCP and publishes every mutation to the changefeed."),
		kong.UsageOnError(),
		kong.Vars{
			"version": Version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	return kongCtx.Run()
}
