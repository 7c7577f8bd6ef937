package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/fx"

	"anon-relay/internal/config"
	"anon-relay/internal/transport"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("anon-relay"),
		kong.Description("HTTP relay that forwards requests through an anonymizing overlay."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	guard := &bootGuard{}
	app := fx.New(appOptions(&cli, transport.NewTorClient, guard))
	if app.Err() != nil {
		// Run reports the construction error and exits; the transport must not outlive it.
		if err := guard.release(); err != nil {
			fmt.Fprintf(os.Stderr, "stop transport after failed boot: %v\n", err)
		}
	}
	app.Run()
}
