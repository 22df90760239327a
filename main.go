package main

import (
	"embed"
	"fmt"

	"github.com/alecthomas/kong"
)

//go:embed config/migrations/*/*.sql
var embedMigrations embed.FS

var (
	// Version is set via ldflags when building.
	Version = ""

	// CommitSHA is set via ldflags when building.
	CommitSHA = ""

	cli struct {
		Version kong.VersionFlag `help:"Show version information"`
		Commands
	}
)

func main() {
	ctx := kong.Parse(&cli,
		kong.Vars{
			"version": buildVersion(),
		},
		kong.Name("byro"),
		kong.Description("Double-entry bookkeeping for membership organisations."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

func buildVersion() string {
	if Version == "" {
		Version = "dev"
	}
	if CommitSHA == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, CommitSHA)
}
