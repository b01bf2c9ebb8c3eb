// Package cmd provides CLI commands for the catalogsync binary.
package cmd

import "github.com/urfave/cli/v2"

// Global flags, accepted before any command.
var (
	// ConfigFlag points at a catalogsync.yaml.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file (default: ./catalogsync.yaml when present)",
		EnvVars: []string{"CATALOGSYNC_CONFIG"},
	}

	// APIFlag overrides api.base_url.
	APIFlag = &cli.StringFlag{
		Name:    "api",
		Usage:   "Backend API base URL",
		EnvVars: []string{"CATALOGSYNC_API"},
	}

	// TokenFlag supplies a bearer token for this process only.
	// The token is held in memory and never persisted.
	TokenFlag = &cli.StringFlag{
		Name:    "token",
		Usage:   "Bearer token (bypasses the credential store)",
		EnvVars: []string{"CATALOGSYNC_TOKEN"},
	}

	// VerboseFlag enables debug logging.
	VerboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Enable debug logging on stderr",
	}
)

// Shared flags for commands that render catalog data.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// CurrencyFlag overrides catalog.currency.
	CurrencyFlag = &cli.StringFlag{
		Name:  "currency",
		Usage: "Symbol printed before prices (e.g. ₡)",
	}

	// TimeZoneFlag overrides catalog.time_zone.
	TimeZoneFlag = &cli.StringFlag{
		Name:  "tz",
		Usage: "IANA time zone for timestamps (default: local)",
	}
)

// GlobalFlags returns the flags accepted at the app level.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		APIFlag,
		TokenFlag,
		VerboseFlag,
	}
}

// OutputFlags returns the shared flags for rendering commands.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		CurrencyFlag,
		TimeZoneFlag,
	}
}

// pollFlags tune the status polling cadence.
func pollFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:  "fast-interval",
			Usage: "Status poll interval while an ingest is running (default 3s)",
		},
		&cli.DurationFlag{
			Name:  "idle-interval",
			Usage: "Status poll interval otherwise (default 10s)",
		},
	}
}

// Commands returns every catalogsync command.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		LoginCommand(),
		LogoutCommand(),
		ProductsCommand(),
		IngestCommand(),
		BrowseCommand(),
		ExportCommand(),
		VersionCommand(commit),
	}
}
