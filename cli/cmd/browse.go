package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/catalogsync/cli/tui"
)

// BrowseCommand returns the browse command.
// Browse opens the interactive catalog browser with live ingest tracking.
func BrowseCommand() *cli.Command {
	return &cli.Command{
		Name:      "browse",
		Usage:     "Browse the catalog interactively",
		ArgsUsage: "[search text]",
		Flags: append([]cli.Flag{
			CurrencyFlag,
			TimeZoneFlag,
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Initial search text",
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Products per page (1-100, default 50)",
			},
		}, pollFlags()...),
		Action: browseAction,
	}
}

func browseAction(c *cli.Context) error {
	s, err := newSession(c, quietLogs())
	if err != nil {
		return exitError(err)
	}
	defer s.Close()

	display, err := s.display(c)
	if err != nil {
		return exitError(err)
	}

	co, err := s.newCoordinator(c)
	if err != nil {
		return exitError(err)
	}
	defer co.Close()

	ctx, stop := signal.NotifyContext(commandContext(c), syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if q := searchText(c); q != "" {
		// Fetch errors land in the view the browser opens with.
		_, _ = co.SetQuery(ctx, q)
	}

	go func() { _ = co.Run(ctx) }()

	if err := tui.Run(ctx, co, tui.Options{Display: display, Collector: s.collector}); err != nil {
		return exitError(err)
	}
	if co.View().AuthRequired {
		return cli.Exit("session expired\nrun `catalogsync login` to sign in", exitAuth)
	}
	return nil
}

