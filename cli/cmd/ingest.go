package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/catalogsync/cli/render"
	"github.com/pithecene-io/catalogsync/coordinator"
	"github.com/pithecene-io/catalogsync/transport"
)

// IngestCommand returns the ingest command with subcommands.
func IngestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Trigger and observe the backend ingest job",
		Subcommands: []*cli.Command{
			ingestRunCommand(),
			ingestStatusCommand(),
			ingestWatchCommand(),
		},
	}
}

func ingestRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start an ingest",
		Flags: append(pollFlags(),
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Watch until the ingest completes",
			},
		),
		Action: ingestRunAction,
	}
}

func ingestRunAction(c *cli.Context) error {
	if c.Bool("wait") {
		return watch(c, watchOptions{start: true, untilComplete: true})
	}

	s, err := newSession(c)
	if err != nil {
		return exitError(err)
	}
	defer s.Close()

	if err := s.client.TriggerIngest(commandContext(c)); err != nil {
		return exitError(err)
	}
	fmt.Fprintln(outWriter(c), "Ingest started")
	return nil
}

func ingestStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the ingest job status",
		Flags:  OutputFlags(),
		Action: ingestStatusAction,
	}
}

func ingestStatusAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return exitError(err)
	}
	defer s.Close()

	display, err := s.display(c)
	if err != nil {
		return exitError(err)
	}
	r, err := render.NewRenderer(c, display)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	res := s.newTracker(c).Poll(commandContext(c))
	if res.Err != nil {
		return exitError(res.Err)
	}
	return exitError(r.RenderStatus(res.Status))
}

func ingestWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Follow the ingest job and refresh the catalog on completion",
		Flags: append(pollFlags(),
			&cli.BoolFlag{
				Name:  "start",
				Usage: "Start an ingest before watching",
			},
			&cli.BoolFlag{
				Name:  "until-complete",
				Usage: "Exit after the first completion",
			},
		),
		Action: func(c *cli.Context) error {
			return watch(c, watchOptions{
				start:         c.Bool("start"),
				untilComplete: c.Bool("until-complete"),
			})
		},
	}
}

type watchOptions struct {
	start         bool
	untilComplete bool
}

// watch runs the coordinator loop and prints ingest transitions until
// interrupted or, with untilComplete, until the first completion. The
// session's counters are printed to stderr on exit.
func watch(c *cli.Context, opts watchOptions) error {
	s, err := newSession(c)
	if err != nil {
		return exitError(err)
	}
	defer s.Close()

	co, err := s.newCoordinator(c)
	if err != nil {
		return exitError(err)
	}
	defer co.Close()

	ctx, stop := signal.NotifyContext(commandContext(c), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := co.Subscribe()
	out := outWriter(c)
	defer printMetrics(errWriter(c), s)

	if opts.start {
		if err := co.Start(ctx); err != nil {
			return exitError(err)
		}
		fmt.Fprintf(out, "%s ingest started\n", stamp(time.Now()))
	}

	ctx, cancel := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- co.Run(ctx) }()
	defer func() {
		cancel()
		<-runDone
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runDone:
			runDone <- err
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, coordinator.ErrClosed) {
				return exitError(err)
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			done, err := printEvent(out, ev, opts.untilComplete)
			if err != nil || done {
				return exitError(err)
			}
		}
	}
}

// printEvent prints one coordinator event. It reports whether watching
// should stop.
func printEvent(w io.Writer, ev coordinator.Event, untilComplete bool) (bool, error) {
	at := stamp(ev.At)
	switch ev.Kind {
	case coordinator.EventPhaseChanged:
		fmt.Fprintf(w, "%s phase %s (status %q)\n", at, ev.View.Phase, ev.View.RawStatus)
	case coordinator.EventCompletionObserved:
		fmt.Fprintf(w, "%s ingest finished: %s, catalog refreshed\n", at, ev.View.Phase)
		return untilComplete, nil
	case coordinator.EventConnectivityDegraded:
		fmt.Fprintf(w, "%s status poll failed: %v\n", at, ev.Err)
	case coordinator.EventAuthRequired:
		err := ev.Err
		if err == nil {
			err = transport.ErrAuth
		}
		return true, err
	}
	return false, nil
}

func stamp(t time.Time) string {
	return t.Format("15:04:05")
}

func printMetrics(w io.Writer, s *session) {
	fmt.Fprintln(w, "\nsession metrics:")
	r := render.NewRendererWithWriter(render.FormatTable, true, render.Display{}, w)
	_ = r.Render(s.collector.Snapshot())
}
