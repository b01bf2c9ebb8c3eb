package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/catalogsync/cli/render"
	"github.com/pithecene-io/catalogsync/export"
	"github.com/pithecene-io/catalogsync/query"
)

// Export formats.
const (
	exportFormatLode    = "lode"
	exportFormatMsgpack = "msgpack"
)

// defaultExportPath is the fs backend root when none is configured.
const defaultExportPath = "./catalogsync-data"

// ExportCommand returns the export command.
// Export writes every page of a query as a snapshot.
func ExportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export every page of a query as offer rows",
		ArgsUsage: "[search text]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Search text (default: whole catalog)",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output: lode (JSONL dataset) or msgpack (frame stream)",
				Value: exportFormatLode,
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Lode storage backend: fs or s3",
				Value: "fs",
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "Lode storage path (fs: directory, s3: bucket/prefix)",
			},
			&cli.StringFlag{
				Name:  "dataset",
				Usage: "Lode dataset id",
			},
			&cli.StringFlag{
				Name:  "s3-region",
				Usage: "AWS region for S3 backend (optional, uses default chain)",
			},
			&cli.StringFlag{
				Name:  "s3-endpoint",
				Usage: "Custom S3 endpoint for S3-compatible providers (e.g. R2, MinIO)",
			},
			&cli.BoolFlag{
				Name:  "s3-path-style",
				Usage: "Force path-style S3 addressing",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "msgpack output file (default: stdout)",
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Products per request (1-100)",
				Value: query.MaxPageSize,
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Parallel page requests",
				Value: export.DefaultConcurrency,
			},
		},
		Action: exportAction,
	}
}

func exportAction(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return exitError(err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(commandContext(c), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := query.NormalizeQuery(searchText(c))
	meta := export.Meta{Query: q, ExportedAt: time.Now(), SessionID: s.meta.SessionID}
	cfg := s.config.Export

	var (
		sink     export.Sink
		location string
	)
	switch format := c.String("format"); format {
	case exportFormatMsgpack:
		w := outWriter(c)
		if path := c.String("output"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return exitError(fmt.Errorf("create output: %w", err))
			}
			defer f.Close()
			w = f
			location = path
		}
		sink = export.NewFrameSink(w, q)

	case exportFormatLode:
		dataset := resolveString(c, "dataset", cfg.Dataset)
		path := resolveString(c, "path", cfg.Path)
		switch backend := resolveString(c, "backend", cfg.Backend); backend {
		case "fs":
			if path == "" {
				path = defaultExportPath
			}
			sink, err = export.NewFSSink(dataset, path, meta)
			location = path
		case "s3":
			bucket, prefix := export.ParseS3Path(path)
			sink, err = export.NewS3Sink(ctx, dataset, export.S3Config{
				Bucket:       bucket,
				Prefix:       prefix,
				Region:       resolveString(c, "s3-region", cfg.Region),
				Endpoint:     resolveString(c, "s3-endpoint", cfg.Endpoint),
				UsePathStyle: c.Bool("s3-path-style") || cfg.S3PathStyle,
			}, meta)
			location = "s3://" + path
		default:
			return cli.Exit(fmt.Sprintf("invalid --backend: %q (must be fs or s3)", backend), exitConfig)
		}
		if err != nil {
			return exitError(err)
		}

	default:
		return cli.Exit(fmt.Sprintf("invalid --format: %q (must be lode or msgpack)", format), exitConfig)
	}

	catalog := s.newCache()
	defer catalog.Close()

	summary, err := export.Run(ctx, catalog, sink, export.Options{
		Query:       q,
		PageSize:    c.Int("page-size"),
		Concurrency: c.Int("concurrency"),
		Logger:      s.logger,
	})
	if err != nil {
		return exitError(err)
	}

	// Stdout may carry the frame stream; the summary goes to stderr.
	w := errWriter(c)
	if location != "" {
		fmt.Fprintf(w, "Exported to %s\n", location)
	}
	r := render.NewRendererWithWriter(render.FormatTable, true, render.Display{}, w)
	return exitError(r.Render(summary))
}
