// Package export writes catalog snapshots.
//
// An export walks every page of one query through the catalog cache, so
// rows go through the same aggregation the interactive view uses, and hands
// the pages to a Sink in page order. Pages after the first are fetched with
// bounded parallelism.
package export

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/catalogsync/log"
	"github.com/pithecene-io/catalogsync/query"
	"github.com/pithecene-io/catalogsync/types"
)

// DefaultConcurrency bounds parallel page fetches.
const DefaultConcurrency = 4

// Pager fetches one aggregated page. *cache.Cache satisfies it.
type Pager interface {
	Fetch(ctx context.Context, key types.QueryKey) (types.CatalogPage, error)
}

// Options configures one export.
type Options struct {
	// Query is the search text; it is normalized before use.
	Query string
	// PageSize defaults to query.MaxPageSize to minimize round trips.
	PageSize int
	// Concurrency bounds parallel page fetches (default 4).
	Concurrency int
	// Logger receives progress (default: discard).
	Logger *log.Logger
}

// Summary reports what an export wrote.
type Summary struct {
	Pages    int
	Products int
	Offers   int
	Total    int
}

// Run exports every page of opts.Query to sink. No page is handed to the
// sink unless all pages were fetched.
func Run(ctx context.Context, pager Pager, sink Sink, opts Options) (Summary, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = query.MaxPageSize
	}
	opts.PageSize = min(opts.PageSize, query.MaxPageSize)
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	q := query.NormalizeQuery(opts.Query)

	first, err := pager.Fetch(ctx, types.QueryKey{Page: 1, PageSize: opts.PageSize, Query: q})
	if err != nil {
		return Summary{}, fmt.Errorf("page 1: %w", err)
	}

	pageCount := types.PageCount(first.Total, opts.PageSize)
	pages := make([]types.CatalogPage, pageCount)
	pages[0] = first

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for n := 2; n <= pageCount; n++ {
		g.Go(func() error {
			page, err := pager.Fetch(gctx, types.QueryKey{Page: n, PageSize: opts.PageSize, Query: q})
			if err != nil {
				return fmt.Errorf("page %d: %w", n, err)
			}
			pages[n-1] = page
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summary{Pages: pageCount, Total: first.Total}
	for _, page := range pages {
		if err := sink.WritePage(ctx, page.Items); err != nil {
			return summary, err
		}
		summary.Products += len(page.Items)
		for _, p := range page.Items {
			summary.Offers += len(p.Offers)
		}
	}
	if err := sink.Finish(ctx, first.Total); err != nil {
		return summary, err
	}

	logger.Info("catalog exported", map[string]any{
		"query":    q,
		"pages":    summary.Pages,
		"products": summary.Products,
		"offers":   summary.Offers,
	})
	return summary, nil
}
