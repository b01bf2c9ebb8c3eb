// Package cache holds the last successful catalog page per query key.
//
// Entries never expire on a timer. They are replaced by a newer fetch for
// the same key or dropped wholesale by InvalidateAll. Concurrent fetches
// for one key share a single backend request, and every request carries a
// per-key sequence number so a slow, older response can never overwrite a
// fresher one.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pithecene-io/catalogsync/aggregate"
	"github.com/pithecene-io/catalogsync/log"
	"github.com/pithecene-io/catalogsync/metrics"
	"github.com/pithecene-io/catalogsync/transport"
	"github.com/pithecene-io/catalogsync/types"
)

var (
	// ErrClosed is returned once the cache has been disposed.
	ErrClosed = errors.New("cache closed")
	// ErrStale is returned when a response arrived after an invalidation
	// and no fresher entry exists to hand back instead.
	ErrStale = errors.New("response superseded by invalidation")
)

// Fetcher is the backend read the cache delegates to on a miss.
type Fetcher interface {
	ListProducts(ctx context.Context, key types.QueryKey) (*transport.RawPage, error)
}

// Entry is one cached page with its provenance.
type Entry struct {
	Key       types.QueryKey
	Result    types.CatalogPage
	FetchedAt time.Time
	Seq       uint64
}

// Cache maps query keys to their last successful page.
// Safe for concurrent use. Results are shared between callers and must
// not be mutated.
type Cache struct {
	fetcher   Fetcher
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	entries    map[types.QueryKey]*Entry
	seq        map[types.QueryKey]uint64
	generation uint64
	closed     bool
	done       chan struct{}
}

// Option customizes a Cache.
type Option func(*Cache)

// WithLogger sets the logger (default: discard).
func WithLogger(l *log.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithCollector records fetch counters on m.
func WithCollector(m *metrics.Collector) Option {
	return func(c *Cache) { c.collector = m }
}

// WithClock overrides the fetchedAt clock.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache reading through f.
func New(f Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: f,
		logger:  log.Nop(),
		now:     time.Now,
		entries: make(map[types.QueryKey]*Entry),
		seq:     make(map[types.QueryKey]uint64),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached page for key without touching the network.
func (c *Cache) Get(key types.QueryKey) (types.CatalogPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.closed {
		return types.CatalogPage{}, false
	}
	return e.Result, true
}

// Entry returns the cached entry for key, including fetchedAt and seq.
func (c *Cache) Entry(key types.QueryKey) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.closed {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fetch returns the cached page for key, or fetches it on a miss.
// A miss while a fetch for the same key is pending attaches to that fetch.
// On failure no entry is written and the previous one stays in place.
func (c *Cache) Fetch(ctx context.Context, key types.QueryKey) (types.CatalogPage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.CatalogPage{}, ErrClosed
	}
	if e, ok := c.entries[key]; ok {
		result := e.Result
		c.mu.Unlock()
		c.collector.IncCacheHit()
		return result, nil
	}
	t := c.nextTicket(key)
	c.mu.Unlock()

	return c.join(ctx, key, t)
}

// Refetch always issues a new request for key, bypassing the cached entry.
// Later Fetch calls for key attach to this request, not to one started
// before it.
func (c *Cache) Refetch(ctx context.Context, key types.QueryKey) (types.CatalogPage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.CatalogPage{}, ErrClosed
	}
	t := c.nextTicket(key)
	c.mu.Unlock()

	c.group.Forget(t.flight)
	return c.join(ctx, key, t)
}

// InvalidateAll drops every entry. Responses to requests issued before the
// call are discarded on arrival.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	dropped := len(c.entries)
	c.entries = make(map[types.QueryKey]*Entry)
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.collector.IncInvalidation()
	c.logger.Debug("cache invalidated", map[string]any{
		"dropped":    dropped,
		"generation": gen,
	})
}

// Close disposes the cache. Pending fetches run to completion but their
// results are dropped and callers receive ErrClosed.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.entries = make(map[types.QueryKey]*Entry)
	close(c.done)
}

// ticket records the issue order of one request. Sequence numbers are
// taken in the caller's goroutine so they follow call order; a caller
// that ends up attached to another request simply leaves a gap.
type ticket struct {
	flight string
	seq    uint64
	gen    uint64
}

// nextTicket allocates the next sequence number for key. Coalescing is scoped
// to the current generation so a request issued before an invalidation is
// never shared after it.
// Must be called with c.mu held.
func (c *Cache) nextTicket(key types.QueryKey) ticket {
	c.seq[key]++
	return ticket{
		flight: fmt.Sprintf("%d|%d|%d|%s", c.generation, key.Page, key.PageSize, key.Query),
		seq:    c.seq[key],
		gen:    c.generation,
	}
}

// join waits on the shared request for t.flight. The request itself runs
// detached from ctx so one caller's cancellation does not fail the others.
func (c *Cache) join(ctx context.Context, key types.QueryKey, t ticket) (types.CatalogPage, error) {
	leader := false
	ch := c.group.DoChan(t.flight, func() (any, error) {
		leader = true
		return c.issue(context.WithoutCancel(ctx), key, t)
	})

	select {
	case res := <-ch:
		if !leader {
			c.collector.IncFetchCoalesced()
		}
		if res.Err != nil {
			return types.CatalogPage{}, res.Err
		}
		return res.Val.(types.CatalogPage), nil
	case <-ctx.Done():
		return types.CatalogPage{}, ctx.Err()
	case <-c.done:
		return types.CatalogPage{}, ErrClosed
	}
}

// issue performs one backend request.
func (c *Cache) issue(ctx context.Context, key types.QueryKey, t ticket) (types.CatalogPage, error) {
	c.collector.IncFetchIssued()

	raw, err := c.fetcher.ListProducts(ctx, key)
	if err != nil {
		c.collector.IncFetchFailure()
		return types.CatalogPage{}, err
	}

	products, report := aggregate.AggregateWithReport(raw.Items)
	if n := len(report.Errors); n > 0 {
		c.collector.AddValidationErrors(n)
		c.logger.Debug("catalog rows degraded", map[string]any{
			"key":          key.String(),
			"errors":       n,
			"dropped_rows": report.DroppedRows,
		})
	}

	page := types.CatalogPage{
		Items:    products,
		Page:     raw.Page,
		PageSize: raw.PageSize,
		Total:    raw.Total,
	}
	return c.apply(key, t, page)
}

// apply stores page unless a newer response or an invalidation got there
// first. A response that lost the race hands back the fresher entry.
func (c *Cache) apply(key types.QueryKey, t ticket, page types.CatalogPage) (types.CatalogPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return types.CatalogPage{}, ErrClosed
	}

	current, hasCurrent := c.entries[key]

	if t.gen != c.generation {
		c.dropStale(key, t.seq, "invalidated")
		if hasCurrent {
			return current.Result, nil
		}
		return types.CatalogPage{}, ErrStale
	}

	if hasCurrent && current.Seq > t.seq {
		c.dropStale(key, t.seq, "superseded")
		return current.Result, nil
	}

	c.entries[key] = &Entry{
		Key:       key,
		Result:    page,
		FetchedAt: c.now(),
		Seq:       t.seq,
	}
	return page, nil
}

// Must be called with c.mu held.
func (c *Cache) dropStale(key types.QueryKey, seq uint64, reason string) {
	c.collector.IncStaleDropped()
	c.logger.Debug("stale response dropped", map[string]any{
		"key":    key.String(),
		"seq":    seq,
		"reason": reason,
	})
}
