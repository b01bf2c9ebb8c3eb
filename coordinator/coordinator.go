// Package coordinator binds ingest completion to catalog cache refresh.
//
// The Coordinator owns the user's view: every navigation goes through the
// query controller and then the cache, and only responses for the key that
// is still current are applied to the view. On every completion event
// observed by the tracker (running -> idle|error) it invalidates the cache
// once and refetches the page the user is looking at now.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/catalogsync/adapter"
	"github.com/pithecene-io/catalogsync/cache"
	"github.com/pithecene-io/catalogsync/ingest"
	"github.com/pithecene-io/catalogsync/log"
	"github.com/pithecene-io/catalogsync/metrics"
	"github.com/pithecene-io/catalogsync/query"
	"github.com/pithecene-io/catalogsync/transport"
	"github.com/pithecene-io/catalogsync/types"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("coordinator closed")

// DefaultPublishTimeout bounds one completion publish, retries included.
const DefaultPublishTimeout = 30 * time.Second

// subscriberBuffer is the per-subscriber event backlog.
const subscriberBuffer = 16

// Config tunes the coordinator.
type Config struct {
	// CompletionWaitCycles bounds the fast polling window opened by Start
	// (default 40, two minutes at 3s).
	CompletionWaitCycles int
	// PublishTimeout bounds a completion publish (default 30s).
	PublishTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CompletionWaitCycles <= 0 {
		c.CompletionWaitCycles = ingest.DefaultFastCycles
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	return c
}

// ViewState is a snapshot of what the user sees.
type ViewState struct {
	// Query is the controller state the view reflects.
	Query query.State
	// Result is the last page applied for Query, or nil.
	Result *types.CatalogPage
	// Err is the last fetch error for Query. Result may still hold the
	// last known good page.
	Err error
	// Loading is set while a fetch for Query is outstanding.
	Loading bool

	Phase         types.IngestPhase
	RawStatus     string
	LastSuccessAt *time.Time
	// Degraded is set while status polls are failing.
	Degraded bool
	// AuthRequired is set once the backend rejected the credential.
	AuthRequired bool
	// FastUntilCycles is the number of fast polls left.
	FastUntilCycles int

	// RefreshedAt is when Result was fetched.
	RefreshedAt time.Time
}

// Coordinator is the synchronization state machine. Safe for concurrent use.
type Coordinator struct {
	controller *query.Controller
	cache      *cache.Cache
	tracker    *ingest.Tracker
	config     Config

	publisher adapter.Adapter
	meta      *types.SessionMeta
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	lifetime context.Context
	cancel   context.CancelFunc

	refetches  sync.WaitGroup
	background sync.WaitGroup

	mu             sync.Mutex
	view           ViewState
	resultKey      types.QueryKey
	loadSeq        uint64
	refetchPending bool
	refetchAgain   bool
	subs           []chan Event
	closed         bool
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger (default: discard).
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithCollector records coordinator counters on m.
func WithCollector(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.collector = m }
}

// WithPublisher announces completions through a.
func WithPublisher(a adapter.Adapter) Option {
	return func(c *Coordinator) { c.publisher = a }
}

// WithSessionMeta stamps published events with the session identity.
func WithSessionMeta(meta *types.SessionMeta) Option {
	return func(c *Coordinator) { c.meta = meta }
}

// WithClock overrides the event clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New wires a coordinator over its components. The coordinator takes
// ownership of the cache and closes it on Close.
func New(controller *query.Controller, c *cache.Cache, tracker *ingest.Tracker, cfg Config, opts ...Option) *Coordinator {
	lifetime, cancel := context.WithCancel(context.Background())
	co := &Coordinator{
		controller: controller,
		cache:      c,
		tracker:    tracker,
		config:     cfg.withDefaults(),
		logger:     log.Nop(),
		now:        time.Now,
		lifetime:   lifetime,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(co)
	}

	st := tracker.Status()
	co.view = ViewState{
		Query:         controller.State(),
		Phase:         st.Phase,
		RawStatus:     st.RawStatus,
		LastSuccessAt: st.LastSuccessAt,
	}
	return co
}

// View returns the current view snapshot.
func (c *Coordinator) View() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// --- View operations ---

// Current fetches the page for the current state, from cache when possible.
func (c *Coordinator) Current(ctx context.Context) (ViewState, error) {
	return c.load(ctx, c.controller.Key(), false)
}

// Refresh refetches the current page, bypassing the cache entry.
func (c *Coordinator) Refresh(ctx context.Context) (ViewState, error) {
	return c.load(ctx, c.controller.Key(), true)
}

// SetQuery changes the search text and loads page 1.
func (c *Coordinator) SetQuery(ctx context.Context, text string) (ViewState, error) {
	return c.load(ctx, c.controller.SetQuery(text).Key(), false)
}

// SetPage moves to page n, clamped to the known page range.
func (c *Coordinator) SetPage(ctx context.Context, n int) (ViewState, error) {
	return c.load(ctx, c.controller.SetPage(n).Key(), false)
}

// SetPageSize changes the page size and loads page 1.
func (c *Coordinator) SetPageSize(ctx context.Context, n int) (ViewState, error) {
	s, err := c.controller.SetPageSize(n)
	if err != nil {
		return c.View(), err
	}
	return c.load(ctx, s.Key(), false)
}

// NextPage advances one page.
func (c *Coordinator) NextPage(ctx context.Context) (ViewState, error) {
	return c.load(ctx, c.controller.NextPage().Key(), false)
}

// PrevPage goes back one page.
func (c *Coordinator) PrevPage(ctx context.Context) (ViewState, error) {
	return c.load(ctx, c.controller.PrevPage().Key(), false)
}

// load fetches key and applies the result if key is still what the user
// wants to see and no newer load has been issued since.
func (c *Coordinator) load(ctx context.Context, key types.QueryKey, force bool) (ViewState, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ViewState{}, ErrClosed
	}
	c.loadSeq++
	seq := c.loadSeq
	c.view.Query = c.controller.State()
	if _, hit := c.cache.Get(key); force || !hit {
		c.view.Loading = true
		c.emitLocked(EventViewUpdated, nil)
	}
	c.mu.Unlock()

	var (
		page types.CatalogPage
		err  error
	)
	if force {
		page, err = c.cache.Refetch(ctx, key)
	} else {
		page, err = c.cache.Fetch(ctx, key)
	}
	// Invalidated mid-flight: the forced refetch owns the outcome.
	stale := errors.Is(err, cache.ErrStale)
	if stale {
		err = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ViewState{}, ErrClosed
	}
	if seq != c.loadSeq || c.controller.Key() != key {
		c.logger.Debug("response for superseded view dropped", map[string]any{"key": key.String()})
		return c.view, err
	}

	c.view.Loading = false
	switch {
	case stale:
		c.emitLocked(EventViewUpdated, nil)
		return c.view, nil
	case err == nil:
		c.applyPageLocked(key, page)
	case errors.Is(err, context.Canceled):
		// A newer request owns the outcome.
	case transport.IsAuth(err):
		c.view.Err = err
		c.markAuthLocked()
	default:
		c.view.Err = err
		if c.resultKey != key {
			c.view.Result = nil
		}
		c.logger.Warn("catalog fetch failed", map[string]any{
			"key":   key.String(),
			"error": err.Error(),
		})
	}
	c.emitLocked(EventViewUpdated, err)
	return c.view, err
}

// Must be called with c.mu held.
func (c *Coordinator) applyPageLocked(key types.QueryKey, page types.CatalogPage) {
	c.view.Result = &page
	c.view.Err = nil
	c.view.AuthRequired = false
	c.resultKey = key
	if e, ok := c.cache.Entry(key); ok {
		c.view.RefreshedAt = e.FetchedAt
	} else {
		c.view.RefreshedAt = c.now()
	}
	c.controller.ObserveTotal(page.Total)
}

// Must be called with c.mu held.
func (c *Coordinator) markAuthLocked() {
	if c.view.AuthRequired {
		return
	}
	c.view.AuthRequired = true
	c.logger.Warn("credential rejected, re-authentication required", nil)
	c.emitLocked(EventAuthRequired, transport.ErrAuth)
}

// --- Ingest ---

// Start triggers an ingest and switches to the fast cadence right away.
// The fast window lasts CompletionWaitCycles polls; if no completion is
// seen by then the tracker falls back to the idle cadence.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}

	c.tracker.ForceFast(c.config.CompletionWaitCycles)
	res, err := c.tracker.Start(ctx)
	if err != nil {
		c.tracker.ForceFast(0)
		if transport.IsAuth(err) {
			c.mu.Lock()
			c.markAuthLocked()
			c.mu.Unlock()
		}
		return err
	}

	c.handlePoll(res)
	c.tracker.Rearm()
	return nil
}

// Poll runs one status poll and applies it. Run does this on a timer.
func (c *Coordinator) Poll(ctx context.Context) ingest.PollResult {
	res := c.tracker.Poll(ctx)
	c.handlePoll(res)
	return res
}

// Run drives the tracker loop until ctx is done or Close is called.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.lifetime, cancel)
	defer stop()

	return c.tracker.Run(ctx, c.handlePoll)
}

func (c *Coordinator) handlePoll(res ingest.PollResult) {
	if res.Superseded || (res.Err != nil && errors.Is(res.Err, context.Canceled)) {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.view.Phase = res.Status.Phase
	c.view.RawStatus = res.Status.RawStatus
	c.view.LastSuccessAt = res.Status.LastSuccessAt
	c.view.Degraded = res.Degraded
	c.view.FastUntilCycles = c.tracker.FastCycles()

	if res.PhaseChanged() {
		c.emitLocked(EventPhaseChanged, nil)
	}
	if res.Degraded {
		c.emitLocked(EventConnectivityDegraded, res.Err)
	}
	if res.AuthRequired() {
		c.markAuthLocked()
	}
	c.mu.Unlock()

	if res.Completed {
		c.onCompletion(res.Status)
	}
}

// onCompletion invalidates once and refetches the current key.
func (c *Coordinator) onCompletion(status types.IngestStatus) {
	c.emit(EventCompletionObserved, nil)

	c.cache.InvalidateAll()
	c.logger.Info("catalog invalidated after ingest completion", map[string]any{
		"phase":  string(status.Phase),
		"status": status.RawStatus,
	})

	c.forceRefetch()
	c.publish(status)
}

// forceRefetch refetches the current key. While one forced refetch is in
// flight further requests collapse into a single follow-up, issued once
// the pending one lands so it reflects the latest invalidation.
func (c *Coordinator) forceRefetch() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.refetchPending {
		c.refetchAgain = true
		c.mu.Unlock()
		c.collector.IncForcedRefetchCoalesced()
		c.logger.Debug("forced refetch coalesced", nil)
		return
	}
	c.refetchPending = true
	c.refetches.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.refetches.Done()
		for {
			c.collector.IncForcedRefetch()
			_, _ = c.load(c.lifetime, c.controller.Key(), true)

			c.mu.Lock()
			if c.refetchAgain && !c.closed {
				c.refetchAgain = false
				c.mu.Unlock()
				continue
			}
			c.refetchPending = false
			c.refetchAgain = false
			c.mu.Unlock()
			return
		}
	}()
}

func (c *Coordinator) publish(status types.IngestStatus) {
	if c.publisher == nil {
		return
	}
	event := adapter.NewCatalogRefreshedEvent(c.meta, status, c.controller.Key(), c.now())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.background.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.background.Done()
		ctx, cancel := context.WithTimeout(c.lifetime, c.config.PublishTimeout)
		defer cancel()

		if err := c.publisher.Publish(ctx, event); err != nil {
			c.collector.IncPublishFailure()
			c.logger.Warn("catalog refresh publish failed", map[string]any{"error": err.Error()})
		}
	}()
}

// Close stops polling, disposes the cache and drops in-flight results.
// Subscriber channels are closed. Close is idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.cache.Close()
	c.refetches.Wait()
	c.background.Wait()

	c.mu.Lock()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.mu.Unlock()
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
