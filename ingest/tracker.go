// Package ingest observes the backend ingest job.
//
// The Tracker is a state machine over types.IngestPhase. It polls
// GET /ingest/status on an adaptive cadence: fast while a job is running
// or a fast window has been forced, idle otherwise. A transport failure
// never moves the phase; it is reported as degraded connectivity. The
// Tracker's Run loop is the only owner of the polling timer.
package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/catalogsync/log"
	"github.com/pithecene-io/catalogsync/metrics"
	"github.com/pithecene-io/catalogsync/transport"
	"github.com/pithecene-io/catalogsync/types"
)

const (
	// DefaultFastInterval is the cadence while a job is running.
	DefaultFastInterval = 3 * time.Second
	// DefaultIdleInterval is the background cadence.
	DefaultIdleInterval = 10 * time.Second
	// DefaultFastCycles bounds a fast window: 40 polls at 3s is two minutes.
	DefaultFastCycles = 40
)

// ErrAlreadyRunning is returned when Run is called on a Tracker whose loop
// is already active.
var ErrAlreadyRunning = errors.New("tracker loop already running")

// Source is the backend surface the Tracker needs.
type Source interface {
	TriggerIngest(ctx context.Context) error
	IngestStatus(ctx context.Context) (*transport.StatusResponse, error)
}

// Config tunes the polling cadence.
type Config struct {
	// FastInterval applies while running or inside a forced window (default 3s).
	FastInterval time.Duration
	// IdleInterval applies otherwise (default 10s).
	IdleInterval time.Duration
	// FastCycles is the default length of a forced fast window (default 40).
	FastCycles int
}

func (c Config) withDefaults() Config {
	if c.FastInterval <= 0 {
		c.FastInterval = DefaultFastInterval
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = DefaultIdleInterval
	}
	if c.FastCycles <= 0 {
		c.FastCycles = DefaultFastCycles
	}
	return c
}

// PollResult describes one poll.
type PollResult struct {
	// Status is the current observation. On failure it is the last known
	// status, unchanged.
	Status types.IngestStatus
	// Previous is the phase before this poll.
	Previous types.IngestPhase
	// Completed is set on a running -> idle|error transition.
	Completed bool
	// Degraded is set when the poll failed at the transport or protocol level.
	Degraded bool
	// ConsecutiveFailures counts failed polls since the last success.
	ConsecutiveFailures int
	// Superseded is set when a poll begun later was applied first; this
	// result carried no new information and was discarded.
	Superseded bool
	// Err is the poll error, if any.
	Err error
}

// PhaseChanged reports whether the poll moved the phase.
func (r PollResult) PhaseChanged() bool {
	return r.Err == nil && !r.Superseded && r.Status.Phase != r.Previous
}

// AuthRequired reports whether the poll was rejected for credentials.
func (r PollResult) AuthRequired() bool {
	return transport.IsAuth(r.Err)
}

// Tracker polls ingest status. Safe for concurrent use.
type Tracker struct {
	source    Source
	config    Config
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	kick    chan struct{}
	rearm   chan struct{}
	running atomic.Bool

	mu         sync.Mutex
	status     types.IngestStatus
	fastCycles int
	forced     bool
	// windowSpent is set when a forced window ran out without a completion.
	// It holds a still-running job at the idle cadence until the phase moves.
	windowSpent bool
	failures    int
	// pollEpoch: issued is taken when a poll begins, applied when its
	// result lands. A result older than the last applied one is dropped.
	issued  uint64
	applied uint64
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger (default: discard).
func WithLogger(l *log.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithCollector records poll counters on m.
func WithCollector(m *metrics.Collector) Option {
	return func(t *Tracker) { t.collector = m }
}

// WithClock overrides the observation clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker in the idle phase.
func NewTracker(source Source, cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		source: source,
		config: cfg.withDefaults(),
		logger: log.Nop(),
		now:    time.Now,
		kick:   make(chan struct{}, 1),
		rearm:  make(chan struct{}, 1),
		status: types.IngestStatus{Phase: types.PhaseIdle},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Config returns the effective configuration.
func (t *Tracker) Config() Config { return t.config }

// Status returns the last known status.
func (t *Tracker) Status() types.IngestStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Phase returns the last known phase.
func (t *Tracker) Phase() types.IngestPhase {
	return t.Status().Phase
}

// ConsecutiveFailures returns failed polls since the last success.
func (t *Tracker) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

// FastCycles returns the polls left in the current fast window.
func (t *Tracker) FastCycles() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fastCycles
}

// Interval returns the delay before the next scheduled poll: fast inside
// a forced window or while the job runs, idle otherwise.
func (t *Tracker) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.fastCycles > 0:
		return t.config.FastInterval
	case t.status.Phase == types.PhaseRunning && !t.windowSpent:
		return t.config.FastInterval
	default:
		return t.config.IdleInterval
	}
}

// ForceFast pins the fast cadence for the next cycles polls. If the window
// runs out while the job is still running, the tracker falls back to the
// idle cadence. Zero ends the window and restores the natural cadence.
func (t *Tracker) ForceFast(cycles int) {
	t.mu.Lock()
	t.fastCycles = max(cycles, 0)
	t.forced = t.fastCycles > 0
	t.windowSpent = false
	t.mu.Unlock()
}

// Kick wakes the Run loop for an immediate poll.
func (t *Tracker) Kick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Rearm restarts the Run loop's timer with the current Interval without
// polling.
func (t *Tracker) Rearm() {
	select {
	case t.rearm <- struct{}{}:
	default:
	}
}

// Start triggers the backend job, then refreshes status. While the job is
// already known to be running the trigger is skipped and only the status
// refresh happens. The returned error is the trigger's; the refresh
// outcome is in the PollResult.
func (t *Tracker) Start(ctx context.Context) (PollResult, error) {
	if t.Phase() != types.PhaseRunning {
		t.collector.IncTrigger()
		if err := t.source.TriggerIngest(ctx); err != nil {
			t.logger.Warn("ingest trigger failed", map[string]any{"error": err.Error()})
			return PollResult{Status: t.Status(), Previous: t.Phase(), Err: err}, err
		}
		t.logger.Info("ingest triggered", nil)
	}
	return t.Poll(ctx), nil
}

// Poll fetches the current status once and applies it.
func (t *Tracker) Poll(ctx context.Context) PollResult {
	t.mu.Lock()
	t.issued++
	epoch := t.issued
	t.mu.Unlock()

	resp, err := t.source.IngestStatus(ctx)

	if err != nil && ctx.Err() != nil {
		// Teardown, not a connectivity problem.
		return PollResult{Status: t.Status(), Previous: t.Phase(), Err: err}
	}

	t.collector.IncPoll()

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.status.Phase
	if epoch < t.applied {
		return PollResult{Status: t.status, Previous: prev, Superseded: true, ConsecutiveFailures: t.failures}
	}
	t.applied = epoch
	if t.fastCycles > 0 {
		t.fastCycles--
		if t.fastCycles == 0 && t.forced {
			t.forced = false
			t.windowSpent = true
		}
	}

	if err != nil {
		return t.applyFailure(prev, err)
	}
	return t.applyStatus(prev, resp)
}

// Must be called with t.mu held.
func (t *Tracker) applyFailure(prev types.IngestPhase, err error) PollResult {
	t.failures++
	t.collector.IncPollFailure()

	result := PollResult{
		Status:              t.status,
		Previous:            prev,
		ConsecutiveFailures: t.failures,
		Err:                 err,
	}
	if transport.IsAuth(err) {
		return result
	}

	result.Degraded = true
	t.logger.Warn("ingest status poll failed", map[string]any{
		"error":                err.Error(),
		"phase":                string(prev),
		"consecutive_failures": t.failures,
	})
	return result
}

// Must be called with t.mu held.
func (t *Tracker) applyStatus(prev types.IngestPhase, resp *transport.StatusResponse) PollResult {
	t.failures = 0
	t.status = types.IngestStatus{
		Phase:         types.PhaseFromStatus(resp.Busy, resp.Status),
		RawStatus:     resp.Status,
		Busy:          resp.Busy,
		StartedAt:     resp.StartedAt,
		LastSuccessAt: resp.LastSuccessAt,
		ObservedAt:    t.now(),
	}
	next := t.status.Phase

	result := PollResult{Status: t.status, Previous: prev}
	if next == prev {
		return result
	}

	t.collector.IncPhaseChange()
	t.logger.Info("ingest phase changed", map[string]any{
		"from":   string(prev),
		"to":     string(next),
		"status": resp.Status,
	})

	t.windowSpent = false
	if types.IsCompletion(prev, next) {
		t.fastCycles = 0
		t.forced = false
		result.Completed = true
		t.collector.IncCompletion()
		t.logger.Info("ingest completed", map[string]any{
			"phase":  string(next),
			"status": resp.Status,
		})
	}
	return result
}

// Run polls immediately, then once per Interval, handing every result to
// onResult. It returns nil when ctx is done. Only one Run may be active.
func (t *Tracker) Run(ctx context.Context, onResult func(PollResult)) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer t.running.Store(false)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.rearm:
			timer.Reset(t.Interval())
			continue
		case <-t.kick:
			timer.Stop()
		case <-timer.C:
		}

		result := t.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if onResult != nil {
			onResult(result)
		}
		timer.Reset(t.Interval())
	}
}
