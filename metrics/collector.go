// Package metrics provides per-session counters for the synchronization engine.
//
// The Collector is a leaf package with no internal dependencies. Every
// increment method is nil-receiver safe so components can be built without
// a collector.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Ingest polling
	PollsTotal       int64
	PollFailures     int64
	PhaseChanges     int64
	CompletionEvents int64
	TriggersIssued   int64

	// Catalog cache
	Invalidations         int64
	FetchesIssued         int64
	FetchesCoalesced      int64
	FetchFailures         int64
	StaleResponsesDropped int64
	CacheHits             int64

	// Coordinator
	ForcedRefetches          int64
	ForcedRefetchesCoalesced int64

	// Boundaries
	AuthFailures     int64
	PublishFailures  int64
	ValidationErrors int64

	// Dimensions
	BaseURL   string
	SessionID string
}

// Collector accumulates counters for one engine session.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	pollsTotal       int64
	pollFailures     int64
	phaseChanges     int64
	completionEvents int64
	triggersIssued   int64

	invalidations         int64
	fetchesIssued         int64
	fetchesCoalesced      int64
	fetchFailures         int64
	staleResponsesDropped int64
	cacheHits             int64

	forcedRefetches          int64
	forcedRefetchesCoalesced int64

	authFailures     int64
	publishFailures  int64
	validationErrors int64

	baseURL   string
	sessionID string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(baseURL, sessionID string) *Collector {
	return &Collector{
		baseURL:   baseURL,
		sessionID: sessionID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Ingest polling ---

// IncPoll records a completed status poll, successful or not.
func (c *Collector) IncPoll() {
	if c == nil {
		return
	}
	c.add(&c.pollsTotal, 1)
}

// IncPollFailure records a poll that failed at the transport level.
func (c *Collector) IncPollFailure() {
	if c == nil {
		return
	}
	c.add(&c.pollFailures, 1)
}

// IncPhaseChange records an observed phase transition.
func (c *Collector) IncPhaseChange() {
	if c == nil {
		return
	}
	c.add(&c.phaseChanges, 1)
}

// IncCompletion records a running -> idle|error transition.
func (c *Collector) IncCompletion() {
	if c == nil {
		return
	}
	c.add(&c.completionEvents, 1)
}

// IncTrigger records an ingest trigger request.
func (c *Collector) IncTrigger() {
	if c == nil {
		return
	}
	c.add(&c.triggersIssued, 1)
}

// --- Catalog cache ---

// IncInvalidation records an invalidate-all.
func (c *Collector) IncInvalidation() {
	if c == nil {
		return
	}
	c.add(&c.invalidations, 1)
}

// IncFetchIssued records a catalog request that went to the network.
func (c *Collector) IncFetchIssued() {
	if c == nil {
		return
	}
	c.add(&c.fetchesIssued, 1)
}

// IncFetchCoalesced records a fetch that attached to a pending request.
func (c *Collector) IncFetchCoalesced() {
	if c == nil {
		return
	}
	c.add(&c.fetchesCoalesced, 1)
}

// IncFetchFailure records a catalog request that failed.
func (c *Collector) IncFetchFailure() {
	if c == nil {
		return
	}
	c.add(&c.fetchFailures, 1)
}

// IncStaleDropped records a response discarded because a newer request
// for the same key had been issued, or the cache was invalidated or closed.
func (c *Collector) IncStaleDropped() {
	if c == nil {
		return
	}
	c.add(&c.staleResponsesDropped, 1)
}

// IncCacheHit records a read served without a network call.
func (c *Collector) IncCacheHit() {
	if c == nil {
		return
	}
	c.add(&c.cacheHits, 1)
}

// --- Coordinator ---

// IncForcedRefetch records a refetch issued after a completion event.
func (c *Collector) IncForcedRefetch() {
	if c == nil {
		return
	}
	c.add(&c.forcedRefetches, 1)
}

// IncForcedRefetchCoalesced records a completion whose refetch folded into
// one already pending.
func (c *Collector) IncForcedRefetchCoalesced() {
	if c == nil {
		return
	}
	c.add(&c.forcedRefetchesCoalesced, 1)
}

// --- Boundaries ---

// IncAuthFailure records a 401 or missing credential.
func (c *Collector) IncAuthFailure() {
	if c == nil {
		return
	}
	c.add(&c.authFailures, 1)
}

// IncPublishFailure records a completion event that could not be published.
func (c *Collector) IncPublishFailure() {
	if c == nil {
		return
	}
	c.add(&c.publishFailures, 1)
}

// AddValidationErrors records fields degraded to absent during aggregation.
func (c *Collector) AddValidationErrors(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.add(&c.validationErrors, int64(n))
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		PollsTotal:       c.pollsTotal,
		PollFailures:     c.pollFailures,
		PhaseChanges:     c.phaseChanges,
		CompletionEvents: c.completionEvents,
		TriggersIssued:   c.triggersIssued,

		Invalidations:         c.invalidations,
		FetchesIssued:         c.fetchesIssued,
		FetchesCoalesced:      c.fetchesCoalesced,
		FetchFailures:         c.fetchFailures,
		StaleResponsesDropped: c.staleResponsesDropped,
		CacheHits:             c.cacheHits,

		ForcedRefetches:          c.forcedRefetches,
		ForcedRefetchesCoalesced: c.forcedRefetchesCoalesced,

		AuthFailures:     c.authFailures,
		PublishFailures:  c.publishFailures,
		ValidationErrors: c.validationErrors,

		BaseURL:   c.baseURL,
		SessionID: c.sessionID,
	}
}
