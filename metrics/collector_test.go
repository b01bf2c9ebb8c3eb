package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("http://api.local", "sess-001")

	c.IncPoll()
	c.IncPoll()
	c.IncPoll()
	c.IncPollFailure()
	c.IncPhaseChange()
	c.IncPhaseChange()
	c.IncCompletion()
	c.IncTrigger()
	c.IncInvalidation()
	c.IncFetchIssued()
	c.IncFetchIssued()
	c.IncFetchCoalesced()
	c.IncFetchFailure()
	c.IncStaleDropped()
	c.IncCacheHit()
	c.IncForcedRefetch()
	c.IncForcedRefetchCoalesced()
	c.IncAuthFailure()
	c.IncPublishFailure()
	c.AddValidationErrors(4)

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"PollsTotal", s.PollsTotal, 3},
		{"PollFailures", s.PollFailures, 1},
		{"PhaseChanges", s.PhaseChanges, 2},
		{"CompletionEvents", s.CompletionEvents, 1},
		{"TriggersIssued", s.TriggersIssued, 1},
		{"Invalidations", s.Invalidations, 1},
		{"FetchesIssued", s.FetchesIssued, 2},
		{"FetchesCoalesced", s.FetchesCoalesced, 1},
		{"FetchFailures", s.FetchFailures, 1},
		{"StaleResponsesDropped", s.StaleResponsesDropped, 1},
		{"CacheHits", s.CacheHits, 1},
		{"ForcedRefetches", s.ForcedRefetches, 1},
		{"ForcedRefetchesCoalesced", s.ForcedRefetchesCoalesced, 1},
		{"AuthFailures", s.AuthFailures, 1},
		{"PublishFailures", s.PublishFailures, 1},
		{"ValidationErrors", s.ValidationErrors, 4},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %d, want %d", ch.name, ch.got, ch.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("http://api.local", "sess-001")
	s := c.Snapshot()

	if s.BaseURL != "http://api.local" {
		t.Errorf("BaseURL = %q", s.BaseURL)
	}
	if s.SessionID != "sess-001" {
		t.Errorf("SessionID = %q", s.SessionID)
	}
}

func TestCollector_AddValidationErrors_IgnoresNonPositive(t *testing.T) {
	c := NewCollector("", "")
	c.AddValidationErrors(0)
	c.AddValidationErrors(-2)

	if got := c.Snapshot().ValidationErrors; got != 0 {
		t.Errorf("ValidationErrors = %d, want 0", got)
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("", "")
	c.IncPoll()

	s1 := c.Snapshot()
	c.IncPoll()
	s2 := c.Snapshot()

	if s1.PollsTotal != 1 {
		t.Errorf("earlier snapshot changed: PollsTotal = %d, want 1", s1.PollsTotal)
	}
	if s2.PollsTotal != 2 {
		t.Errorf("PollsTotal = %d, want 2", s2.PollsTotal)
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	c.IncPoll()
	c.IncPollFailure()
	c.IncPhaseChange()
	c.IncCompletion()
	c.IncTrigger()
	c.IncInvalidation()
	c.IncFetchIssued()
	c.IncFetchCoalesced()
	c.IncFetchFailure()
	c.IncStaleDropped()
	c.IncCacheHit()
	c.IncForcedRefetch()
	c.IncForcedRefetchCoalesced()
	c.IncAuthFailure()
	c.IncPublishFailure()
	c.AddValidationErrors(3)

	s := c.Snapshot()
	if s != (Snapshot{}) {
		t.Errorf("nil collector snapshot = %+v, want zero value", s)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("", "")

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range perGoroutine {
				c.IncFetchIssued()
				c.IncPoll()
				_ = c.Snapshot()
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * perGoroutine)
	if s.FetchesIssued != want {
		t.Errorf("FetchesIssued = %d, want %d", s.FetchesIssued, want)
	}
	if s.PollsTotal != want {
		t.Errorf("PollsTotal = %d, want %d", s.PollsTotal, want)
	}
}
