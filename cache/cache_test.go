package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/catalogsync/metrics"
	"github.com/pithecene-io/catalogsync/transport"
	"github.com/pithecene-io/catalogsync/types"
)

// scriptedFetcher parks every request until the test replies to it.
type scriptedFetcher struct {
	calls chan *pendingCall
	count atomic.Int32
}

type pendingCall struct {
	key   types.QueryKey
	reply chan fetchReply
}

type fetchReply struct {
	page *transport.RawPage
	err  error
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{calls: make(chan *pendingCall, 16)}
}

func (f *scriptedFetcher) ListProducts(_ context.Context, key types.QueryKey) (*transport.RawPage, error) {
	f.count.Add(1)
	c := &pendingCall{key: key, reply: make(chan fetchReply, 1)}
	f.calls <- c
	r := <-c.reply
	return r.page, r.err
}

func (f *scriptedFetcher) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch")
		return nil
	}
}

func (f *scriptedFetcher) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected fetch for %s", c.key)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *pendingCall) succeed(total int, skus ...string) {
	items := make([]map[string]any, 0, len(skus))
	for _, sku := range skus {
		items = append(items, map[string]any{"sku": sku, "store_id": json.Number("1"), "price": json.Number("10")})
	}
	c.reply <- fetchReply{page: &transport.RawPage{Items: items, Page: c.key.Page, PageSize: c.key.PageSize, Total: total}}
}

func (c *pendingCall) fail(err error) {
	c.reply <- fetchReply{err: err}
}

type fetchResult struct {
	page types.CatalogPage
	err  error
}

func async(fn func() (types.CatalogPage, error)) <-chan fetchResult {
	ch := make(chan fetchResult, 1)
	go func() {
		page, err := fn()
		ch <- fetchResult{page, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan fetchResult) fetchResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return fetchResult{}
	}
}

var keyA = types.QueryKey{Page: 1, PageSize: 10, Query: "brace"}

func TestFetch_MissThenHit(t *testing.T) {
	f := newScriptedFetcher()
	m := metrics.NewCollector("", "")
	fixed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New(f, WithCollector(m), WithClock(func() time.Time { return fixed }))

	if _, ok := c.Get(keyA); ok {
		t.Fatal("expected miss on empty cache")
	}

	res := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	f.next(t).succeed(12, "A", "B")
	r := await(t, res)
	if r.err != nil {
		t.Fatalf("Fetch: %v", r.err)
	}
	if len(r.page.Items) != 2 || r.page.Total != 12 {
		t.Errorf("page = %+v", r.page)
	}

	page, err := c.Fetch(t.Context(), keyA)
	if err != nil || page.Total != 12 {
		t.Fatalf("second Fetch = (%+v, %v)", page, err)
	}
	if f.count.Load() != 1 {
		t.Errorf("transport calls = %d, want 1", f.count.Load())
	}

	e, ok := c.Entry(keyA)
	if !ok || !e.FetchedAt.Equal(fixed) || e.Seq != 1 {
		t.Errorf("Entry = %+v, %v", e, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	snap := m.Snapshot()
	if snap.FetchesIssued != 1 || snap.CacheHits != 1 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestFetch_CoalescesConcurrentRequests(t *testing.T) {
	f := newScriptedFetcher()
	m := metrics.NewCollector("", "")
	c := New(f, WithCollector(m))

	first := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	call := f.next(t)

	second := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	f.assertNoCall(t)

	call.succeed(3, "A", "B", "C")

	r1, r2 := await(t, first), await(t, second)
	if r1.err != nil || r2.err != nil {
		t.Fatalf("errors = %v, %v", r1.err, r2.err)
	}
	if len(r1.page.Items) != 3 || len(r2.page.Items) != 3 {
		t.Errorf("both callers should see the same page, got %d and %d items", len(r1.page.Items), len(r2.page.Items))
	}
	if f.count.Load() != 1 {
		t.Errorf("transport calls = %d, want 1", f.count.Load())
	}
	if got := m.Snapshot().FetchesCoalesced; got != 1 {
		t.Errorf("FetchesCoalesced = %d, want 1", got)
	}
}

func TestFetch_DistinctKeysDoNotCoalesce(t *testing.T) {
	f := newScriptedFetcher()
	c := New(f)

	keyB := types.QueryKey{Page: 2, PageSize: 10, Query: "brace"}
	ra := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	rb := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyB) })

	for range 2 {
		call := f.next(t)
		call.succeed(20, "X")
	}
	if r := await(t, ra); r.err != nil {
		t.Fatal(r.err)
	}
	if r := await(t, rb); r.err != nil {
		t.Fatal(r.err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

// Fetches A then B for the same key; B resolves first. The cache must end
// with B's result after A arrives.
func TestFetch_StaleResponseRejected(t *testing.T) {
	f := newScriptedFetcher()
	m := metrics.NewCollector("", "")
	c := New(f, WithCollector(m))

	resA := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	callA := f.next(t)

	resB := async(func() (types.CatalogPage, error) { return c.Refetch(t.Context(), keyA) })
	callB := f.next(t)

	callB.succeed(2, "B1", "B2")
	if r := await(t, resB); r.err != nil || r.page.Total != 2 {
		t.Fatalf("B = %+v", r)
	}

	callA.succeed(1, "A1")
	rA := await(t, resA)
	if rA.err != nil {
		t.Fatalf("A: %v", rA.err)
	}
	if rA.page.Total != 2 {
		t.Errorf("late caller should receive the fresher page, got total %d", rA.page.Total)
	}

	page, ok := c.Get(keyA)
	if !ok || page.Total != 2 || page.Items[0].SKU != "B1" {
		t.Errorf("cache holds %+v, want B's result", page)
	}
	if e, _ := c.Entry(keyA); e.Seq != 2 {
		t.Errorf("entry seq = %d, want 2", e.Seq)
	}
	if got := m.Snapshot().StaleResponsesDropped; got != 1 {
		t.Errorf("StaleResponsesDropped = %d, want 1", got)
	}
}

func TestFetch_InOrderResponsesApply(t *testing.T) {
	f := newScriptedFetcher()
	c := New(f)

	resA := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	callA := f.next(t)
	resB := async(func() (types.CatalogPage, error) { return c.Refetch(t.Context(), keyA) })
	callB := f.next(t)

	callA.succeed(1, "A1")
	await(t, resA)
	callB.succeed(2, "B1", "B2")
	await(t, resB)

	if page, _ := c.Get(keyA); page.Total != 2 {
		t.Errorf("cache total = %d, want 2 from the later request", page.Total)
	}
}

func TestFetch_FailureKeepsLastGood(t *testing.T) {
	f := newScriptedFetcher()
	m := metrics.NewCollector("", "")
	c := New(f, WithCollector(m))

	res := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	f.next(t).succeed(5, "A")
	await(t, res)

	boom := &transport.Error{Kind: transport.ErrTransport, Op: "list_products", Err: errors.New("connection refused")}
	res = async(func() (types.CatalogPage, error) { return c.Refetch(t.Context(), keyA) })
	f.next(t).fail(boom)

	r := await(t, res)
	if !errors.Is(r.err, transport.ErrTransport) {
		t.Fatalf("expected transport error, got %v", r.err)
	}

	page, ok := c.Get(keyA)
	if !ok || page.Total != 5 {
		t.Errorf("last-known-good lost: %+v, %v", page, ok)
	}
	if got := m.Snapshot().FetchFailures; got != 1 {
		t.Errorf("FetchFailures = %d, want 1", got)
	}
}

func TestFetch_FailureOnMissWritesNothing(t *testing.T) {
	f := newScriptedFetcher()
	c := New(f)

	res := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	f.next(t).fail(&transport.Error{Kind: transport.ErrProtocol, Op: "list_products", Err: errors.New("missing items")})

	if r := await(t, res); !errors.Is(r.err, transport.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", r.err)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestInvalidateAll(t *testing.T) {
	f := newScriptedFetcher()
	m := metrics.NewCollector("", "")
	c := New(f, WithCollector(m))

	res := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	f.next(t).succeed(5, "A")
	await(t, res)

	c.InvalidateAll()
	if c.Len() != 0 {
		t.Errorf("Len() = %d after invalidate", c.Len())
	}
	if _, ok := c.Get(keyA); ok {
		t.Error("expected miss after invalidate")
	}

	res = async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	f.next(t).succeed(6, "A", "B")
	if r := await(t, res); r.err != nil || r.page.Total != 6 {
		t.Errorf("refetch after invalidate = %+v", r)
	}
	if got := m.Snapshot().Invalidations; got != 1 {
		t.Errorf("Invalidations = %d, want 1", got)
	}
}

func TestInvalidateAll_DiscardsInFlight(t *testing.T) {
	f := newScriptedFetcher()
	c := New(f)

	resOld := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	callOld := f.next(t)

	c.InvalidateAll()

	// A fetch after the invalidation must not attach to the older request.
	resNew := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	callNew := f.next(t)

	callNew.succeed(9, "N")
	if r := await(t, resNew); r.err != nil || r.page.Total != 9 {
		t.Fatalf("new = %+v", r)
	}

	callOld.succeed(1, "O")
	rOld := await(t, resOld)
	if rOld.err != nil || rOld.page.Total != 9 {
		t.Errorf("old caller = %+v, want the post-invalidation page", rOld)
	}
	if page, _ := c.Get(keyA); page.Total != 9 {
		t.Errorf("cache total = %d, want 9", page.Total)
	}
}

func TestInvalidateAll_StaleWithoutReplacement(t *testing.T) {
	f := newScriptedFetcher()
	c := New(f)

	res := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	call := f.next(t)
	c.InvalidateAll()
	call.succeed(1, "O")

	if r := await(t, res); !errors.Is(r.err, ErrStale) {
		t.Fatalf("expected ErrStale, got %+v", r)
	}
	if c.Len() != 0 {
		t.Errorf("stale response was stored")
	}
}

func TestClose_DropsInFlight(t *testing.T) {
	f := newScriptedFetcher()
	c := New(f)

	res := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	call := f.next(t)

	c.Close()
	if r := await(t, res); !errors.Is(r.err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", r.err)
	}

	call.succeed(1, "A")
	time.Sleep(20 * time.Millisecond)
	if c.Len() != 0 {
		t.Errorf("closed cache stored a result")
	}

	if _, err := c.Fetch(t.Context(), keyA); !errors.Is(err, ErrClosed) {
		t.Errorf("Fetch after Close = %v", err)
	}
	if _, err := c.Refetch(t.Context(), keyA); !errors.Is(err, ErrClosed) {
		t.Errorf("Refetch after Close = %v", err)
	}
	c.Close()
}

func TestFetch_CallerCancelLeavesFetchRunning(t *testing.T) {
	f := newScriptedFetcher()
	c := New(f)

	ctx, cancel := context.WithCancel(t.Context())
	res := async(func() (types.CatalogPage, error) { return c.Fetch(ctx, keyA) })
	call := f.next(t)

	cancel()
	if r := await(t, res); !errors.Is(r.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", r.err)
	}

	call.succeed(4, "A")
	deadline := time.Now().Add(2 * time.Second)
	for c.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("detached fetch never populated the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFetch_AggregatesAndCountsValidation(t *testing.T) {
	f := newScriptedFetcher()
	m := metrics.NewCollector("", "")
	c := New(f, WithCollector(m))

	res := async(func() (types.CatalogPage, error) { return c.Fetch(t.Context(), keyA) })
	call := f.next(t)
	call.reply <- fetchReply{page: &transport.RawPage{
		Items: []map[string]any{
			{"sku": "X", "store_id": json.Number("1"), "precio": json.Number("100")},
			{"sku": "X", "store_id": json.Number("2"), "precio": "1,000"},
		},
		Page: 1, PageSize: 10, Total: 1,
	}}

	r := await(t, res)
	if r.err != nil {
		t.Fatal(r.err)
	}
	if len(r.page.Items) != 1 || len(r.page.Items[0].Offers) != 2 {
		t.Fatalf("page = %+v", r.page)
	}
	if r.page.Items[0].Offers[1].Price != nil {
		t.Error("malformed price should be absent")
	}
	if got := m.Snapshot().ValidationErrors; got != 1 {
		t.Errorf("ValidationErrors = %d, want 1", got)
	}
}
