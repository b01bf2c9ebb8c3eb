package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"github.com/pithecene-io/catalogsync/cli/render"
	"github.com/pithecene-io/catalogsync/coordinator"
	"github.com/pithecene-io/catalogsync/metrics"
	"github.com/pithecene-io/catalogsync/query"
	"github.com/pithecene-io/catalogsync/transport"
	"github.com/pithecene-io/catalogsync/types"
)

type fakeEngine struct {
	mu       sync.Mutex
	calls    []string
	view     coordinator.ViewState
	startErr error
	events   chan coordinator.Event
}

func newFakeEngine() *fakeEngine {
	price := decimal.RequireFromString("1500")
	name := "Central"
	return &fakeEngine{
		events: make(chan coordinator.Event, 4),
		view: coordinator.ViewState{
			Query: query.State{Page: 1, PageSize: 2},
			Phase: types.PhaseIdle,
			Result: &types.CatalogPage{
				Page: 1, PageSize: 2, Total: 3,
				Items: []types.Product{
					{SKU: "ORT-001", Name: "Knee brace", Offers: []types.Offer{{LocationID: "1", LocationName: &name, Price: &price}}},
				},
			},
		},
	}
}

func (f *fakeEngine) record(call string) coordinator.ViewState {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.view
}

func (f *fakeEngine) Current(context.Context) (coordinator.ViewState, error) {
	return f.record("current"), nil
}

func (f *fakeEngine) Refresh(context.Context) (coordinator.ViewState, error) {
	return f.record("refresh"), nil
}

func (f *fakeEngine) SetQuery(_ context.Context, text string) (coordinator.ViewState, error) {
	v := f.record("query:" + text)
	v.Query.Query = text
	return v, nil
}

func (f *fakeEngine) NextPage(context.Context) (coordinator.ViewState, error) {
	return f.record("next"), nil
}

func (f *fakeEngine) PrevPage(context.Context) (coordinator.ViewState, error) {
	return f.record("prev"), nil
}

func (f *fakeEngine) Start(context.Context) error {
	f.record("start")
	return f.startErr
}

func (f *fakeEngine) View() coordinator.ViewState { return f.view }

func (f *fakeEngine) Subscribe() <-chan coordinator.Event { return f.events }

func (f *fakeEngine) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press feeds msg to m and then feeds back the message produced by the
// returned command, when it is one the model handles synchronously.
func press(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil {
		return m
	}
	switch out := cmd().(type) {
	case viewMsg, ingestMsg:
		next, _ = m.Update(out)
		m = next.(Model)
	}
	return m
}

func newTestModel(t *testing.T, e *fakeEngine) Model {
	t.Helper()
	return NewModel(t.Context(), e, Options{Display: render.Display{Currency: "₡", Location: time.UTC}})
}

func TestNavigationKeys(t *testing.T) {
	e := newFakeEngine()
	m := newTestModel(t, e)

	m = press(t, m, runes("n"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyLeft})
	m = press(t, m, runes("r"))
	press(t, m, runes("z"))

	got := strings.Join(e.recorded(), ",")
	if got != "next,prev,refresh" {
		t.Errorf("calls = %s", got)
	}
}

func TestSearch_SubmitSetsQuery(t *testing.T) {
	e := newFakeEngine()
	m := newTestModel(t, e)

	next, _ := m.Update(runes("/"))
	m = next.(Model)
	if !m.searching {
		t.Fatal("slash should open the search input")
	}
	next, _ = m.Update(runes("knee"))
	m = next.(Model)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if m.searching {
		t.Error("enter should close the search input")
	}
	if calls := e.recorded(); len(calls) != 1 || calls[0] != "query:knee" {
		t.Errorf("calls = %v", calls)
	}
	if m.view.Query.Query != "knee" {
		t.Errorf("view query = %q", m.view.Query.Query)
	}
}

func TestSearch_KeysAreTextWhileSearching(t *testing.T) {
	e := newFakeEngine()
	m := newTestModel(t, e)

	next, _ := m.Update(runes("/"))
	m = next.(Model)
	next, _ = m.Update(runes("q"))
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)

	if m.quitting || m.searching {
		t.Errorf("quitting=%v searching=%v", m.quitting, m.searching)
	}
	if len(e.recorded()) != 0 {
		t.Errorf("cancelled search must not reach the engine: %v", e.recorded())
	}
}

func TestIngestKey(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		notice  string
		isError bool
	}{
		{"started", nil, "ingest started", false},
		{"auth", &transport.Error{Kind: transport.ErrAuth, Op: "trigger ingest"}, "session expired", true},
		{"failure", errors.New("boom"), "ingest failed: boom", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newFakeEngine()
			e.startErr = tt.err
			m := press(t, newTestModel(t, e), runes("i"))

			if !strings.Contains(m.notice, tt.notice) || m.noticeErr != tt.isError {
				t.Errorf("notice = %q (err=%v)", m.notice, m.noticeErr)
			}
			if calls := e.recorded(); len(calls) != 1 || calls[0] != "start" {
				t.Errorf("calls = %v", calls)
			}
		})
	}
}

func TestEvents_UpdateViewAndResubscribe(t *testing.T) {
	e := newFakeEngine()
	m := newTestModel(t, e)

	v := e.view
	v.Phase = types.PhaseRunning
	v.Degraded = true
	next, cmd := m.Update(eventMsg(coordinator.Event{Kind: coordinator.EventConnectivityDegraded, View: v}))
	m = next.(Model)
	if m.view.Phase != types.PhaseRunning || !m.view.Degraded {
		t.Errorf("view not applied: %+v", m.view)
	}
	if cmd == nil {
		t.Fatal("event handling must wait for the next event")
	}

	e.events <- coordinator.Event{Kind: coordinator.EventCompletionObserved, View: e.view}
	next, _ = m.Update(cmd())
	m = next.(Model)
	if !strings.Contains(m.notice, "refreshed") {
		t.Errorf("notice = %q", m.notice)
	}

	close(e.events)
	_, cmd = m.Update(m.waitForEvent()())
	if cmd == nil {
		t.Fatal("closed events should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected quit")
	}
}

func TestViewMsg_ClosedQuits(t *testing.T) {
	m := newTestModel(t, newFakeEngine())
	next, cmd := m.Update(viewMsg{err: coordinator.ErrClosed})
	if !next.(Model).quitting || cmd == nil {
		t.Error("ErrClosed should quit the browser")
	}
}

func TestView_Render(t *testing.T) {
	e := newFakeEngine()
	e.view.Degraded = true
	e.view.AuthRequired = true
	m := NewModel(t.Context(), e, Options{
		Display:   render.Display{Currency: "₡"},
		Collector: metrics.NewCollector("http://api.local", "sess-1"),
	})

	out := m.View()
	for _, want := range []string{
		"ORT-001", "Central", "₡1,500.00",
		"Page 1 of 2 · 3 products",
		"backend unreachable",
		"session expired",
		"polls 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Rodillera ortopédica", 10); got != "Rodillera…" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}
