package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/catalogsync/cli/render"
	"github.com/pithecene-io/catalogsync/coordinator"
	"github.com/pithecene-io/catalogsync/metrics"
	"github.com/pithecene-io/catalogsync/transport"
	"github.com/pithecene-io/catalogsync/types"
)

// Engine is the coordinator surface the browser drives.
// *coordinator.Coordinator satisfies it.
type Engine interface {
	Current(ctx context.Context) (coordinator.ViewState, error)
	Refresh(ctx context.Context) (coordinator.ViewState, error)
	SetQuery(ctx context.Context, text string) (coordinator.ViewState, error)
	NextPage(ctx context.Context) (coordinator.ViewState, error)
	PrevPage(ctx context.Context) (coordinator.ViewState, error)
	Start(ctx context.Context) error
	View() coordinator.ViewState
	Subscribe() <-chan coordinator.Event
}

// Options configures the browser.
type Options struct {
	Display render.Display
	// Collector, when set, feeds the counters in the status bar.
	Collector *metrics.Collector
}

type (
	// viewMsg carries the outcome of one view operation.
	viewMsg struct {
		view coordinator.ViewState
		err  error
	}
	// eventMsg carries one coordinator event.
	eventMsg coordinator.Event
	// eventsClosedMsg means the coordinator was closed.
	eventsClosedMsg struct{}
	// ingestMsg carries the outcome of an ingest trigger.
	ingestMsg struct{ err error }
)

// Model is the Bubble Tea model of the catalog browser.
type Model struct {
	ctx       context.Context
	engine    Engine
	events    <-chan coordinator.Event
	display   render.Display
	collector *metrics.Collector

	view      coordinator.ViewState
	notice    string
	noticeErr bool
	searching bool

	input   textinput.Model
	spinner spinner.Model
	help    help.Model

	width    int
	quitting bool
}

// NewModel creates a browser over engine. It subscribes immediately so
// no event between construction and Init is lost.
func NewModel(ctx context.Context, engine Engine, opts Options) Model {
	input := textinput.New()
	input.Placeholder = "sku, name or brand"
	input.Prompt = "search: "
	input.CharLimit = 200

	return Model{
		ctx:       ctx,
		engine:    engine,
		events:    engine.Subscribe(),
		display:   opts.Display,
		collector: opts.Collector,
		view:      engine.View(),
		input:     input,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:      help.New(),
	}
}

// Run starts the browser and blocks until the user quits or ctx is done.
func Run(ctx context.Context, engine Engine, opts Options) error {
	p := tea.NewProgram(NewModel(ctx, engine, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent(), m.call(m.engine.Current))
}

func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) call(op func(context.Context) (coordinator.ViewState, error)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		v, err := op(ctx)
		return viewMsg{view: v, err: err}
	}
}

func (m Model) startIngest() tea.Cmd {
	ctx, engine := m.ctx, m.engine
	return func() tea.Msg {
		return ingestMsg{err: engine.Start(ctx)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case viewMsg:
		if errors.Is(msg.err, coordinator.ErrClosed) {
			m.quitting = true
			return m, tea.Quit
		}
		m.view = msg.view
		return m, nil

	case eventMsg:
		m.view = msg.View
		if msg.Kind == coordinator.EventCompletionObserved {
			m.setNotice("ingest finished, catalog refreshed", false)
		}
		return m, m.waitForEvent()

	case eventsClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case ingestMsg:
		switch {
		case msg.err == nil:
			m.setNotice("ingest started", false)
		case transport.IsAuth(msg.err):
			m.setNotice("ingest rejected: session expired", true)
		default:
			m.setNotice("ingest failed: "+msg.err.Error(), true)
		}
		return m, nil

	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateBrowse(msg)
	}

	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Submit):
		m.searching = false
		m.input.Blur()
		text := m.input.Value()
		return m, m.call(func(ctx context.Context) (coordinator.ViewState, error) {
			return m.engine.SetQuery(ctx, text)
		})
	case key.Matches(msg, keys.Cancel):
		m.searching = false
		m.input.Blur()
		m.input.SetValue(m.view.Query.Query)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, keys.Next):
		return m, m.call(m.engine.NextPage)
	case key.Matches(msg, keys.Prev):
		return m, m.call(m.engine.PrevPage)
	case key.Matches(msg, keys.Refresh):
		return m, m.call(m.engine.Refresh)
	case key.Matches(msg, keys.Ingest):
		m.setNotice("starting ingest…", false)
		return m, m.startIngest()
	case key.Matches(msg, keys.Search):
		m.searching = true
		m.input.SetValue(m.view.Query.Query)
		m.input.CursorEnd()
		return m, m.input.Focus()
	}
	return m, nil
}

func (m *Model) setNotice(s string, isErr bool) {
	m.notice = s
	m.noticeErr = isErr
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("catalogsync"))
	if q := m.view.Query.Query; q != "" {
		b.WriteString(dimStyle.Render("  q: "))
		b.WriteString(plainStyle.Render(q))
	}
	b.WriteString("\n\n")

	if m.searching {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
	}

	b.WriteString(m.renderTable())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	b.WriteString("\n")
	b.WriteString(statusBarStyle.Render(m.renderStatus()))

	bindings := keys.browseHelp()
	if m.searching {
		bindings = keys.searchHelp()
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help.ShortHelpView(bindings)))
	return b.String()
}

type column struct {
	title string
	width int
	right bool
}

var columns = []column{
	{"SKU", 14, false},
	{"NAME", 30, false},
	{"LOCATION", 18, false},
	{"PRICE", 14, true},
	{"STOCK", 7, true},
	{"UPDATED", 16, false},
}

func (m Model) renderTable() string {
	var b strings.Builder
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = c.title
	}
	b.WriteString(columnStyle.Render(formatRow(headers)))
	b.WriteString("\n")

	if m.view.Result == nil {
		if m.view.Loading {
			b.WriteString(m.spinner.View() + " loading…\n")
		}
		return b.String()
	}
	if len(m.view.Result.Items) == 0 {
		b.WriteString(dimStyle.Render("(no results)"))
		b.WriteString("\n")
		return b.String()
	}

	d := m.display
	for _, p := range m.view.Result.Items {
		if len(p.Offers) == 0 {
			b.WriteString(formatRow([]string{p.SKU, p.Name, render.Absent, render.Absent, render.Absent, render.Absent}))
			b.WriteString("\n")
			continue
		}
		for i, o := range p.Offers {
			sku, name := p.SKU, p.Name
			if i > 0 {
				sku, name = "", ""
			}
			b.WriteString(formatRow([]string{
				sku, name, o.DisplayName(), d.Money(o.Price), d.Stock(o.Stock), d.Time(o.UpdatedAt),
			}))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatRow(cells []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		s := truncate(cells[i], c.width)
		style := lipgloss.NewStyle().Width(c.width)
		if c.right {
			style = style.Align(lipgloss.Right)
		}
		out[i] = style.Render(s)
	}
	return strings.Join(out, " ")
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

func (m Model) renderFooter() string {
	var parts []string
	if r := m.view.Result; r != nil {
		parts = append(parts, fmt.Sprintf("Page %d of %d · %d products", r.Page, r.PageCount(), r.Total))
	}
	if m.view.Loading && m.view.Result != nil {
		parts = append(parts, m.spinner.View())
	}
	if m.view.Err != nil && !m.view.AuthRequired {
		parts = append(parts, failStyle.Render("fetch failed: "+m.view.Err.Error()))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderStatus() string {
	v := m.view
	parts := []string{
		dimStyle.Render("ingest ") + phaseStyle(v.Phase).Render(phaseLabel(v.Phase)),
		dimStyle.Render("last success ") + plainStyle.Render(m.display.Time(v.LastSuccessAt)),
	}
	if v.Degraded {
		parts = append(parts, runningStyle.Render("backend unreachable"))
	}
	if v.AuthRequired {
		parts = append(parts, failStyle.Render("session expired: run catalogsync login"))
	}
	if m.collector != nil {
		s := m.collector.Snapshot()
		parts = append(parts, dimStyle.Render(fmt.Sprintf("polls %d · refreshes %d · dropped %d",
			s.PollsTotal, s.ForcedRefetches, s.StaleResponsesDropped)))
	}
	if m.notice != "" {
		style := idleStyle
		if m.noticeErr {
			style = failStyle
		}
		parts = append(parts, style.Render(m.notice))
	}
	return strings.Join(parts, "  ")
}

func phaseLabel(p types.IngestPhase) string {
	if p == "" {
		return "unknown"
	}
	return string(p)
}
