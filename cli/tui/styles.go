// Package tui is the interactive catalog browser.
//
// The browser is a view over a coordinator: every key press becomes a
// coordinator call, and every coordinator event redraws from the
// ViewState it carries. The TUI holds no catalog state of its own.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/catalogsync/types"
)

var (
	brandColor  = lipgloss.Color("#7C3AED")
	idleColor   = lipgloss.Color("#10B981")
	activeColor = lipgloss.Color("#F59E0B")
	failColor   = lipgloss.Color("#EF4444")
	dimColor    = lipgloss.Color("#6B7280")
	columnColor = lipgloss.Color("#3B82F6")
)

var (
	// titleStyle renders the catalog title line.
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(brandColor)

	// columnStyle renders the product table header.
	columnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(columnColor)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	plainStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	// Phase colors.
	idleStyle = lipgloss.NewStyle().
			Foreground(idleColor)

	runningStyle = lipgloss.NewStyle().
			Foreground(activeColor)

	failStyle = lipgloss.NewStyle().
			Foreground(failColor)

	// statusBarStyle separates the status line from the table.
	statusBarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(dimColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(dimColor).
			MarginTop(1)
)

// phaseStyle colors an ingest phase: idle green, running amber, error red.
func phaseStyle(phase types.IngestPhase) lipgloss.Style {
	switch phase {
	case types.PhaseIdle:
		return idleStyle
	case types.PhaseRunning:
		return runningStyle
	case types.PhaseError:
		return failStyle
	default:
		return plainStyle
	}
}
