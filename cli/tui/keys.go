package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines key bindings.
type keyMap struct {
	Quit    key.Binding
	Next    key.Binding
	Prev    key.Binding
	Refresh key.Binding
	Ingest  key.Binding
	Search  key.Binding
	Submit  key.Binding
	Cancel  key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Next: key.NewBinding(
		key.WithKeys("n", "right", "pgdown"),
		key.WithHelp("n/→", "next page"),
	),
	Prev: key.NewBinding(
		key.WithKeys("p", "left", "pgup"),
		key.WithHelp("p/←", "prev page"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Ingest: key.NewBinding(
		key.WithKeys("i"),
		key.WithHelp("i", "run ingest"),
	),
	Search: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "search"),
	),
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "apply"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "cancel"),
	),
}

func (k keyMap) browseHelp() []key.Binding {
	return []key.Binding{k.Search, k.Prev, k.Next, k.Refresh, k.Ingest, k.Quit}
}

func (k keyMap) searchHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Cancel}
}
