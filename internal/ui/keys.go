package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the chat key bindings
type KeyMap struct {
	Send         key.Binding
	NewChat      key.Binding
	DeleteActive key.Binding
	ToggleFocus  key.Binding
	PrevSession  key.Binding
	NextSession  key.Binding
	OpenSession  key.Binding
	DeleteMarked key.Binding
	PageUp       key.Binding
	PageDown     key.Binding
	JumpToLatest key.Binding
	Quit         key.Binding
}

// DefaultKeyMap returns the default bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		NewChat: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("C-n", "new chat"),
		),
		DeleteActive: key.NewBinding(
			key.WithKeys("ctrl+d"),
			key.WithHelp("C-d", "delete chat"),
		),
		ToggleFocus: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "sessions"),
		),
		PrevSession: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("up/k", "previous"),
		),
		NextSession: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("down/j", "next"),
		),
		OpenSession: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open"),
		),
		DeleteMarked: key.NewBinding(
			key.WithKeys("d", "delete"),
			key.WithHelp("d", "delete"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("PgUp", "scroll up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("PgDn", "scroll down"),
		),
		JumpToLatest: key.NewBinding(
			key.WithKeys("ctrl+g"),
			key.WithHelp("C-g", "jump to latest"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "esc"),
			key.WithHelp("C-c", "quit"),
		),
	}
}

func (k KeyMap) inputHelp() []key.Binding {
	return []key.Binding{k.Send, k.NewChat, k.DeleteActive, k.ToggleFocus, k.JumpToLatest, k.Quit}
}

func (k KeyMap) sidebarHelp() []key.Binding {
	return []key.Binding{k.PrevSession, k.NextSession, k.OpenSession, k.DeleteMarked, k.ToggleFocus, k.Quit}
}
