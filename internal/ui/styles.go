package ui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	sidebar        lipgloss.Style
	sidebarFocused lipgloss.Style
	sessionItem    lipgloss.Style
	sessionActive  lipgloss.Style
	sessionCursor  lipgloss.Style
	userLabel      lipgloss.Style
	assistantLabel lipgloss.Style
	userText       lipgloss.Style
	stateTag       lipgloss.Style
	unsentTag      lipgloss.Style
	thinking       lipgloss.Style
	jump           lipgloss.Style
	noticeInfo     lipgloss.Style
	noticeWarning  lipgloss.Style
	noticeError    lipgloss.Style
	help           lipgloss.Style
	promptBorder   lipgloss.Style
	empty          lipgloss.Style
}

var (
	accent  = lipgloss.AdaptiveColor{Light: "#5A3FC0", Dark: "#A78BFA"}
	muted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	success = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	warning = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	danger  = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	border  = lipgloss.AdaptiveColor{Light: "#D1D5DB", Dark: "#374151"}
)

func defaultStyles() styles {
	return styles{
		sidebar: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(border).
			Padding(0, 1),
		sidebarFocused: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(accent).
			Padding(0, 1),
		sessionItem:    lipgloss.NewStyle().Foreground(muted),
		sessionActive:  lipgloss.NewStyle().Foreground(accent).Bold(true),
		sessionCursor:  lipgloss.NewStyle().Reverse(true),
		userLabel:      lipgloss.NewStyle().Foreground(accent).Bold(true),
		assistantLabel: lipgloss.NewStyle().Foreground(success).Bold(true),
		userText:       lipgloss.NewStyle().PaddingLeft(2),
		stateTag:       lipgloss.NewStyle().Foreground(muted).Italic(true),
		unsentTag:      lipgloss.NewStyle().Foreground(danger).Italic(true),
		thinking:       lipgloss.NewStyle().Foreground(muted).PaddingLeft(2),
		jump: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#111827"}).
			Background(accent).
			Padding(0, 1),
		noticeInfo:    lipgloss.NewStyle().Foreground(muted),
		noticeWarning: lipgloss.NewStyle().Foreground(warning),
		noticeError:   lipgloss.NewStyle().Foreground(danger).Bold(true),
		help:          lipgloss.NewStyle().Foreground(muted),
		promptBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(border),
		empty: lipgloss.NewStyle().Foreground(muted).Italic(true).Padding(1, 2),
	}
}
