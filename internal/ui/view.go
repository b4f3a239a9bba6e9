package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
)

const (
	userSpeaker       = "You"
	assistantSpeaker  = "Jurist"
	emptyConversation = "Ask a legal question to start a new conversation."
	jumpLabel         = "↓ new messages (C-g)"
)

func (m *Model) View() string {
	if !m.ready {
		return ""
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		m.statusLine(),
		m.styles.promptBorder.Width(m.viewport.Width-2).Render(m.input.View()),
		m.helpLine(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), main)
}

func (m *Model) renderSidebar() string {
	style := m.styles.sidebar
	if m.focus == focusSidebar {
		style = m.styles.sidebarFocused
	}
	inner := sidebarWidth - 3

	lines := []string{m.styles.assistantLabel.Render("Conversations"), ""}
	if len(m.sessions) == 0 {
		lines = append(lines, m.styles.stateTag.Render("No conversations yet"))
	}
	for i, s := range m.sessions {
		title := truncate(s.Title, inner-2)
		if title == "" {
			title = chat.DefaultSessionTitle
		}
		marker := "  "
		if s.ID == m.view.SessionID {
			marker = "• "
		}
		line := marker + title
		switch {
		case m.focus == focusSidebar && i == m.cursor:
			line = m.styles.sessionCursor.Render(line)
		case s.ID == m.view.SessionID:
			line = m.styles.sessionActive.Render(line)
		default:
			line = m.styles.sessionItem.Render(line)
		}
		lines = append(lines, line)
	}

	return style.Width(inner).Height(m.height).Render(strings.Join(lines, "\n"))
}

func (m *Model) renderMessages() string {
	if len(m.view.Messages) == 0 {
		return m.styles.empty.Render(emptyConversation)
	}

	width := m.viewport.Width - 2
	if width < minContentWidth {
		width = minContentWidth
	}

	blocks := make([]string, 0, len(m.view.Messages))
	for _, msg := range m.view.Messages {
		blocks = append(blocks, m.renderMessage(msg, width))
	}
	return strings.Join(blocks, "\n\n")
}

func (m *Model) renderMessage(msg chat.Message, width int) string {
	var b strings.Builder
	if msg.Role == chat.RoleUser {
		b.WriteString(m.styles.userLabel.Render(userSpeaker))
	} else {
		b.WriteString(m.styles.assistantLabel.Render(assistantSpeaker))
	}
	if tag := m.stateTag(msg); tag != "" {
		b.WriteString(" ")
		b.WriteString(tag)
	}
	b.WriteString("\n")

	switch {
	case msg.Role == chat.RoleUser:
		b.WriteString(m.styles.userText.Width(width).Render(msg.Content))
	case msg.Content == "":
		b.WriteString(m.styles.thinking.Render(m.spinner.View() + " thinking"))
	default:
		b.WriteString(m.renderMarkdown(msg.Key(), msg.Content, width))
		if len(msg.Sources) > 0 {
			b.WriteString("\n")
			b.WriteString(m.renderSources(msg.Sources))
		}
	}
	return b.String()
}

func (m *Model) stateTag(msg chat.Message) string {
	switch msg.State {
	case chat.StateUnsent:
		return m.styles.unsentTag.Render("(not saved)")
	case chat.StatePendingConfirm:
		return m.styles.stateTag.Render("(saving)")
	}
	if msg.Role == chat.RoleAssistant && msg.Content == chat.FallbackPlaceholder {
		return m.styles.unsentTag.Render("(no answer)")
	}
	return ""
}

func (m *Model) renderMarkdown(id, content string, width int) string {
	if m.renderer == nil {
		return m.styles.userText.Width(width).Render(content)
	}
	if cached, ok := m.rendered[id]; ok && cached.content == content && cached.width == width {
		return cached.out
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		m.logger.WithError(err).Debug("markdown render failed")
		return m.styles.userText.Width(width).Render(content)
	}
	out = strings.Trim(out, "\n")
	m.rendered[id] = renderedMessage{content: content, width: width, out: out}
	return out
}

func (m *Model) renderSources(sources []chat.Source) string {
	lines := []string{m.styles.stateTag.Render("  Sources:")}
	for _, s := range sources {
		entry := s.Title
		if s.URL != "" {
			entry = fmt.Sprintf("%s (%s)", s.Title, s.URL)
		}
		lines = append(lines, m.styles.stateTag.Render("  - "+entry))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) statusLine() string {
	var parts []string
	if m.scroll.ShowJumpAffordance() {
		parts = append(parts, m.styles.jump.Render(jumpLabel))
	}
	if m.notice != nil {
		parts = append(parts, m.renderNotice(*m.notice))
	}
	return lipgloss.NewStyle().MaxWidth(m.viewport.Width).Render(strings.Join(parts, " "))
}

func (m *Model) renderNotice(n chat.Notice) string {
	text := n.Message
	if text == "" && n.Err != nil {
		text = n.Err.Error()
	}
	switch n.Kind {
	case chat.NoticeError:
		return m.styles.noticeError.Render(text)
	case chat.NoticeWarning:
		return m.styles.noticeWarning.Render(text)
	default:
		return m.styles.noticeInfo.Render(text)
	}
}

func (m *Model) helpLine() string {
	if m.focus == focusSidebar {
		return m.help.ShortHelpView(m.keys.sidebarHelp())
	}
	return m.help.ShortHelpView(m.keys.inputHelp())
}

// truncate shortens s to limit runes, adding an ellipsis when cut
func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}
