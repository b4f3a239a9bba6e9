package ui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/sirupsen/logrus"
)

const (
	sidebarWidth    = 30
	promptHeight    = 3
	minContentWidth = 20
	minViewHeight   = 3
	// lineUnits converts rendered lines into scroll distance units
	lineUnits = 20.0
)

// Engine is the part of the chat engine the terminal UI drives
type Engine interface {
	Updates() <-chan chat.View
	Notices() <-chan chat.Notice
	Send(ctx context.Context, question string) (*chat.Exchange, error)
	ListSessions(ctx context.Context) ([]chat.Session, error)
	NewChat()
	SelectSession(id string)
	DeleteSession(id string)
	RestoreLatest()
}

// Options configures the terminal UI
type Options struct {
	// MarkdownStyle is a glamour standard style name; empty detects the terminal background
	MarkdownStyle   string
	ScrollThreshold float64
	Logger          logrus.FieldLogger
}

type focusArea int

const (
	focusInput focusArea = iota
	focusSidebar
)

type (
	viewMsg     chat.View
	noticeMsg   chat.Notice
	sessionsMsg struct {
		sessions []chat.Session
		err      error
	}
	sentMsg struct {
		question string
		exchange *chat.Exchange
		err      error
	}
	exchangeDoneMsg struct {
		exchange *chat.Exchange
	}
)

type renderedMessage struct {
	content string
	width   int
	out     string
}

// Model is the bubbletea model of the chat screen
type Model struct {
	ctx    context.Context
	engine Engine
	keys   KeyMap
	styles styles
	logger logrus.FieldLogger

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	help     help.Model
	scroll   *chat.ScrollController

	markdownStyle string
	renderer      *glamour.TermRenderer
	rendered      map[string]renderedMessage

	view     chat.View
	sessions []chat.Session
	cursor   int
	focus    focusArea
	notice   *chat.Notice
	width    int
	height   int
	ready    bool
}

// NewModel creates the chat screen for engine
func NewModel(ctx context.Context, engine Engine, opts Options) *Model {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	input := textarea.New()
	input.Placeholder = "Ask a legal question..."
	input.Prompt = "› "
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.SetHeight(promptHeight)
	input.KeyMap.InsertNewline.SetEnabled(false)
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return &Model{
		ctx:           ctx,
		engine:        engine,
		keys:          DefaultKeyMap(),
		styles:        defaultStyles(),
		logger:        logger,
		viewport:      viewport.New(minContentWidth, minViewHeight),
		input:         input,
		spinner:       spin,
		help:          help.New(),
		scroll:        chat.NewScrollController(opts.ScrollThreshold),
		markdownStyle: opts.MarkdownStyle,
		rendered:      make(map[string]renderedMessage),
	}
}

// Run starts the terminal UI and blocks until the user quits or ctx is done
func Run(ctx context.Context, engine Engine, opts Options) error {
	m := NewModel(ctx, engine, opts)
	program := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		waitForView(m.engine.Updates()),
		waitForNotice(m.engine.Notices()),
		m.loadSessions(),
		m.engineCmd(m.engine.RestoreLatest),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case viewMsg:
		cmds := []tea.Cmd{waitForView(m.engine.Updates())}
		cmds = append(cmds, m.applyView(chat.View(msg))...)
		return m, tea.Batch(cmds...)

	case noticeMsg:
		n := chat.Notice(msg)
		m.notice = &n
		return m, waitForNotice(m.engine.Notices())

	case sessionsMsg:
		if msg.err != nil {
			m.logger.WithError(msg.err).Warn("session list failed")
			m.notice = &chat.Notice{Kind: chat.NoticeWarning, Message: "Could not load your conversations.", Err: msg.err}
			return m, nil
		}
		m.sessions = msg.sessions
		m.syncCursor()
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.notice = &chat.Notice{
				Kind:      chat.NoticeError,
				Message:   msg.err.Error(),
				Err:       msg.err,
				Retryable: chat.IsRetryable(msg.err),
			}
			if strings.TrimSpace(m.input.Value()) == "" {
				m.input.SetValue(msg.question)
			}
			return m, nil
		}
		return m, waitForExchange(msg.exchange)

	case exchangeDoneMsg:
		return m, m.loadSessions()

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshContent(false)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.observeScroll()
		return m, cmd

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if key.Matches(msg, m.keys.Quit) {
		return tea.Quit
	}
	if key.Matches(msg, m.keys.ToggleFocus) {
		m.toggleFocus()
		return nil
	}
	if key.Matches(msg, m.keys.PageUp, m.keys.PageDown) {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.observeScroll()
		return cmd
	}
	if key.Matches(msg, m.keys.JumpToLatest) {
		m.scroll.JumpToLatest()
		m.viewport.GotoBottom()
		return nil
	}
	if key.Matches(msg, m.keys.NewChat) {
		m.notice = nil
		return m.engineCmd(m.engine.NewChat)
	}

	if m.focus == focusSidebar {
		return m.handleSidebarKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.DeleteActive):
		if m.view.SessionID == "" {
			return nil
		}
		return m.deleteSession(m.view.SessionID)

	case key.Matches(msg, m.keys.Send):
		question := strings.TrimSpace(m.input.Value())
		if question == "" {
			return nil
		}
		m.input.Reset()
		m.notice = nil
		m.scroll.JumpToLatest()
		m.viewport.GotoBottom()
		return m.send(question)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *Model) handleSidebarKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.PrevSession):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.NextSession):
		if m.cursor < len(m.sessions)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.OpenSession):
		if m.cursor >= len(m.sessions) {
			return nil
		}
		id := m.sessions[m.cursor].ID
		m.toggleFocus()
		m.notice = nil
		return m.engineCmd(func() { m.engine.SelectSession(id) })
	case key.Matches(msg, m.keys.DeleteMarked):
		if m.cursor >= len(m.sessions) {
			return nil
		}
		return m.deleteSession(m.sessions[m.cursor].ID)
	}
	return nil
}

// deleteSession drops the session from the sidebar right away; a failed
// delete surfaces as a notice and the next reload brings it back
func (m *Model) deleteSession(id string) tea.Cmd {
	kept := m.sessions[:0:0]
	for _, s := range m.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	m.sessions = kept
	m.syncCursor()
	return m.engineCmd(func() { m.engine.DeleteSession(id) })
}

func (m *Model) toggleFocus() {
	if m.focus == focusInput {
		m.focus = focusSidebar
		m.input.Blur()
		m.syncCursor()
		return
	}
	m.focus = focusInput
	m.input.Focus()
}

// applyView renders a new engine view and decides whether the list scrolls
func (m *Model) applyView(v chat.View) []tea.Cmd {
	prev := m.view
	m.view = v

	var cmds []tea.Cmd
	if v.SessionID != prev.SessionID || (isBusy(prev.Phase) && !isBusy(v.Phase)) {
		cmds = append(cmds, m.loadSessions())
	}
	if isBusy(v.Phase) && !isBusy(prev.Phase) {
		cmds = append(cmds, m.spinner.Tick)
	}
	if v.SessionID != prev.SessionID {
		m.rendered = make(map[string]renderedMessage)
	}

	m.refreshContent(true)
	return cmds
}

// refreshContent re-renders the message list; mutation reports a change to
// the list as opposed to a redraw
func (m *Model) refreshContent(mutation bool) {
	m.viewport.SetContent(m.renderMessages())
	if mutation {
		if m.scroll.OnMutation() {
			m.viewport.GotoBottom()
		}
		return
	}
	if m.scroll.Armed() {
		m.viewport.GotoBottom()
	}
}

func (m *Model) observeScroll() {
	below := m.viewport.TotalLineCount() - m.viewport.YOffset - m.viewport.Height
	if below < 0 {
		below = 0
	}
	m.scroll.Observe(float64(below) * lineUnits)
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.ready = true

	contentWidth := width - sidebarWidth - 1
	if contentWidth < minContentWidth {
		contentWidth = minContentWidth
	}
	// status line, bordered prompt and help line
	viewHeight := height - promptHeight - 4
	if viewHeight < minViewHeight {
		viewHeight = minViewHeight
	}

	m.viewport.Width = contentWidth
	m.viewport.Height = viewHeight
	m.input.SetWidth(contentWidth - 2)
	m.help.Width = contentWidth

	m.renderer = m.newRenderer(contentWidth - 2)
	m.rendered = make(map[string]renderedMessage)
	m.refreshContent(false)
}

func (m *Model) newRenderer(width int) *glamour.TermRenderer {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if m.markdownStyle != "" {
		opts = append(opts, glamour.WithStandardStyle(m.markdownStyle))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		m.logger.WithError(err).Warn("markdown renderer unavailable, showing plain text")
		return nil
	}
	return r
}

func (m *Model) syncCursor() {
	for i, s := range m.sessions {
		if s.ID == m.view.SessionID {
			m.cursor = i
			return
		}
	}
	if m.cursor >= len(m.sessions) {
		m.cursor = len(m.sessions) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) busy() bool {
	return isBusy(m.view.Phase)
}

func isBusy(p chat.Phase) bool {
	return p == chat.PhaseSending || p == chat.PhaseStreaming
}

func (m *Model) send(question string) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		x, err := m.engine.Send(ctx, question)
		return sentMsg{question: question, exchange: x, err: err}
	}
}

func (m *Model) loadSessions() tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		sessions, err := m.engine.ListSessions(ctx)
		return sessionsMsg{sessions: sessions, err: err}
	}
}

// engineCmd runs a navigation call off the update loop; the engine answers
// through its update channel
func (m *Model) engineCmd(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return nil
	}
}

func waitForView(ch <-chan chat.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return viewMsg(v)
	}
}

func waitForNotice(ch <-chan chat.Notice) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

func waitForExchange(x *chat.Exchange) tea.Cmd {
	if x == nil {
		return nil
	}
	return func() tea.Msg {
		<-x.Done()
		return exchangeDoneMsg{exchange: x}
	}
}
