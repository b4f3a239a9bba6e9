package ui

import (
	"context"
	"fmt"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu       sync.Mutex
	updates  chan chat.View
	notices  chan chat.Notice
	sessions []chat.Session
	sendErr  error

	sent     []string
	selected []string
	deleted  []string
	newChats int
	restored int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		updates: make(chan chat.View, 1),
		notices: make(chan chat.Notice, 1),
	}
}

func (f *fakeEngine) Updates() <-chan chat.View   { return f.updates }
func (f *fakeEngine) Notices() <-chan chat.Notice { return f.notices }

func (f *fakeEngine) Send(_ context.Context, question string) (*chat.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, question)
	return nil, nil
}

func (f *fakeEngine) ListSessions(context.Context) ([]chat.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Session(nil), f.sessions...), nil
}

func (f *fakeEngine) NewChat() {
	f.mu.Lock()
	f.newChats++
	f.mu.Unlock()
}

func (f *fakeEngine) SelectSession(id string) {
	f.mu.Lock()
	f.selected = append(f.selected, id)
	f.mu.Unlock()
}

func (f *fakeEngine) DeleteSession(id string) {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
}

func (f *fakeEngine) RestoreLatest() {
	f.mu.Lock()
	f.restored++
	f.mu.Unlock()
}

func newTestModel(t *testing.T, width, height int) (*Model, *fakeEngine) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	fe := newFakeEngine()
	m := NewModel(context.Background(), fe, Options{MarkdownStyle: "notty", Logger: logger})
	m.Update(tea.WindowSizeMsg{Width: width, Height: height})
	return m, fe
}

func testSessions() []chat.Session {
	return []chat.Session{
		{ID: "s1", Title: "Tort basics"},
		{ID: "s2", Title: "Tenancy deposit"},
		{ID: "s3", Title: "Contract formation"},
	}
}

func confirmed(id string, role chat.Role, content string) chat.Message {
	return chat.Message{ID: id, SessionID: "s1", Role: role, Content: content, State: chat.StateConfirmed}
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestModel_RendersConversationAndSidebar(t *testing.T) {
	m, _ := newTestModel(t, 120, 40)

	m.Update(sessionsMsg{sessions: testSessions()})
	answer := confirmed("m2", chat.RoleAssistant, "Negligence requires a duty of care.")
	answer.Sources = []chat.Source{{Title: "Donoghue v Stevenson", URL: "https://example.org/donoghue"}}
	m.Update(viewMsg(chat.View{
		SessionID: "s1",
		Phase:     chat.PhaseLoaded,
		Messages: []chat.Message{
			confirmed("m1", chat.RoleUser, "What is negligence?"),
			answer,
		},
	}))

	out := m.View()
	assert.Contains(t, out, "What is negligence?")
	assert.Contains(t, out, "Negligence")
	assert.Contains(t, out, "Donoghue v Stevenson")
	assert.Contains(t, out, "Tort basics")
	assert.Contains(t, out, "Tenancy deposit")
}

func TestModel_EmptyConversation(t *testing.T) {
	m, _ := newTestModel(t, 120, 40)
	assert.Contains(t, m.View(), emptyConversation)
	assert.Contains(t, m.View(), "No conversations yet")
}

func TestModel_ShowsDeliveryStates(t *testing.T) {
	m, _ := newTestModel(t, 120, 40)

	user := chat.Message{LocalID: "local-1", Role: chat.RoleUser, Content: "Can my landlord keep the deposit?", State: chat.StateUnsent}
	placeholder := chat.Message{LocalID: "local-2", Role: chat.RoleAssistant, State: chat.StateLocalOnly}
	_, cmd := m.Update(viewMsg(chat.View{SessionID: "s1", Phase: chat.PhaseSending, Messages: []chat.Message{user, placeholder}}))
	require.NotNil(t, cmd)

	out := m.View()
	assert.Contains(t, out, "(not saved)")
	assert.Contains(t, out, "thinking")
	assert.True(t, m.busy())
}

func TestModel_SendTrimsAndClearsInput(t *testing.T) {
	m, fe := newTestModel(t, 120, 40)
	m.input.SetValue("  What is a tort?  ")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	msg := cmd()

	sent, ok := msg.(sentMsg)
	require.True(t, ok)
	assert.NoError(t, sent.err)
	assert.Equal(t, []string{"What is a tort?"}, fe.sent)
	assert.Empty(t, m.input.Value())
}

func TestModel_BlankInputIsNotSent(t *testing.T) {
	m, fe := newTestModel(t, 120, 40)
	m.input.SetValue("   ")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, fe.sent)
}

func TestModel_HardStopRestoresQuestion(t *testing.T) {
	m, fe := newTestModel(t, 120, 40)
	fe.sendErr = &chat.QuotaError{Reason: "Free plan limit reached"}
	m.input.SetValue("Is a verbal contract binding?")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m.Update(cmd())

	assert.Equal(t, "Is a verbal contract binding?", m.input.Value())
	require.NotNil(t, m.notice)
	assert.Equal(t, chat.NoticeError, m.notice.Kind)
	assert.Contains(t, m.View(), chat.UpgradePrompt)
}

func TestModel_NoticeIsDisplayed(t *testing.T) {
	m, _ := newTestModel(t, 120, 40)

	_, cmd := m.Update(noticeMsg(chat.Notice{Kind: chat.NoticeInfo, Message: "You have 3 messages left on your plan."}))
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "You have 3 messages left on your plan.")
}

func TestModel_ScrollAwayShowsJumpAffordance(t *testing.T) {
	m, _ := newTestModel(t, 100, 20)

	var messages []chat.Message
	for i := 0; i < 30; i++ {
		messages = append(messages, confirmed(fmt.Sprintf("m%d", i), chat.RoleUser, fmt.Sprintf("question %d", i)))
	}
	m.Update(viewMsg(chat.View{SessionID: "s1", Phase: chat.PhaseLoaded, Messages: messages}))
	require.True(t, m.viewport.AtBottom())
	assert.False(t, m.scroll.ShowJumpAffordance())

	m.Update(tea.KeyMsg{Type: tea.KeyPgUp})
	require.False(t, m.viewport.AtBottom())
	assert.True(t, m.scroll.ShowJumpAffordance())
	offset := m.viewport.YOffset

	messages = append(messages, confirmed("m30", chat.RoleUser, "question 30"))
	m.Update(viewMsg(chat.View{SessionID: "s1", Phase: chat.PhaseLoaded, Messages: messages}))
	assert.Equal(t, offset, m.viewport.YOffset)
	assert.Contains(t, m.View(), jumpLabel)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlG})
	assert.True(t, m.viewport.AtBottom())
	assert.False(t, m.scroll.ShowJumpAffordance())
}

func TestModel_FollowsNewMessagesAtBottom(t *testing.T) {
	m, _ := newTestModel(t, 100, 20)

	var messages []chat.Message
	for i := 0; i < 30; i++ {
		messages = append(messages, confirmed(fmt.Sprintf("m%d", i), chat.RoleUser, fmt.Sprintf("question %d", i)))
		m.Update(viewMsg(chat.View{SessionID: "s1", Phase: chat.PhaseLoaded, Messages: messages}))
	}
	assert.True(t, m.viewport.AtBottom())
	assert.False(t, m.scroll.ShowJumpAffordance())
}

func TestModel_NewChat(t *testing.T) {
	m, fe := newTestModel(t, 120, 40)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlN})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 1, fe.newChats)
}

func TestModel_DeleteActiveSession(t *testing.T) {
	m, fe := newTestModel(t, 120, 40)
	m.Update(sessionsMsg{sessions: testSessions()})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	assert.Nil(t, cmd, "nothing to delete without an active session")

	m.Update(viewMsg(chat.View{SessionID: "s2", Phase: chat.PhaseLoaded}))
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlD})
	require.NotNil(t, cmd)
	cmd()

	assert.Equal(t, []string{"s2"}, fe.deleted)
	assert.Len(t, m.sessions, 2)
}

func TestModel_SidebarNavigation(t *testing.T) {
	m, fe := newTestModel(t, 120, 40)
	m.Update(sessionsMsg{sessions: testSessions()})
	m.Update(viewMsg(chat.View{SessionID: "s1", Phase: chat.PhaseLoaded}))

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusSidebar, m.focus)
	assert.Equal(t, 0, m.cursor)

	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m.Update(runeKey('j'))
	m.Update(runeKey('j'))
	assert.Equal(t, 2, m.cursor)
	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m.cursor)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{"s2"}, fe.selected)
	assert.Equal(t, focusInput, m.focus)
}

func TestModel_SidebarDelete(t *testing.T) {
	m, fe := newTestModel(t, 120, 40)
	m.Update(sessionsMsg{sessions: testSessions()})

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	_, cmd := m.Update(runeKey('d'))
	require.NotNil(t, cmd)
	cmd()

	assert.Equal(t, []string{"s3"}, fe.deleted)
	require.Len(t, m.sessions, 2)
	assert.Equal(t, 1, m.cursor)
}

func TestModel_InitRestoresLatest(t *testing.T) {
	m, fe := newTestModel(t, 120, 40)
	fe.sessions = testSessions()

	restore := m.engineCmd(m.engine.RestoreLatest)
	restore()
	assert.Equal(t, 1, fe.restored)

	msg := m.loadSessions()()
	m.Update(msg)
	assert.Len(t, m.sessions, 3)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "", truncate("abc", 0))
}
