package chat

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Phase is the reconciler's view of the active conversation
type Phase int

const (
	// PhaseEmpty means no history is loaded
	PhaseEmpty Phase = iota
	// PhaseLoaded means history is loaded and nothing is outstanding
	PhaseLoaded
	// PhaseSending means an optimistic user message and an empty assistant placeholder exist
	PhaseSending
	// PhaseStreaming means the assistant placeholder is receiving content
	PhaseStreaming
)

func (p Phase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhaseLoaded:
		return "loaded"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

type pendingExchange struct {
	userLocalID      string
	assistantLocalID string
}

// Reconciler merges optimistic inserts, streamed content, store confirmations
// and push echoes into one ordered, duplicate-free message list.
//
// It is not safe for concurrent use; the engine loop is its only caller.
type Reconciler struct {
	sessionID string
	phase     Phase
	messages  []*Message
	byLocal   map[string]*Message
	byID      map[string]*Message
	exchange  *pendingExchange

	now   func() time.Time
	newID func() string
}

// NewReconciler creates an empty reconciler
func NewReconciler() *Reconciler {
	return &Reconciler{
		byLocal: make(map[string]*Message),
		byID:    make(map[string]*Message),
		now:     time.Now,
		newID:   func() string { return "local-" + uuid.New().String() },
	}
}

// SessionID returns the session the list belongs to, empty when none is active
func (r *Reconciler) SessionID() string {
	return r.sessionID
}

// Phase returns the current phase
func (r *Reconciler) Phase() Phase {
	return r.phase
}

// Reset clears everything and forgets the active session
func (r *Reconciler) Reset() {
	r.sessionID = ""
	r.phase = PhaseEmpty
	r.messages = nil
	r.byLocal = make(map[string]*Message)
	r.byID = make(map[string]*Message)
	r.exchange = nil
}

// Activate clears the list and binds it to sessionID without loading history
func (r *Reconciler) Activate(sessionID string) {
	r.Reset()
	r.sessionID = sessionID
}

// Attach binds a session to a list that has none yet, keeping its content.
// Used when a session is created lazily by the first send.
func (r *Reconciler) Attach(sessionID string) {
	r.sessionID = sessionID
	for _, m := range r.messages {
		m.SessionID = sessionID
	}
}

// Load installs persisted history for sessionID. Entries already in the list
// for the same session (optimistic sends, early echoes) are kept after the
// history unless the history already contains them.
func (r *Reconciler) Load(sessionID string, history []Message) {
	var (
		tail     []*Message
		exchange *pendingExchange
		phase    = PhaseLoaded
	)
	if sessionID == r.sessionID {
		tail = r.messages
		exchange = r.exchange
		if exchange != nil {
			phase = r.phase
		}
	}
	r.Activate(sessionID)

	sorted := make([]Message, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	for _, h := range sorted {
		if h.ID == "" {
			continue
		}
		if _, dup := r.byID[h.ID]; dup {
			continue
		}
		m := h
		m.SessionID = sessionID
		m.LocalID = h.ID
		m.State = StateConfirmed
		m.PersistedAt = h.CreatedAt
		r.insertTail(&m)
	}

	for _, m := range tail {
		if m.ID != "" {
			if _, dup := r.byID[m.ID]; dup {
				continue
			}
		}
		r.insertTail(m)
	}

	r.exchange = exchange
	r.phase = phase
}

// BeginExchange appends an optimistic user message followed by an empty
// assistant placeholder.
func (r *Reconciler) BeginExchange(question string) (Message, Message, error) {
	if r.phase == PhaseSending || r.phase == PhaseStreaming {
		return Message{}, Message{}, ErrExchangeInFlight
	}

	now := r.now()
	user := &Message{
		LocalID:   r.newID(),
		SessionID: r.sessionID,
		Role:      RoleUser,
		Content:   question,
		CreatedAt: now,
		State:     StateLocalOnly,
	}
	assistant := &Message{
		LocalID:   r.newID(),
		SessionID: r.sessionID,
		Role:      RoleAssistant,
		CreatedAt: now,
		State:     StateLocalOnly,
	}
	r.insertTail(user)
	r.insertTail(assistant)

	r.exchange = &pendingExchange{userLocalID: user.LocalID, assistantLocalID: assistant.LocalID}
	r.phase = PhaseSending
	return *user, *assistant, nil
}

// MarkPending records that an append for localID has been issued
func (r *Reconciler) MarkPending(localID string) bool {
	return r.advance(localID, StatePendingConfirm)
}

// MarkUnsent records that the append for localID failed. The content stays.
func (r *Reconciler) MarkUnsent(localID string) bool {
	return r.advance(localID, StateUnsent)
}

// ConfirmLocal attaches the durable id to the optimistic entry localID
func (r *Reconciler) ConfirmLocal(localID string, p Persisted) bool {
	m, ok := r.byLocal[localID]
	if !ok || p.ID == "" {
		return false
	}

	if m.ID == p.ID {
		m.State = StateConfirmed
		return false
	}

	if m.ID != "" {
		// an echo with identical content from another writer was adopted
		// into this entry; give that row its own entry
		adopted := *m
		adopted.LocalID = adopted.ID
		m.ID = ""
		delete(r.byID, adopted.ID)
		r.insertTail(&adopted)
	}

	if dup, exists := r.byID[p.ID]; exists && dup != m {
		// the push echo won the race and was appended on its own
		r.remove(dup)
	}

	m.ID = p.ID
	m.State = StateConfirmed
	if !p.CreatedAt.IsZero() {
		m.PersistedAt = p.CreatedAt
		m.CreatedAt = p.CreatedAt
	}
	r.byID[p.ID] = m
	r.normalize()
	return true
}

// ApplyContent replaces the content of the placeholder localID.
// It reports false when the placeholder is no longer part of the list.
func (r *Reconciler) ApplyContent(localID, content string) bool {
	m, ok := r.byLocal[localID]
	if !ok {
		return false
	}
	m.Content = content
	if r.phase == PhaseSending && r.exchange != nil && r.exchange.assistantLocalID == localID {
		r.phase = PhaseStreaming
	}
	return true
}

// SetSources replaces the citations of localID
func (r *Reconciler) SetSources(localID string, sources []Source) bool {
	m, ok := r.byLocal[localID]
	if !ok {
		return false
	}
	m.Sources = append([]Source(nil), sources...)
	return true
}

// CompleteExchange ends the exchange whose assistant placeholder is assistantLocalID
func (r *Reconciler) CompleteExchange(assistantLocalID string) bool {
	if r.exchange == nil || r.exchange.assistantLocalID != assistantLocalID {
		return false
	}
	r.exchange = nil
	r.phase = PhaseLoaded
	return true
}

// ApplyEcho merges a row-inserted event from the push channel.
// It reports whether the list changed.
func (r *Reconciler) ApplyEcho(echo Message) bool {
	if echo.ID == "" || r.sessionID == "" || echo.SessionID != r.sessionID {
		return false
	}
	if _, exists := r.byID[echo.ID]; exists {
		return false
	}

	if m := r.findAdoptable(echo); m != nil {
		m.ID = echo.ID
		m.State = StateConfirmed
		if !echo.CreatedAt.IsZero() {
			m.PersistedAt = echo.CreatedAt
			m.CreatedAt = echo.CreatedAt
		}
		if len(echo.Sources) > 0 && len(m.Sources) == 0 {
			m.Sources = append([]Source(nil), echo.Sources...)
		}
		r.byID[echo.ID] = m
		r.normalize()
		return true
	}

	m := echo
	m.LocalID = echo.ID
	m.State = StateConfirmed
	m.PersistedAt = echo.CreatedAt
	r.insertTail(&m)
	if r.phase == PhaseEmpty {
		r.phase = PhaseLoaded
	}
	return true
}

// Merge applies persisted rows of the active session as if each had been
// echoed, oldest first. Rows already in the list are skipped and outstanding
// local entries adopt their rows. It reports whether the list changed.
func (r *Reconciler) Merge(history []Message) bool {
	sorted := make([]Message, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	changed := false
	for _, h := range sorted {
		if h.SessionID == "" {
			h.SessionID = r.sessionID
		}
		if r.ApplyEcho(h) {
			changed = true
		}
	}
	return changed
}

// Snapshot returns a copy of the ordered message list
func (r *Reconciler) Snapshot() []Message {
	out := make([]Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = *m
		out[i].Sources = append([]Source(nil), m.Sources...)
	}
	return out
}

// Len returns the number of messages in the list
func (r *Reconciler) Len() int {
	return len(r.messages)
}

// findAdoptable returns the oldest outstanding local entry an echo can stand for
func (r *Reconciler) findAdoptable(echo Message) *Message {
	for _, m := range r.messages {
		if m.ID != "" || m.Role != echo.Role || m.Content != echo.Content {
			continue
		}
		if m.State == StatePendingConfirm || m.State == StateUnsent {
			return m
		}
	}
	return nil
}

func (r *Reconciler) advance(localID string, next DeliveryState) bool {
	m, ok := r.byLocal[localID]
	if !ok || !m.State.canAdvance(next) {
		return false
	}
	m.State = next
	return true
}

func (r *Reconciler) insertTail(m *Message) {
	m.DisplayAt = m.CreatedAt
	if n := len(r.messages); n > 0 {
		if last := r.messages[n-1]; m.DisplayAt.Before(last.DisplayAt) {
			m.DisplayAt = last.DisplayAt
		}
	}
	r.messages = append(r.messages, m)
	r.byLocal[m.LocalID] = m
	if m.ID != "" {
		r.byID[m.ID] = m
	}
}

func (r *Reconciler) remove(target *Message) {
	for i, m := range r.messages {
		if m == target {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			break
		}
	}
	delete(r.byLocal, target.LocalID)
	if target.ID != "" && r.byID[target.ID] == target {
		delete(r.byID, target.ID)
	}
}

// normalize recomputes display times from CreatedAt, keeping them
// non-decreasing without reordering entries
func (r *Reconciler) normalize() {
	for i, m := range r.messages {
		m.DisplayAt = m.CreatedAt
		if i > 0 && m.DisplayAt.Before(r.messages[i-1].DisplayAt) {
			m.DisplayAt = r.messages[i-1].DisplayAt
		}
	}
}
