package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultLowWaterMark is the remaining allowance under which an informational notice is shown
	DefaultLowWaterMark = 10
	// DefaultPointsPerMessage is the usage recorded for one completed exchange
	DefaultPointsPerMessage = 1
	// DefaultResubscribeMin is the first delay before reopening a lost push channel
	DefaultResubscribeMin = 500 * time.Millisecond
	// DefaultResubscribeMax caps the doubling resubscribe delay
	DefaultResubscribeMax = 30 * time.Second
)

// Config holds the engine settings
type Config struct {
	UserID           string
	LowWaterMark     int
	PointsPerMessage int
	ResubscribeMin   time.Duration
	ResubscribeMax   time.Duration
}

// Deps are the collaborators the engine talks to
type Deps struct {
	Sessions  SessionStore
	Messages  MessageLog
	Usage     UsageGate
	Assistant Asker
	// Realtime is optional; without it no push echoes are received
	Realtime Subscriber
	Logger   logrus.FieldLogger
}

// View is what the presentation layer renders
type View struct {
	SessionID string
	Phase     Phase
	Messages  []Message
}

// NoticeKind classifies a user-facing notice
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeWarning
	NoticeError
)

// Notice is a non-modal message for the user
type Notice struct {
	Kind      NoticeKind
	Message   string
	Err       error
	Retryable bool
}

// Command is a navigation request sent to the engine
type Command interface {
	command()
}

// NewChatCommand clears the active session without deleting anything
type NewChatCommand struct{}

// SelectSessionCommand makes SessionID the active conversation
type SelectSessionCommand struct{ SessionID string }

// DeleteSessionCommand removes a session; deleting the active one starts a new chat
type DeleteSessionCommand struct{ SessionID string }

// RestoreLatestCommand activates the most recently updated session when none is active
type RestoreLatestCommand struct{}

func (NewChatCommand) command()       {}
func (SelectSessionCommand) command() {}
func (DeleteSessionCommand) command() {}
func (RestoreLatestCommand) command() {}

// Exchange is one user question and its assistant answer
type Exchange struct {
	SessionID        string
	UserLocalID      string
	AssistantLocalID string

	done   chan struct{}
	result StreamResult
	err    error
}

// Done is closed once the answer is persisted (or failed to persist)
func (x *Exchange) Done() <-chan struct{} {
	return x.done
}

// Result returns the stream outcome; valid after Done
func (x *Exchange) Result() StreamResult {
	return x.result
}

// Err returns the soft-stop error of the exchange, if any; valid after Done
func (x *Exchange) Err() error {
	return x.err
}

// Engine owns the active conversation. All state is mutated on the loop
// started by Run; network calls run on their own goroutines and post results
// back to the loop.
type Engine struct {
	cfg      Config
	sessions SessionStore
	messages MessageLog
	usage    UsageGate
	asker    Asker
	realtime Subscriber
	logger   logrus.FieldLogger

	ops      chan func()
	commands chan Command
	updates  chan View
	notices  chan Notice
	started  chan struct{}
	stopped  chan struct{}
	runCtx   context.Context

	// loop-owned
	rec        *Reconciler
	active     string
	inFlight   map[string]bool
	sub        *scopedSubscription
	generation uint64
}

// NewEngine creates an engine; call Run before using it
func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.LowWaterMark <= 0 {
		cfg.LowWaterMark = DefaultLowWaterMark
	}
	if cfg.PointsPerMessage <= 0 {
		cfg.PointsPerMessage = DefaultPointsPerMessage
	}
	if cfg.ResubscribeMin <= 0 {
		cfg.ResubscribeMin = DefaultResubscribeMin
	}
	if cfg.ResubscribeMax < cfg.ResubscribeMin {
		cfg.ResubscribeMax = DefaultResubscribeMax
		if cfg.ResubscribeMax < cfg.ResubscribeMin {
			cfg.ResubscribeMax = cfg.ResubscribeMin
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		cfg:      cfg,
		sessions: deps.Sessions,
		messages: deps.Messages,
		usage:    deps.Usage,
		asker:    deps.Assistant,
		realtime: deps.Realtime,
		logger:   logger.WithField("component", "chat_engine"),
		ops:      make(chan func(), 256),
		commands: make(chan Command, 16),
		updates:  make(chan View, 1),
		notices:  make(chan Notice, 32),
		started:  make(chan struct{}),
		stopped:  make(chan struct{}),
		runCtx:   context.Background(),
		rec:      NewReconciler(),
		inFlight: make(map[string]bool),
	}
}

// Run processes engine events until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	close(e.started)
	defer close(e.stopped)
	defer e.deactivate()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-e.ops:
			op()
		case cmd := <-e.commands:
			e.handle(cmd)
		}
	}
}

// Commands returns the channel navigation components send commands on
func (e *Engine) Commands() chan<- Command {
	return e.commands
}

// Updates delivers the latest view after every change. Only the newest
// undelivered view is kept.
func (e *Engine) Updates() <-chan View {
	return e.updates
}

// Notices delivers user-facing notices
func (e *Engine) Notices() <-chan Notice {
	return e.notices
}

// Snapshot returns the current view
func (e *Engine) Snapshot() (View, error) {
	var v View
	err := e.call(func() { v = e.view() })
	return v, err
}

// ListSessions returns the user's sessions, most recently updated first
func (e *Engine) ListSessions(ctx context.Context) ([]Session, error) {
	if e.cfg.UserID == "" {
		return nil, ErrAuthRequired
	}
	return e.sessions.ListSessions(ctx, e.cfg.UserID)
}

// Send starts an exchange in the active session, creating a session when none
// is active. Hard stops are returned before anything is added to the view.
func (e *Engine) Send(ctx context.Context, question string) (*Exchange, error) {
	question = strings.TrimSpace(question)
	if e.cfg.UserID == "" {
		return nil, ErrAuthRequired
	}
	if question == "" {
		return nil, ErrEmptyMessage
	}

	var (
		target string
		err    error
	)
	if callErr := e.call(func() {
		target = e.active
		if e.inFlight[target] {
			err = ErrExchangeInFlight
			return
		}
		e.inFlight[target] = true
	}); callErr != nil {
		return nil, callErr
	}
	if err != nil {
		return nil, err
	}
	release := func(key string) {
		e.post(func() { delete(e.inFlight, key) })
	}

	allowance, err := e.usage.CheckAllowance(ctx, e.cfg.UserID)
	if err != nil {
		release(target)
		e.logger.WithError(err).Warn("usage check failed")
		return nil, fmt.Errorf("%w: %v", ErrQuotaCheckFailed, err)
	}
	if !allowance.Allowed {
		release(target)
		return nil, &QuotaError{Reason: allowance.Reason, Remaining: allowance.Remaining}
	}
	if allowance.Remaining != nil && *allowance.Remaining > 0 && *allowance.Remaining < e.cfg.LowWaterMark {
		e.notify(Notice{
			Kind:    NoticeInfo,
			Message: fmt.Sprintf("You have %d messages left on your plan.", *allowance.Remaining),
		})
	}

	sessionID := target
	created := false
	if sessionID == "" {
		id, err := e.sessions.CreateSession(ctx, e.cfg.UserID)
		if err != nil {
			release(target)
			e.logger.WithError(err).Warn("session create failed")
			return nil, fmt.Errorf("%w: %v", ErrSessionCreateFailed, err)
		}
		sessionID = id
		created = true
	}

	x := &Exchange{SessionID: sessionID, done: make(chan struct{})}
	firstMessage := created
	if callErr := e.call(func() {
		if created {
			delete(e.inFlight, target)
			e.inFlight[sessionID] = true
		}
		visible := e.active == target
		if !visible {
			// the user navigated away during the pre-flight; the exchange
			// still runs and is persisted, it is just not rendered
			return
		}
		if created {
			e.activate(sessionID, true)
		}
		user, assistant, err := e.rec.BeginExchange(question)
		if err != nil {
			e.logger.WithError(err).Warn("reconciler refused exchange")
			return
		}
		x.UserLocalID = user.LocalID
		x.AssistantLocalID = assistant.LocalID
		e.publish()
	}); callErr != nil {
		return nil, callErr
	}

	go e.runExchange(x, question, firstMessage)
	return x, nil
}

// NewChat is shorthand for sending NewChatCommand
func (e *Engine) NewChat() {
	e.send(NewChatCommand{})
}

// SelectSession is shorthand for sending SelectSessionCommand
func (e *Engine) SelectSession(id string) {
	e.send(SelectSessionCommand{SessionID: id})
}

// DeleteSession is shorthand for sending DeleteSessionCommand
func (e *Engine) DeleteSession(id string) {
	e.send(DeleteSessionCommand{SessionID: id})
}

// RestoreLatest is shorthand for sending RestoreLatestCommand
func (e *Engine) RestoreLatest() {
	e.send(RestoreLatestCommand{})
}

func (e *Engine) send(cmd Command) {
	select {
	case e.commands <- cmd:
	case <-e.stopped:
	}
}

func (e *Engine) runExchange(x *Exchange, question string, firstMessage bool) {
	defer close(x.done)

	ctx := context.WithoutCancel(e.runCtx)
	log := e.logger.WithField("session_id", x.SessionID)

	if firstMessage {
		e.renameBestEffort(ctx, x.SessionID, DeriveTitle(question))
	}

	e.post(func() {
		if e.rec.MarkPending(x.UserLocalID) {
			e.publish()
		}
	})
	if p, err := e.messages.Append(ctx, x.SessionID, RoleUser, question, nil); err != nil {
		log.WithError(err).Warn("user message not saved")
		e.post(func() {
			if e.rec.MarkUnsent(x.UserLocalID) {
				e.publish()
			}
		})
		e.notify(Notice{Kind: NoticeWarning, Message: "Your message could not be saved. It is still shown here.", Err: err})
	} else {
		e.post(func() {
			if e.rec.ConfirmLocal(x.UserLocalID, p) {
				e.publish()
			}
		})
	}

	req := AskRequest{Question: question, SessionID: x.SessionID, UserID: e.cfg.UserID}
	result, askErr := e.asker.Ask(ctx, req, func(text string) {
		e.post(func() {
			if e.rec.ApplyContent(x.AssistantLocalID, text) {
				e.publish()
			}
		})
	})

	content := result.Text
	if askErr != nil {
		log.WithError(askErr).WithField("fragments", result.Fragments).Warn("assistant stream failed")
		if result.Fragments == 0 || strings.TrimSpace(content) == "" {
			content = StreamFailureMessage
		}
		e.notify(Notice{
			Kind:      NoticeError,
			Message:   "The assistant could not be reached. Please try again.",
			Err:       askErr,
			Retryable: true,
		})
	}
	sources := result.Sources

	e.post(func() {
		e.rec.ApplyContent(x.AssistantLocalID, content)
		e.rec.SetSources(x.AssistantLocalID, sources)
		e.rec.MarkPending(x.AssistantLocalID)
		e.publish()
	})

	p, appendErr := e.messages.Append(ctx, x.SessionID, RoleAssistant, content, sources)
	if appendErr != nil {
		log.WithError(appendErr).Warn("assistant message not saved")
		e.notify(Notice{Kind: NoticeWarning, Message: "The answer could not be saved. It is still shown here.", Err: appendErr})
	}

	_ = e.call(func() {
		if appendErr != nil {
			e.rec.MarkUnsent(x.AssistantLocalID)
		} else {
			e.rec.ConfirmLocal(x.AssistantLocalID, p)
		}
		e.rec.CompleteExchange(x.AssistantLocalID)
		delete(e.inFlight, x.SessionID)
		e.publish()
	})

	result.Text = content
	x.result = result
	x.err = askErr

	if askErr == nil {
		go e.recordUsage(ctx)
	}
}

func (e *Engine) renameBestEffort(ctx context.Context, sessionID, title string) {
	if err := e.sessions.RenameSession(ctx, sessionID, title); err != nil {
		e.logger.WithError(err).WithField("session_id", sessionID).Warn("session rename failed")
	}
}

func (e *Engine) recordUsage(ctx context.Context) {
	if err := e.usage.RecordUsage(ctx, e.cfg.UserID, e.cfg.PointsPerMessage); err != nil {
		e.logger.WithError(err).Warn("usage record failed")
	}
}

// handle runs on the loop
func (e *Engine) handle(cmd Command) {
	switch c := cmd.(type) {
	case NewChatCommand:
		e.deactivate()
		e.active = ""
		e.rec.Reset()
		e.publish()

	case SelectSessionCommand:
		if c.SessionID == "" {
			e.handle(NewChatCommand{})
			return
		}
		if c.SessionID == e.active {
			return
		}
		e.activate(c.SessionID, false)
		e.publish()
		e.loadHistory(c.SessionID, e.generation)

	case DeleteSessionCommand:
		id := c.SessionID
		go func() {
			err := e.sessions.DeleteSession(e.runCtx, id)
			e.post(func() {
				if err != nil {
					e.logger.WithError(err).WithField("session_id", id).Warn("session delete failed")
					e.notify(Notice{Kind: NoticeWarning, Message: "The conversation could not be deleted.", Err: err, Retryable: true})
					return
				}
				if e.active == id {
					e.handle(NewChatCommand{})
				}
			})
		}()

	case RestoreLatestCommand:
		if e.active != "" {
			return
		}
		go func() {
			id, err := e.sessions.MostRecentSession(e.runCtx, e.cfg.UserID)
			if err != nil {
				e.logger.WithError(err).Warn("restore latest session failed")
				return
			}
			if id == "" {
				return
			}
			e.post(func() {
				if e.active == "" && e.rec.Len() == 0 {
					e.handle(SelectSessionCommand{SessionID: id})
				}
			})
		}()
	}
}

// activate binds the view to sessionID and opens its push channel.
// keep retains the current list (a session created by the first send).
func (e *Engine) activate(sessionID string, keep bool) {
	e.deactivate()
	e.active = sessionID
	if keep {
		e.rec.Attach(sessionID)
	} else {
		e.rec.Activate(sessionID)
	}
	e.subscribe(sessionID, e.generation)
}

// deactivate releases the push channel of the active session, exactly once
func (e *Engine) deactivate() {
	e.generation++
	if e.sub != nil {
		e.sub.release()
		e.sub = nil
	}
}

func (e *Engine) loadHistory(sessionID string, gen uint64) {
	go func() {
		history, err := e.messages.ListBySession(e.runCtx, sessionID)
		e.post(func() {
			if gen != e.generation {
				return
			}
			if err != nil {
				e.logger.WithError(err).WithField("session_id", sessionID).Warn("history load failed")
				e.notify(Notice{Kind: NoticeWarning, Message: "Could not load this conversation.", Err: err, Retryable: true})
				return
			}
			e.rec.Load(sessionID, history)
			e.publish()
		})
	}()
}

func (e *Engine) subscribe(sessionID string, gen uint64) {
	e.subscribeAfter(sessionID, gen, 0)
}

// subscribeAfter opens the push channel for sessionID once delay has passed.
// Failures retry with a doubled delay for as long as gen is current. A
// delayed attempt is a reconnect and merges the rows missed meanwhile.
func (e *Engine) subscribeAfter(sessionID string, gen uint64, delay time.Duration) {
	if e.realtime == nil {
		return
	}
	log := e.logger.WithField("session_id", sessionID)
	go func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-e.runCtx.Done():
				return
			}
			current := false
			if e.call(func() { current = gen == e.generation }) != nil || !current {
				return
			}
		}

		sub, err := e.realtime.Subscribe(e.runCtx, sessionID)
		if err != nil {
			if e.runCtx.Err() != nil {
				return
			}
			next := e.nextDelay(delay)
			log.WithError(err).WithField("retry_in", next).Warn("push channel unavailable")
			e.subscribeAfter(sessionID, gen, next)
			return
		}
		scoped := newScopedSubscription(sub, e.logger)
		if !e.post(func() {
			if gen != e.generation {
				scoped.release()
				return
			}
			e.sub = scoped
			go e.forward(scoped, sessionID, gen)
			if delay > 0 {
				log.Info("push channel reopened")
				e.catchUp(sessionID, gen)
			}
		}) {
			scoped.release()
		}
	}()
}

func (e *Engine) nextDelay(delay time.Duration) time.Duration {
	if delay <= 0 {
		return e.cfg.ResubscribeMin
	}
	delay *= 2
	if delay > e.cfg.ResubscribeMax {
		delay = e.cfg.ResubscribeMax
	}
	return delay
}

// catchUp merges persisted rows that arrived while the push channel was down
func (e *Engine) catchUp(sessionID string, gen uint64) {
	go func() {
		history, err := e.messages.ListBySession(e.runCtx, sessionID)
		if err != nil {
			e.logger.WithError(err).WithField("session_id", sessionID).Warn("history catch-up failed")
			return
		}
		e.post(func() {
			if gen != e.generation {
				return
			}
			if e.rec.Merge(history) {
				e.publish()
			}
		})
	}()
}

func (e *Engine) forward(s *scopedSubscription, sessionID string, gen uint64) {
	events := s.sub.Events()
	for {
		select {
		case <-s.stop:
			return
		case m, ok := <-events:
			if !ok {
				e.post(func() {
					if gen != e.generation || e.sub != s {
						return
					}
					e.sub = nil
					s.release()
					e.logger.WithField("session_id", sessionID).Warn("push channel closed, reconnecting")
					e.subscribeAfter(sessionID, gen, e.cfg.ResubscribeMin)
				})
				return
			}
			e.post(func() {
				if gen != e.generation {
					return
				}
				if e.rec.ApplyEcho(m) {
					e.publish()
				}
			})
		}
	}
}

func (e *Engine) view() View {
	return View{
		SessionID: e.active,
		Phase:     e.rec.Phase(),
		Messages:  e.rec.Snapshot(),
	}
}

// publish runs on the loop, the only writer of updates
func (e *Engine) publish() {
	v := e.view()
	select {
	case <-e.updates:
	default:
	}
	select {
	case e.updates <- v:
	default:
	}
}

func (e *Engine) notify(n Notice) {
	select {
	case e.notices <- n:
	default:
		e.logger.WithField("notice", n.Message).Debug("notice dropped, channel full")
	}
}

func (e *Engine) post(fn func()) bool {
	select {
	case <-e.started:
	case <-e.stopped:
		return false
	}
	select {
	case e.ops <- fn:
		return true
	case <-e.stopped:
		return false
	}
}

func (e *Engine) call(fn func()) error {
	done := make(chan struct{})
	if !e.post(func() {
		fn()
		close(done)
	}) {
		return ErrEngineStopped
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	}
}

// scopedSubscription is a push channel acquired for one active session and
// released exactly once
type scopedSubscription struct {
	sub    Subscription
	stop   chan struct{}
	once   sync.Once
	logger logrus.FieldLogger
}

func newScopedSubscription(sub Subscription, logger logrus.FieldLogger) *scopedSubscription {
	return &scopedSubscription{sub: sub, stop: make(chan struct{}), logger: logger}
}

func (s *scopedSubscription) release() {
	s.once.Do(func() {
		close(s.stop)
		if err := s.sub.Close(); err != nil {
			s.logger.WithError(err).Debug("push channel close failed")
		}
	})
}
