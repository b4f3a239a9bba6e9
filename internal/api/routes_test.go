package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/assistant"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/auth"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/config"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/models"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/repository"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/services"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/usage"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*models.User
	sessions map[uuid.UUID]*repository.Session
	messages []repository.Message
	ledger   map[uuid.UUID]int
	clock    time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[uuid.UUID]*models.User{},
		sessions: map[uuid.UUID]*repository.Session{},
		ledger:   map[uuid.UUID]int{},
		clock:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

type memUsers struct{ *memStore }

func (m memUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (m memUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memUsers) UpdateLastLogin(ctx context.Context, userID uuid.UUID) error { return nil }

type memSessions struct{ *memStore }

func (m memSessions) Create(ctx context.Context, userID uuid.UUID, title string) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	s := &repository.Session{ID: uuid.New(), UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	m.sessions[s.ID] = s
	copied := *s
	return &copied, nil
}

func (m memSessions) Get(ctx context.Context, userID, id uuid.UUID) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return nil, repository.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m memSessions) List(ctx context.Context, userID uuid.UUID) ([]*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			copied := *s
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m memSessions) Latest(ctx context.Context, userID uuid.UUID) (*repository.Session, error) {
	list, _ := m.List(ctx, userID)
	if len(list) == 0 {
		return nil, repository.ErrNotFound
	}
	return list[0], nil
}

func (m memSessions) Rename(ctx context.Context, userID, id uuid.UUID, title string) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return nil, repository.ErrNotFound
	}
	s.Title = title
	copied := *s
	return &copied, nil
}

func (m memSessions) Delete(ctx context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return repository.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

type memMessages struct{ *memStore }

func (m memMessages) Create(ctx context.Context, msg *repository.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.New()
	msg.CreatedAt = m.tick()
	m.messages = append(m.messages, *msg)
	if s, ok := m.sessions[msg.SessionID]; ok && s.UpdatedAt.Before(msg.CreatedAt) {
		s.UpdatedAt = msg.CreatedAt
	}
	return nil
}

func (m memMessages) Get(ctx context.Context, id uuid.UUID) (*repository.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			copied := msg
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memMessages) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]repository.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m memMessages) Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]repository.Message, error) {
	all, _ := m.ListBySession(ctx, sessionID)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

type memLedger struct{ *memStore }

func (m memLedger) Record(ctx context.Context, userID uuid.UUID, points int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger[userID] += points
	return nil
}

func (m memLedger) SumSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger[userID], nil
}

type testServer struct {
	app   *fiber.App
	store *memStore
	svc   *services.Services
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := newMemStore()
	users := memUsers{store}

	provider := &assistant.StubProvider{
		Answer:  "Negligence requires a duty of care.",
		Sources: []chat.Source{{Title: "Donoghue v Stevenson", URL: "https://example.org/donoghue"}},
	}
	svc := &services.Services{
		Auth:     auth.NewService(users, "test-secret", time.Hour, logger),
		Chat:     services.NewChatService(provider, memSessions{store}, memMessages{store}, 10, logger),
		Usage:    usage.NewService(memLedger{store}, users, config.UsageConfig{FreeLimit: 2, ProLimit: 100}, logger),
		Users:    users,
		Sessions: memSessions{store},
		Messages: memMessages{store},
	}

	cfg := config.ServerConfig{AskRateLimit: 100}
	app := NewApp(cfg, logger)
	SetupRoutes(app, cfg, Deps{Services: svc, Logger: logger})
	return &testServer{app: app, store: store, svc: svc}
}

func (s *testServer) addUser(t *testing.T, email, password string) (*models.User, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &models.User{ID: uuid.New(), Email: email, Username: strings.Split(email, "@")[0], PasswordHash: string(hash), Plan: models.PlanFree, IsActive: true}
	s.store.users[u.ID] = u
	token, err := s.svc.Auth.JWT().GenerateAccessToken(u.ID.String(), u.Email, u.Username, u.Plan)
	require.NoError(t, err)
	return u, token
}

func (s *testServer) do(t *testing.T, method, path, token, contentType, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func (s *testServer) json(t *testing.T, method, path, token, body string) (int, string) {
	ct := ""
	if body != "" {
		ct = "application/json"
	}
	return s.do(t, method, path, token, ct, body)
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t)
	user, _ := srv.addUser(t, "ada@example.com", "secret123")

	status, body := srv.json(t, http.MethodPost, "/api/v1/auth/login", "", `{"email":"ADA@example.com","password":"secret123"}`)
	require.Equal(t, http.StatusOK, status, body)

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
		User        struct {
			ID   string `json:"id"`
			Plan string `json:"plan"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, user.ID.String(), resp.User.ID)

	status, _ = srv.json(t, http.MethodGet, "/api/v1/auth/me", resp.AccessToken, "")
	assert.Equal(t, http.StatusOK, status)

	status, body = srv.json(t, http.MethodPost, "/api/v1/auth/login", "", `{"email":"ada@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, "invalid email or password")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	status, body := srv.json(t, http.MethodGet, "/api/v1/sessions", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body, `"error"`)

	status, _ = srv.json(t, http.MethodGet, "/api/v1/sessions", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	_, token := srv.addUser(t, "ada@example.com", "secret123")
	_, otherToken := srv.addUser(t, "bob@example.com", "secret123")

	status, _ := srv.json(t, http.MethodGet, "/api/v1/sessions/latest", token, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body := srv.json(t, http.MethodPost, "/api/v1/sessions", token, `{"user_id":"ignored"}`)
	require.Equal(t, http.StatusCreated, status, body)
	var session chat.Session
	require.NoError(t, json.Unmarshal([]byte(body), &session))
	assert.Equal(t, chat.DefaultSessionTitle, session.Title)

	status, body = srv.json(t, http.MethodPost, "/api/v1/sessions/"+session.ID+"/messages", token,
		`{"role":"assistant","content":"See the Act.","sources":[{"title":"Act","url":"https://example.org/act"}]}`)
	require.Equal(t, http.StatusCreated, status, body)
	var persisted chat.Persisted
	require.NoError(t, json.Unmarshal([]byte(body), &persisted))
	assert.NotEmpty(t, persisted.ID)

	status, body = srv.json(t, http.MethodGet, "/api/v1/sessions/"+session.ID+"/messages", token, "")
	require.Equal(t, http.StatusOK, status)
	var msgs []chat.Message
	require.NoError(t, json.Unmarshal([]byte(body), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, persisted.ID, msgs[0].ID)
	assert.Equal(t, []chat.Source{{Title: "Act", URL: "https://example.org/act"}}, msgs[0].Sources)

	status, body = srv.json(t, http.MethodGet, "/api/v1/sessions/latest", token, "")
	require.Equal(t, http.StatusOK, status)
	var latest chat.Session
	require.NoError(t, json.Unmarshal([]byte(body), &latest))
	assert.Equal(t, session.ID, latest.ID)
	assert.True(t, latest.UpdatedAt.Equal(persisted.CreatedAt))

	// another user sees nothing
	status, _ = srv.json(t, http.MethodGet, "/api/v1/sessions/"+session.ID+"/messages", otherToken, "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = srv.json(t, http.MethodDelete, "/api/v1/sessions/"+session.ID, otherToken, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = srv.json(t, http.MethodPut, "/api/v1/sessions/"+session.ID, token, `{"title":"Negligence question"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Negligence question")

	status, body = srv.json(t, http.MethodGet, "/api/v1/sessions", token, "")
	require.Equal(t, http.StatusOK, status)
	var list []chat.Session
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	assert.Len(t, list, 1)

	status, _ = srv.json(t, http.MethodDelete, "/api/v1/sessions/"+session.ID, token, "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = srv.json(t, http.MethodGet, "/api/v1/sessions/"+session.ID, token, "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = srv.json(t, http.MethodGet, "/api/v1/sessions/not-a-uuid", token, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAppendMessageValidation(t *testing.T) {
	srv := newTestServer(t)
	_, token := srv.addUser(t, "ada@example.com", "secret123")
	_, body := srv.json(t, http.MethodPost, "/api/v1/sessions", token, "")
	var session chat.Session
	require.NoError(t, json.Unmarshal([]byte(body), &session))

	status, _ := srv.json(t, http.MethodPost, "/api/v1/sessions/"+session.ID+"/messages", token, `{"role":"system","content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = srv.json(t, http.MethodPost, "/api/v1/sessions/"+session.ID+"/messages", token, `{"role":"user","content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUsageEndpoints(t *testing.T) {
	srv := newTestServer(t)
	_, token := srv.addUser(t, "ada@example.com", "secret123")

	status, body := srv.json(t, http.MethodGet, "/api/v1/usage/allowance", token, "")
	require.Equal(t, http.StatusOK, status)
	var allowance chat.Allowance
	require.NoError(t, json.Unmarshal([]byte(body), &allowance))
	assert.True(t, allowance.Allowed)
	require.NotNil(t, allowance.Remaining)
	assert.Equal(t, 2, *allowance.Remaining)

	status, _ = srv.json(t, http.MethodPost, "/api/v1/usage/record", token, `{"points":2}`)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = srv.json(t, http.MethodPost, "/api/v1/usage/record", token, `{"points":0}`)
	assert.Equal(t, http.StatusBadRequest, status)

	_, body = srv.json(t, http.MethodGet, "/api/v1/usage/allowance", token, "")
	require.NoError(t, json.Unmarshal([]byte(body), &allowance))
	assert.False(t, allowance.Allowed)
	assert.NotEmpty(t, allowance.Reason)
}

func TestAskStreamsEvents(t *testing.T) {
	srv := newTestServer(t)
	user, token := srv.addUser(t, "ada@example.com", "secret123")
	_, body := srv.json(t, http.MethodPost, "/api/v1/sessions", token, "")
	var session chat.Session
	require.NoError(t, json.Unmarshal([]byte(body), &session))

	form := url.Values{"question": {"What is negligence?"}, "chat_id": {session.ID}, "user_id": {user.ID.String()}}
	status, body := srv.do(t, http.MethodPost, "/api/v1/chat/ask", token, "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusOK, status, body)

	assert.Contains(t, body, `data: {"type":"delta","content":"Negligence "}`)
	assert.Contains(t, body, `"type":"done","sources":[{"title":"Donoghue v Stevenson","url":"https://example.org/donoghue"}]`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestAskStreamReadByChatClient(t *testing.T) {
	srv := newTestServer(t)
	user, token := srv.addUser(t, "ada@example.com", "secret123")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.app.Listener(ln) }()
	t.Cleanup(func() { _ = srv.app.Shutdown() })

	reader := chat.NewStreamReader("http://"+ln.Addr().String()+"/api/v1/chat/ask",
		chat.WithHeader("Authorization", "Bearer "+token))

	var updates []string
	result, err := reader.Ask(context.Background(), chat.AskRequest{Question: "What is negligence?", UserID: user.ID.String()},
		func(text string) { updates = append(updates, text) })
	require.NoError(t, err)
	assert.True(t, result.Complete)
	assert.Equal(t, "Negligence requires a duty of care.", result.Text)
	assert.Equal(t, []chat.Source{{Title: "Donoghue v Stevenson", URL: "https://example.org/donoghue"}}, result.Sources)
	assert.Equal(t, "Negligence ", updates[0])
}

func TestAskNonStreaming(t *testing.T) {
	srv := newTestServer(t)
	_, token := srv.addUser(t, "ada@example.com", "secret123")

	status, body := srv.do(t, http.MethodPost, "/api/v1/chat/ask?stream=false", token, "application/x-www-form-urlencoded", "question=Hello")
	require.Equal(t, http.StatusOK, status, body)
	var resp struct {
		Answer  string        `json:"answer"`
		Sources []chat.Source `json:"sources"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "Negligence requires a duty of care.", resp.Answer)
	assert.Len(t, resp.Sources, 1)

	status, _ = srv.do(t, http.MethodPost, "/api/v1/chat/ask", token, "application/x-www-form-urlencoded", "question=%20")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = srv.do(t, http.MethodPost, "/api/v1/chat/ask", token, "application/x-www-form-urlencoded", "question=Hi&chat_id="+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	status, body := srv.json(t, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"assistant":"stub"`)
}
