package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/sirupsen/logrus"
)

const (
	apiPrefix       = "api/v1"
	userAgent       = "jurist-chat"
	maxErrorSnippet = 512
)

// Client talks to the portal backend. It implements the session store,
// message log and usage gate the chat engine depends on.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  logrus.FieldLogger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for API calls
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// New creates a client for baseURL authenticated with token
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the access token
func (c *Client) Token() string {
	return c.token
}

// StreamReader returns a reader for the ask endpoint carrying this client's credentials
func (c *Client) StreamReader() (*chat.StreamReader, error) {
	endpoint, err := url.JoinPath(c.baseURL, apiPrefix, "chat", "ask")
	if err != nil {
		return nil, fmt.Errorf("failed to construct ask endpoint: %w", err)
	}
	return chat.NewStreamReader(endpoint,
		chat.WithHeader("Authorization", "Bearer "+c.token),
		chat.WithHeader("User-Agent", userAgent),
		chat.WithLogger(c.logger),
	), nil
}

// User is the signed-in account
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Plan     string `json:"plan"`
}

// LoginResponse is returned by Login
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	User        User   `json:"user"`
}

// Login exchanges credentials for an access token. The client keeps the token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	payload := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, []string{"auth", "login"}, payload, http.StatusOK, &out); err != nil {
		return nil, err
	}
	c.token = out.AccessToken
	return &out, nil
}

// CurrentUser returns the account the token belongs to
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, []string{"auth", "me"}, nil, http.StatusOK, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateSession creates a session titled "New Chat"
func (c *Client) CreateSession(ctx context.Context, ownerID string) (string, error) {
	var s chat.Session
	if err := c.do(ctx, http.MethodPost, []string{"sessions"}, map[string]string{"user_id": ownerID}, http.StatusCreated, &s); err != nil {
		return "", fmt.Errorf("%w: %v", chat.ErrPersistence, err)
	}
	c.logger.WithField("session_id", s.ID).Debug("session created")
	return s.ID, nil
}

// MostRecentSession returns the most recently updated session, or "" when none exists
func (c *Client) MostRecentSession(ctx context.Context, ownerID string) (string, error) {
	var s chat.Session
	err := c.do(ctx, http.MethodGet, []string{"sessions", "latest"}, nil, http.StatusOK, &s)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	return s.ID, nil
}

// RenameSession sets the session title
func (c *Client) RenameSession(ctx context.Context, id, title string) error {
	return c.do(ctx, http.MethodPut, []string{"sessions", id}, map[string]string{"title": title}, http.StatusOK, nil)
}

// DeleteSession removes the session and its messages
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, []string{"sessions", id}, nil, http.StatusNoContent, nil)
}

// ListSessions returns the user's sessions, most recently updated first
func (c *Client) ListSessions(ctx context.Context, ownerID string) ([]chat.Session, error) {
	var list []chat.Session
	if err := c.do(ctx, http.MethodGet, []string{"sessions"}, nil, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return list, nil
}

type appendPayload struct {
	Role    chat.Role     `json:"role"`
	Content string        `json:"content"`
	Sources []chat.Source `json:"sources,omitempty"`
}

// Append stores one message and returns its durable id and server timestamp
func (c *Client) Append(ctx context.Context, sessionID string, role chat.Role, content string, sources []chat.Source) (chat.Persisted, error) {
	var p chat.Persisted
	err := c.do(ctx, http.MethodPost, []string{"sessions", sessionID, "messages"},
		appendPayload{Role: role, Content: content, Sources: sources}, http.StatusCreated, &p)
	if err != nil {
		return chat.Persisted{}, fmt.Errorf("%w: %v", chat.ErrPersistence, err)
	}
	return p, nil
}

// ListBySession returns the session history in ascending creation order
func (c *Client) ListBySession(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var list []chat.Message
	if err := c.do(ctx, http.MethodGet, []string{"sessions", sessionID, "messages"}, nil, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// CheckAllowance asks the usage gate whether the user may send
func (c *Client) CheckAllowance(ctx context.Context, userID string) (chat.Allowance, error) {
	var a chat.Allowance
	if err := c.do(ctx, http.MethodGet, []string{"usage", "allowance"}, nil, http.StatusOK, &a); err != nil {
		return chat.Allowance{}, err
	}
	return a, nil
}

// RecordUsage records points consumed by the user
func (c *Client) RecordUsage(ctx context.Context, userID string, points int) error {
	return c.do(ctx, http.MethodPost, []string{"usage", "record"}, map[string]int{"points": points}, http.StatusNoContent, nil)
}

// StatusError is an unexpected HTTP status from the backend
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method string, segments []string, in any, want int, out any) error {
	endpoint, err := url.JoinPath(c.baseURL, append([]string{apiPrefix}, segments...)...)
	if err != nil {
		return fmt.Errorf("failed to construct endpoint: %w", err)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	log := c.logger.WithFields(logrus.Fields{"method": method, "endpoint": endpoint})
	log.Debug("backend request")

	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Warn("backend request failed")
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return chat.ErrAuthRequired
	}
	if resp.StatusCode != want {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		msg := errorMessage(snippet)
		log.WithFields(logrus.Fields{"status": resp.StatusCode, "snippet": msg}).Warn("backend unexpected status")
		return &StatusError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the "error" field handlers send, falling back to the raw text
func errorMessage(snippet []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(snippet, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	text := strings.TrimSpace(string(snippet))
	if len(text) > maxErrorSnippet {
		text = text[:maxErrorSnippet] + "..."
	}
	return text
}
