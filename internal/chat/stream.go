package chat

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
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

const (
	// FallbackPlaceholder is the answer shown when the backend reply cannot be read
	FallbackPlaceholder = "I'm sorry, I couldn't generate a response. Please try again."
	// StreamFailureMessage is the assistant turn recorded when the backend cannot be reached
	StreamFailureMessage = "I'm sorry, I'm having trouble connecting right now. Please try again in a moment."

	eventPrefix  = "data:"
	doneSentinel = "[DONE]"
	errorType    = "error"
	readChunk    = 4096
)

// AskRequest is one question sent to the AI backend
type AskRequest struct {
	Question  string
	SessionID string
	UserID    string
}

// StreamResult is the outcome of one streamed answer
type StreamResult struct {
	Text      string
	Sources   []Source
	Fragments int
	Anomalies int
	Complete  bool
	Fallback  bool
}

// UpdateFunc receives the full answer text each time it grows
type UpdateFunc func(text string)

// Asker produces an answer for a question, reporting growth through onUpdate
type Asker interface {
	Ask(ctx context.Context, req AskRequest, onUpdate UpdateFunc) (StreamResult, error)
}

// streamFrame is the JSON payload of one event block
type streamFrame struct {
	Content *string  `json:"content"`
	Type    string   `json:"type"`
	Sources []Source `json:"sources"`
	Error   string   `json:"error"`
}

// fallbackBody is the whole-body JSON answer used when no frames arrive
type fallbackBody struct {
	Answer  string   `json:"answer"`
	Content string   `json:"content"`
	Sources []Source `json:"sources"`
}

// StreamReader posts questions to the AI backend and assembles the streamed answer
type StreamReader struct {
	endpoint string
	client   *http.Client
	header   http.Header
	logger   logrus.FieldLogger
}

// StreamReaderOption configures a StreamReader
type StreamReaderOption func(*StreamReader)

// WithHTTPClient sets the transport used for the request
func WithHTTPClient(c *http.Client) StreamReaderOption {
	return func(r *StreamReader) {
		if c != nil {
			r.client = c
		}
	}
}

// WithHeader adds a header to every request
func WithHeader(key, value string) StreamReaderOption {
	return func(r *StreamReader) {
		r.header.Set(key, value)
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) StreamReaderOption {
	return func(r *StreamReader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewStreamReader creates a reader for the ask endpoint.
// No timeout is set; a stalled backend surfaces through the transport.
func NewStreamReader(endpoint string, opts ...StreamReaderOption) *StreamReader {
	r := &StreamReader{
		endpoint: endpoint,
		client:   &http.Client{},
		header:   make(http.Header),
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ask sends the question and reads the answer until the stream completes.
// On a mid-stream failure the text received so far is returned with the error.
func (r *StreamReader) Ask(ctx context.Context, req AskRequest, onUpdate UpdateFunc) (StreamResult, error) {
	form := url.Values{}
	form.Set("question", req.Question)
	form.Set("chat_id", req.SessionID)
	form.Set("user_id", req.UserID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return StreamResult{}, fmt.Errorf("%w: failed to build request: %v", ErrStreamConnection, err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return StreamResult{}, fmt.Errorf("%w: %v", ErrStreamConnection, err)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return StreamResult{}, fmt.Errorf("%w: response has no body", ErrStreamConnection)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		r.logger.WithFields(logrus.Fields{
			"status":  resp.StatusCode,
			"snippet": strings.TrimSpace(string(snippet)),
		}).Warn("assistant backend returned non-success status")
		return StreamResult{}, fmt.Errorf("%w: unexpected status %d", ErrStreamConnection, resp.StatusCode)
	}

	return r.consume(resp.Body, onUpdate)
}

func (r *StreamReader) consume(body io.Reader, onUpdate UpdateFunc) (StreamResult, error) {
	var (
		result  StreamResult
		text    strings.Builder
		whole   bytes.Buffer
		dec     utf8Decoder
		pending string
		failure string
		failed  bool
		buf     = make([]byte, readChunk)
	)

	emit := func() {
		if onUpdate != nil {
			onUpdate(text.String())
		}
	}

	handle := func(block string) {
		payload, ok := blockPayload(block)
		if !ok {
			return
		}
		if payload == doneSentinel {
			result.Complete = true
			return
		}
		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			result.Anomalies++
			r.logger.WithError(err).Debug("skipping malformed stream frame")
			return
		}
		if frame.Content != nil && *frame.Content != "" {
			text.WriteString(*frame.Content)
			result.Fragments++
			emit()
		}
		if len(frame.Sources) > 0 {
			result.Sources = append(result.Sources, frame.Sources...)
		}
		if strings.EqualFold(frame.Type, errorType) {
			failed = true
			failure = frame.Error
			return
		}
		if isTerminalType(frame.Type) {
			result.Complete = true
		}
	}

	var readErr error
	for !result.Complete && !failed {
		n, err := body.Read(buf)
		if n > 0 {
			// only a body without frames is parsed whole
			if result.Fragments == 0 {
				whole.Write(buf[:n])
			}
			pending += dec.decode(buf[:n])
			pending = strings.ReplaceAll(pending, "\r\n", "\n")
			for !result.Complete && !failed {
				idx := strings.Index(pending, "\n\n")
				if idx < 0 {
					break
				}
				block := pending[:idx]
				pending = pending[idx+2:]
				handle(block)
			}
			if result.Fragments > 0 && whole.Cap() > 0 {
				whole = bytes.Buffer{}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	if !result.Complete && !failed && readErr == nil {
		pending += dec.flush()
		if strings.TrimSpace(pending) != "" {
			handle(strings.TrimRight(pending, "\n"))
		}
	}

	if failed {
		result.Text = text.String()
		if failure == "" {
			failure = "backend reported an error"
		}
		r.logger.WithFields(logrus.Fields{
			"fragments": result.Fragments,
			"error":     failure,
		}).Warn("assistant backend failed mid-stream")
		return result, fmt.Errorf("%w: %s", ErrStreamConnection, failure)
	}

	if readErr != nil {
		result.Text = text.String()
		r.logger.WithFields(logrus.Fields{
			"fragments": result.Fragments,
			"error":     readErr.Error(),
		}).Warn("assistant stream interrupted")
		return result, fmt.Errorf("%w: stream interrupted: %v", ErrStreamConnection, readErr)
	}

	if text.Len() == 0 {
		answer, sources, ok := parseFallback(whole.Bytes())
		if !ok {
			answer = FallbackPlaceholder
			result.Fallback = true
		}
		if len(result.Sources) == 0 {
			result.Sources = sources
		}
		text.WriteString(answer)
		emit()
	}

	result.Text = text.String()
	return result, nil
}

// blockPayload extracts the data carried by one event block
func blockPayload(block string) (string, bool) {
	var (
		lines []string
		found bool
	)
	for _, line := range strings.Split(block, "\n") {
		if !strings.HasPrefix(line, eventPrefix) {
			continue
		}
		found = true
		lines = append(lines, strings.TrimPrefix(line[len(eventPrefix):], " "))
	}
	if !found {
		return "", false
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), true
}

func isTerminalType(t string) bool {
	switch strings.ToLower(t) {
	case "done", "complete", "end":
		return true
	}
	return false
}

func parseFallback(body []byte) (string, []Source, bool) {
	var fb fallbackBody
	if err := json.Unmarshal(bytes.TrimSpace(body), &fb); err != nil {
		return "", nil, false
	}
	switch {
	case fb.Answer != "":
		return fb.Answer, fb.Sources, true
	case fb.Content != "":
		return fb.Content, fb.Sources, true
	}
	return "", nil, false
}

// utf8Decoder turns a byte stream into text without splitting multi-byte runes
type utf8Decoder struct {
	carry []byte
}

func (d *utf8Decoder) decode(p []byte) string {
	d.carry = append(d.carry, p...)
	n := completePrefix(d.carry)
	out := string(d.carry[:n])
	d.carry = append(d.carry[:0], d.carry[n:]...)
	return out
}

func (d *utf8Decoder) flush() string {
	out := string(d.carry)
	d.carry = d.carry[:0]
	return out
}

// completePrefix returns the length of the longest prefix of b that does not
// end inside a multi-byte rune
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}
