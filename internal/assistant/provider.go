package assistant

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
	"github.com/ogun586/jurist-mind-ai-sub000/internal/config"
)

// Turn is one earlier message given to the model as context
type Turn struct {
	Role    chat.Role
	Content string
}

// Request is a question with the conversation it belongs to
type Request struct {
	Question  string
	History   []Turn
	SessionID string
	UserID    string
}

// Chunk is one piece of a streamed answer. The last chunk has Done set, or Err.
type Chunk struct {
	Delta   string
	Sources []chat.Source
	Done    bool
	Err     error
}

// Provider produces answers
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Answer is a fully collected response
type Answer struct {
	Text    string
	Sources []chat.Source
}

// Collect drains a stream into a single answer
func Collect(ctx context.Context, p Provider, req Request) (*Answer, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		text    strings.Builder
		sources []chat.Source
	)
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		text.WriteString(chunk.Delta)
		sources = append(sources, chunk.Sources...)
	}
	return &Answer{Text: text.String(), Sources: sources}, nil
}

// New creates the provider named in cfg
func New(cfg config.AssistantConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "openai-compatible":
		return NewOpenAIProvider(cfg)
	case "stub", "":
		return NewStubProvider(), nil
	default:
		return nil, fmt.Errorf("unknown assistant provider %q", cfg.Provider)
	}
}

var markdownLink = regexp.MustCompile(`\[([^\]\n]+)\]\((https?://[^)\s]+)\)`)

// ExtractSources collects the distinct markdown links of an answer as citations
func ExtractSources(text string) []chat.Source {
	var (
		out  []chat.Source
		seen = map[string]bool{}
	)
	for _, m := range markdownLink.FindAllStringSubmatch(text, -1) {
		url := m[2]
		if seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, chat.Source{Title: strings.TrimSpace(m[1]), URL: url})
	}
	return out
}
