package assistant

import (
	"context"
	"strings"
	"time"

	"github.com/ogun586/jurist-mind-ai-sub000/internal/chat"
)

// StubProvider streams a canned answer; used for local development and tests
type StubProvider struct {
	Delay   time.Duration
	Answer  string
	Sources []chat.Source
}

// NewStubProvider creates a stub with a short canned legal answer
func NewStubProvider() *StubProvider {
	return &StubProvider{
		Delay:  50 * time.Millisecond,
		Answer: "This is a stub answer from Jurist Mind. Configure an assistant provider to get real legal research.",
	}
}

// Name returns the provider name
func (s *StubProvider) Name() string {
	return "stub"
}

// Stream sends the answer word by word
func (s *StubProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	out := make(chan Chunk)

	go func() {
		defer close(out)

		words := strings.SplitAfter(s.Answer, " ")
		for _, w := range words {
			select {
			case out <- Chunk{Delta: w}:
			case <-ctx.Done():
				return
			}
			if s.Delay > 0 {
				time.Sleep(s.Delay)
			}
		}

		select {
		case out <- Chunk{Done: true, Sources: s.Sources}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}
