package assistant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
	halfOpenSuccesses       = 2
)

// ErrProviderUnavailable is returned while the breaker is open
var ErrProviderUnavailable = errors.New("assistant provider is temporarily unavailable")

// BreakerState is the state of a provider breaker
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker stops calling a failing provider for a cooldown period. A stream
// counts as failed when it cannot start or ends with an error chunk.
type Breaker struct {
	provider  Provider
	threshold int
	cooldown  time.Duration
	logger    logrus.FieldLogger
	now       func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewBreaker wraps p. Zero values select the defaults.
func NewBreaker(p Provider, threshold int, cooldown time.Duration, logger logrus.FieldLogger) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Breaker{
		provider:  p,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger.WithField("provider", p.Name()),
		now:       time.Now,
	}
}

func (b *Breaker) Name() string {
	return b.provider.Name()
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

func (b *Breaker) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if b.State() == StateOpen {
		return nil, ErrProviderUnavailable
	}

	chunks, err := b.provider.Stream(ctx, req)
	if err != nil {
		b.record(err)
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		recorded := false
		for chunk := range chunks {
			if chunk.Err != nil && !recorded {
				b.record(chunk.Err)
				recorded = true
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				// the caller left; drain so the provider can finish
				for range chunks {
				}
				return
			}
		}
		if !recorded {
			b.record(nil)
		}
	}()
	return out, nil
}

// currentState moves an open breaker to half-open once the cooldown passed
func (b *Breaker) currentState() BreakerState {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) > b.cooldown {
		b.state = StateHalfOpen
		b.failures = 0
		b.successes = 0
	}
	return b.state
}

func (b *Breaker) record(err error) {
	if err != nil && errors.Is(err, context.Canceled) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState()
	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		switch state {
		case StateClosed:
			if b.failures >= b.threshold {
				b.state = StateOpen
				b.logger.WithError(err).WithField("failures", b.failures).Warn("Opening provider breaker")
			}
		case StateHalfOpen:
			b.state = StateOpen
			b.logger.WithError(err).Warn("Re-opening provider breaker after a half-open failure")
		}
		return
	}

	b.successes++
	switch state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.successes >= halfOpenSuccesses {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			b.logger.Info("Closing provider breaker")
		}
	}
}
