package transcribe

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/callscribe/pkg/resilience"
)

// Guarded wraps a Transcriber with a circuit breaker so a provider that keeps
// rate limiting is not hammered by every worker at once. While open, calls
// fail fast with a transient error that wraps ErrCircuitOpen.
type Guarded struct {
	inner   Transcriber
	breaker *resilience.CircuitBreaker
}

func NewGuarded(inner Transcriber, threshold int, cooldown time.Duration) *Guarded {
	return &Guarded{inner: inner, breaker: resilience.NewCircuitBreaker(threshold, cooldown)}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if !g.breaker.Allow() {
		return "", Transient(g.inner.Name(), g.openError())
	}
	text, err := g.inner.Transcribe(ctx, audio)
	if err != nil {
		g.breaker.OnError(err)
		return "", err
	}
	g.breaker.OnSuccess()
	return text, nil
}

// openError carries the remaining open window as a retry hint so callers
// that back off do not spin against the breaker.
func (g *Guarded) openError() error {
	var wait time.Duration
	if until := g.breaker.OpenUntil(); !until.IsZero() {
		wait = time.Until(until)
	}
	return fmt.Errorf("%w: %w", resilience.ErrCircuitOpen, resilience.RateLimitError{Provider: g.inner.Name(), RetryAfter: wait})
}

var _ Transcriber = (*Guarded)(nil)
