package resilience

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitError is a provider refusing work because of request volume.
// RetryAfter carries the provider's hint when it sent one.
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if b.Len() == 0 {
		b.WriteString("provider")
	}
	b.WriteString(": rate limited")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// RetryAfterOf returns the retry hint carried by a rate limit in err's chain.
func RetryAfterOf(err error) time.Duration {
	var rl RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header value, either delta seconds or
// an HTTP date. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	at, err := http.ParseTime(v)
	if err != nil || !at.After(now) {
		return 0
	}
	return at.Sub(now)
}

var ErrCircuitOpen = errors.New("circuit open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker refuses work after threshold consecutive tripping errors.
// Once the cooldown (or a longer provider retry hint) elapses a single probe
// is let through: success closes the breaker, another trip reopens it.
// Only rate limits trip it.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     breakerState
	streak    int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
	probing   bool
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed. While half open only the first
// caller gets through until that probe reports back.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if c.now().Before(c.openUntil) {
			return false
		}
		c.state = breakerHalfOpen
		c.probing = true
		return true
	default:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	}
}

// OpenUntil is the end of the current open window, zero when not open.
func (c *CircuitBreaker) OpenUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != breakerOpen || !c.now().Before(c.openUntil) {
		return time.Time{}
	}
	return c.openUntil
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *CircuitBreaker) OnError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !IsRateLimit(err) {
		if c.state != breakerHalfOpen {
			return
		}
		// an abandoned probe proves nothing; any other answer does
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.probing = false
			return
		}
		c.reset()
		return
	}
	if c.state == breakerHalfOpen {
		c.open(err)
		return
	}
	c.streak++
	if c.streak >= c.threshold {
		c.open(err)
	}
}

func (c *CircuitBreaker) open(err error) {
	wait := c.cooldown
	if hint := RetryAfterOf(err); hint > wait {
		wait = hint
	}
	c.state = breakerOpen
	c.openUntil = c.now().Add(wait)
	c.streak = 0
	c.probing = false
}

func (c *CircuitBreaker) reset() {
	c.state = breakerClosed
	c.streak = 0
	c.openUntil = time.Time{}
	c.probing = false
}
