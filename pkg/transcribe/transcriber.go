// Package transcribe defines the speech-to-text contract shared by the call
// orchestrator and the batch engine.
package transcribe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/harunnryd/callscribe/pkg/resilience"
)

// Audio is one recording to transcribe.
type Audio struct {
	Data     []byte
	Filename string
	MIMEType string
}

// Transcriber turns audio into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// Error is a speech-to-text failure. Transient failures (rate limit,
// network, server errors) may be retried; permanent ones (malformed or
// unsupported audio, bad credentials) must not.
type Error struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	msg := e.Provider + " transcription failed (" + kind + ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func Transient(provider string, err error) error {
	return &Error{Provider: provider, Transient: true, Err: err}
}

func Permanent(provider string, err error) error {
	return &Error{Provider: provider, Transient: false, Err: err}
}

// IsTransient reports whether err may succeed on retry. Unclassified errors
// count as transient; cancellation never does.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Transient
	}
	return true
}

// ClassifyStatus maps an HTTP status from a provider to transient or permanent.
func ClassifyStatus(provider string, status int, err error) error {
	return classify(provider, status, 0, err)
}

// ClassifyResponse is ClassifyStatus plus the Retry-After hint of resp.
func ClassifyResponse(provider string, resp *http.Response, err error) error {
	hint := resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return classify(provider, resp.StatusCode, hint, err)
}

func classify(provider string, status int, retryAfter time.Duration, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return Transient(provider, resilience.RateLimitError{Provider: provider, Message: err.Error(), RetryAfter: retryAfter})
	case status == 408 || status >= 500:
		return Transient(provider, err)
	default:
		return Permanent(provider, err)
	}
}
