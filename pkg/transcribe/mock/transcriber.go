package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/callscribe/pkg/transcribe"
)

type Config struct {
	Transcript string `mapstructure:"transcript"`
}

// Transcriber returns a fixed transcript and records what it was asked to
// transcribe. Failures can be scripted with FailWith.
type Transcriber struct {
	cfg   Config
	mu    sync.Mutex
	calls []transcribe.Audio
	fails []error
}

func New(cfg Config) *Transcriber {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Transcriber{cfg: cfg}
}

func (m *Transcriber) Name() string { return "mock" }

// FailWith queues errors returned by the next calls, in order.
func (m *Transcriber) FailWith(errs ...error) {
	m.mu.Lock()
	m.fails = append(m.fails, errs...)
	m.mu.Unlock()
}

func (m *Transcriber) Transcribe(ctx context.Context, audio transcribe.Audio) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, audio)
	if len(m.fails) > 0 {
		err := m.fails[0]
		m.fails = m.fails[1:]
		return "", err
	}
	if len(audio.Data) == 0 {
		return "", transcribe.Permanent("mock", errors.New("empty audio"))
	}
	return m.cfg.Transcript, nil
}

func (m *Transcriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ transcribe.Transcriber = (*Transcriber)(nil)
