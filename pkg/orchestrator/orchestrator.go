// Package orchestrator drives outbound call sessions through their lifecycle
// in response to provider events.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/callscribe/pkg/callcontrol"
	"github.com/harunnryd/callscribe/pkg/events"
	"github.com/harunnryd/callscribe/pkg/ledger"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/metrics"
	"github.com/harunnryd/callscribe/pkg/redact"
	"github.com/harunnryd/callscribe/pkg/resilience"
	"github.com/harunnryd/callscribe/pkg/session"
	"github.com/harunnryd/callscribe/pkg/sink"
	"github.com/harunnryd/callscribe/pkg/transcribe"
)

type Config struct {
	PromptURL      string
	RecordFormat   string
	RecordChannels string

	PollInterval time.Duration
	PollAttempts int

	TranscribeAttempts   int
	TranscribeBackoff    time.Duration
	TranscribeMaxBackoff time.Duration

	// Workers bounds concurrent post-recording work across all sessions.
	Workers int

	SessionTimeout time.Duration
	SweepInterval  time.Duration

	// EarlyEventTTL is how long callbacks for a call that is not registered
	// yet are kept for replay.
	EarlyEventTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.RecordFormat == "" {
		c.RecordFormat = "mp3"
	}
	if c.RecordChannels == "" {
		c.RecordChannels = "single"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 12
	}
	if c.TranscribeAttempts <= 0 {
		c.TranscribeAttempts = 5
	}
	if c.TranscribeBackoff <= 0 {
		c.TranscribeBackoff = 2 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 16
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 15 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.EarlyEventTTL <= 0 {
		c.EarlyEventTTL = 30 * time.Second
	}
	return c
}

// ResultSink receives one record per completed call.
type ResultSink interface {
	Append(rec sink.CallRecord) error
}

// Ledger stores the outcome of every finished attempt.
type Ledger interface {
	Record(ctx context.Context, a ledger.Attempt) error
}

type Deps struct {
	Table       *session.Table
	Calls       callcontrol.Client
	Transcriber transcribe.Transcriber
	Sink        ResultSink
	Ledger      Ledger
	Observer    metrics.Observer
	Logger      *slog.Logger
}

// Outcome tells the caller whether an event changed anything.
type Outcome int

const (
	Ignored Outcome = iota
	Applied
)

func (o Outcome) String() string {
	if o == Applied {
		return "applied"
	}
	return "ignored"
}

type Orchestrator struct {
	cfg    Config
	table  *session.Table
	calls  callcontrol.Client
	stt    transcribe.Transcriber
	sink   ResultSink
	ledger Ledger
	obs    metrics.Observer
	logger *slog.Logger

	sem    chan struct{}
	work   *inflight
	early  *earlyEvents
	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	completed atomic.Int64
	failed    atomic.Int64
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Table == nil || deps.Calls == nil || deps.Transcriber == nil || deps.Sink == nil {
		return nil, errors.New("orchestrator: table, call control, transcriber and sink are required")
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:    cfg,
		table:  deps.Table,
		calls:  deps.Calls,
		stt:    deps.Transcriber,
		sink:   deps.Sink,
		ledger: deps.Ledger,
		obs:    metrics.OrNoop(deps.Observer),
		logger: logging.NewComponentLogger(deps.Logger, "orchestrator"),
		sem:    make(chan struct{}, cfg.Workers),
		work:   newInflight(),
		early:  newEarlyEvents(cfg.EarlyEventTTL),
		ctx:    ctx,
		cancel: cancel,
		sleep:  resilience.SleepContext,
		now:    time.Now,
	}, nil
}

func (o *Orchestrator) Name() string { return "orchestrator" }

// Active returns the number of live sessions.
func (o *Orchestrator) Active() int { return o.table.Len() }

// Stats returns how many sessions finished completed and failed.
func (o *Orchestrator) Stats() (completed, failed int64) {
	return o.completed.Load(), o.failed.Load()
}

// Handle applies one provider event. Events for unknown calls, duplicates
// and events that arrive in a state they do not apply to are absorbed and
// reported as Ignored; they are never errors.
func (o *Orchestrator) Handle(ctx context.Context, ev events.Event) Outcome {
	if ev == nil {
		return Ignored
	}
	switch e := ev.(type) {
	case events.Initiated:
		o.absorb(e.CallID(), e.Name(), nil)
		return Ignored
	case events.Answered:
		return o.onAnswered(ctx, e)
	case events.Hangup:
		return o.onHangup(ctx, e)
	case events.RecordingSaved:
		return o.onRecordingSaved(ctx, e)
	default:
		o.absorb(ev.CallID(), ev.Name(), nil)
		return Ignored
	}
}

func (o *Orchestrator) onAnswered(ctx context.Context, e events.Answered) Outcome {
	s, err := o.move(e.ID, []session.State{session.StateInitiated}, session.StateAnswered, nil)
	if err != nil {
		if errors.Is(err, session.ErrUnknownSession) && o.parkEarly(ctx, e) {
			return Ignored
		}
		o.absorb(e.ID, e.Name(), err)
		return Ignored
	}
	o.logger.Info("call_answered", o.attrs(s)...)

	cmdCtx := context.WithoutCancel(ctx)
	if o.cfg.PromptURL != "" {
		if err := o.calls.StartPlayback(cmdCtx, s.CallID, o.cfg.PromptURL); err != nil {
			o.fail(s.CallID, []session.State{session.StateAnswered}, err, "")
			return Applied
		}
	}
	if err := o.calls.StartRecording(cmdCtx, s.CallID, o.cfg.RecordFormat, o.cfg.RecordChannels); err != nil {
		o.fail(s.CallID, []session.State{session.StateAnswered}, err, "")
		return Applied
	}
	if _, err := o.move(s.CallID, []session.State{session.StateAnswered}, session.StateRecording, nil); err != nil {
		// A hangup raced the commands and already moved the session on.
		o.logger.Debug("recording_start_superseded", "call_id", e.ID, "error", err.Error())
	}
	return Applied
}

func (o *Orchestrator) onHangup(ctx context.Context, e events.Hangup) Outcome {
	fillDuration := func(s *session.Session) {
		if e.HasDuration && !s.HasDuration {
			s.DurationSeconds = e.DurationSeconds
			s.HasDuration = true
		}
	}
	s, err := o.move(e.ID,
		[]session.State{session.StateAnswered, session.StateRecording},
		session.StateAwaitingRecording, fillDuration)
	if err == nil {
		o.logger.Info("call_hangup", append(o.attrs(s), "cause", e.Cause)...)
		o.spawn(s.CallID, o.pollRecording)
		return Applied
	}

	var inv *session.InvalidTransitionError
	if errors.As(err, &inv) && inv.From == session.StateInitiated {
		s, err = o.move(e.ID, []session.State{session.StateInitiated}, session.StateFailed, fillDuration)
		if err == nil {
			cause := e.Cause
			if cause == "" {
				cause = "hangup before answer"
			}
			o.finishFailed(s, errNoAnswer(cause), "")
			return Applied
		}
	}
	if errors.As(err, &inv) && e.HasDuration {
		_, _ = o.table.Update(e.ID, fillDuration)
	}
	if errors.Is(err, session.ErrUnknownSession) && o.parkEarly(ctx, e) {
		return Ignored
	}
	o.absorb(e.ID, e.Name(), err)
	return Ignored
}

func (o *Orchestrator) onRecordingSaved(ctx context.Context, e events.RecordingSaved) Outcome {
	apply := func(s *session.Session) {
		if e.URL != "" {
			s.RecordingURL = e.URL
		}
		if e.HasDuration && !s.HasDuration {
			s.DurationSeconds = e.DurationSeconds
			s.HasDuration = true
		}
	}
	if e.URL == "" {
		o.absorb(e.ID, e.Name(), errors.New("recording url missing"))
		return Ignored
	}
	s, err := o.move(e.ID,
		[]session.State{session.StateRecording, session.StateAwaitingRecording},
		session.StateTranscribing, apply)
	if err == nil {
		o.logger.Info("recording_saved", o.attrs(s)...)
		o.spawn(s.CallID, o.transcribeSession)
		return Applied
	}
	var inv *session.InvalidTransitionError
	if errors.As(err, &inv) && (inv.From == session.StateInitiated || inv.From == session.StateAnswered) {
		// Early artifact: keep the url so the poller can use it after hangup.
		_, _ = o.table.Update(e.ID, apply)
	}
	if errors.Is(err, session.ErrUnknownSession) && o.parkEarly(ctx, e) {
		return Ignored
	}
	o.absorb(e.ID, e.Name(), err)
	return Ignored
}

func (o *Orchestrator) absorb(callID, event string, err error) {
	attrs := []any{"call_id", callID, "event", event}
	if err != nil {
		attrs = append(attrs, "reason", err.Error())
	}
	o.logger.Debug("event_ignored", attrs...)
}

// move is a compare-and-transition on the table that publishes the
// transition when it succeeds.
func (o *Orchestrator) move(callID string, from []session.State, to session.State, mutate func(*session.Session)) (session.Session, error) {
	var prev session.State
	s, err := o.table.Transition(callID, from, to, func(s *session.Session) {
		prev = s.State
		if mutate != nil {
			mutate(s)
		}
	})
	if err != nil {
		return s, err
	}
	ev := metrics.Transition(s.CallID, prev.String(), s.State.String(), o.now())
	if s.TraceID != "" {
		ev.Tags["trace_id"] = s.TraceID
	}
	o.obs.RecordEvent(ev)
	return s, nil
}

func (o *Orchestrator) attrs(s session.Session) []any {
	return []any{
		"call_id", s.CallID,
		"trace_id", s.TraceID,
		"to", redact.Number(s.ToNumber),
		"state", s.State.String(),
	}
}
