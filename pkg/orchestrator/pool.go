package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/session"
)

// spawn runs fn for callID on the bounded worker pool. It never blocks the
// caller; work waits for a free slot on its own goroutine.
func (o *Orchestrator) spawn(callID string, fn func(ctx context.Context, callID string)) {
	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		o.fail(callID, nil, errorsx.Newf(errorsx.ReasonCanceled, "orchestrator closed"), "")
		return
	}
	o.work.add()
	o.mu.RUnlock()

	go func() {
		defer o.work.done()
		select {
		case o.sem <- struct{}{}:
		case <-o.ctx.Done():
			o.fail(callID, nil, o.ctx.Err(), "")
			return
		}
		defer func() { <-o.sem }()
		fn(o.ctx, callID)
	}()
}

// Start runs the staleness sweep until ctx is done or the orchestrator is
// closed.
func (o *Orchestrator) Start(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.ctx.Done():
				return
			case <-ticker.C:
				o.Sweep()
			}
		}
	}()
	o.logger.Info("orchestrator_started",
		"workers", o.cfg.Workers,
		"poll_attempts", o.cfg.PollAttempts,
		"transcribe_attempts", o.cfg.TranscribeAttempts,
		"session_timeout_s", int(o.cfg.SessionTimeout.Seconds()))
	return nil
}

// Sweep fails sessions that have not reached Transcribing within the
// session timeout and returns how many it failed.
func (o *Orchestrator) Sweep() int {
	cutoff := o.now().Add(-o.cfg.SessionTimeout)
	stale := o.table.Stale(cutoff,
		session.StateInitiated,
		session.StateAnswered,
		session.StateRecording,
		session.StateAwaitingRecording)
	n := 0
	for _, s := range stale {
		err := errorsx.Newf(errorsx.ReasonSessionTimeout, "still %s %s after dialing at %s", s.State, o.cfg.SessionTimeout, s.CreatedAt.Format(time.RFC3339))
		if o.fail(s.CallID, []session.State{s.State}, err, "") {
			n++
		}
	}
	if n > 0 {
		o.logger.Warn("stale_sessions_failed", "count", n)
	}
	if dropped := o.early.expire(o.now()); dropped > 0 {
		o.logger.Debug("early_events_expired", "calls", dropped)
	}
	return n
}

// Drain waits until no session work is in flight or ctx ends. Events keep
// being accepted meanwhile, so under steady traffic Drain returns only once
// a quiet moment is reached.
func (o *Orchestrator) Drain(ctx context.Context) error {
	select {
	case <-o.work.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all work and fails every session still live.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	<-o.work.idle()
	for _, s := range o.table.Snapshot() {
		o.fail(s.CallID, nil, errorsx.Newf(errorsx.ReasonCanceled, "shutdown"), "")
	}
	completed, failed := o.Stats()
	o.logger.Info("orchestrator_closed", "completed", completed, "failed", failed)
	return nil
}

// inflight counts running session goroutines. Unlike a WaitGroup it may be
// incremented while someone is waiting for it to reach zero.
type inflight struct {
	mu    sync.Mutex
	n     int
	empty chan struct{}
}

func newInflight() *inflight {
	empty := make(chan struct{})
	close(empty)
	return &inflight{empty: empty}
}

func (f *inflight) add() {
	f.mu.Lock()
	if f.n == 0 {
		f.empty = make(chan struct{})
	}
	f.n++
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	f.n--
	if f.n == 0 {
		close(f.empty)
	}
	f.mu.Unlock()
}

// idle is closed whenever the count is zero.
func (f *inflight) idle() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.empty
}
