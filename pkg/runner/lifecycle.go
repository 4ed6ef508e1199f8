package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var ErrDrainTimeout = errors.New("drain timeout")

// LifecycleRunner runs the start hook, parks until its context ends or Stop
// is called, then drains the Drainer under a deadline and runs the stop hook.
// Shutdown happens once no matter how many callers trigger it.
type LifecycleRunner struct {
	mode         string
	hooks        Hooks
	drainer      Drainer
	drainTimeout time.Duration

	state    atomic.Int32
	stopReq  chan struct{}
	reqOnce  sync.Once
	shutOnce sync.Once
	finished chan struct{}
	result   error
}

func NewLifecycleRunner(mode string, drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		mode:         mode,
		hooks:        hooks,
		drainer:      drainer,
		drainTimeout: timeout,
		stopReq:      make(chan struct{}),
		finished:     make(chan struct{}),
	}
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return fmt.Errorf("runner already %s", r.State())
	}
	PrintBanner(r.mode)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if start := r.hooks.OnStart; start != nil {
		if err := start(runCtx); err != nil {
			r.state.Store(int32(StateStopped))
			close(r.finished)
			return fmt.Errorf("start: %w", err)
		}
	}
	r.state.Store(int32(StateRunning))

	select {
	case <-runCtx.Done():
	case <-r.stopReq:
	}
	cancel()
	return r.shutdown()
}

// Stop asks a running Run to wind down and waits for the drain to finish.
// Before Run it only marks the runner stopped.
func (r *LifecycleRunner) Stop() error {
	r.reqOnce.Do(func() { close(r.stopReq) })
	if r.state.CompareAndSwap(int32(StateNew), int32(StateStopped)) {
		r.shutOnce.Do(func() { close(r.finished) })
		return nil
	}
	<-r.finished
	return r.result
}

func (r *LifecycleRunner) State() State { return State(r.state.Load()) }

// Done is closed once the runner has fully stopped.
func (r *LifecycleRunner) Done() <-chan struct{} { return r.finished }

func (r *LifecycleRunner) shutdown() error {
	r.shutOnce.Do(func() {
		defer close(r.finished)
		r.state.Store(int32(StateDraining))
		r.result = r.drain()
		if stop := r.hooks.OnStop; stop != nil {
			stop()
		}
		r.state.Store(int32(StateStopped))
	})
	return r.result
}

func (r *LifecycleRunner) drain() error {
	if r.drainer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()
	err := r.drainer.Drain(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrDrainTimeout
	}
	return err
}
