package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type drainFunc func(ctx context.Context) error

func (f drainFunc) Drain(ctx context.Context) error { return f(ctx) }

func init() {
	BannerOutput = nil
}

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not return")
		return nil
	}
}

func TestLifecycleRunnerDrainsOnCancel(t *testing.T) {
	var drained, stopped atomic.Bool
	started := make(chan struct{})
	r := NewLifecycleRunner("listen", drainFunc(func(ctx context.Context) error {
		drained.Store(true)
		return nil
	}), Hooks{
		OnStart: func(ctx context.Context) error { close(started); return nil },
		OnStop:  func() { stopped.Store(true) },
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	<-started
	if r.State() != StateRunning {
		t.Fatalf("expected running, got %s", r.State())
	}
	cancel()

	if err := waitResult(t, errCh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !drained.Load() || !stopped.Load() {
		t.Fatalf("drained=%v stopped=%v", drained.Load(), stopped.Load())
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
}

func TestLifecycleRunnerStopFromWorker(t *testing.T) {
	var drains atomic.Int32
	var r *LifecycleRunner
	r = NewLifecycleRunner("listen", drainFunc(func(ctx context.Context) error {
		drains.Add(1)
		return nil
	}), Hooks{
		OnStart: func(ctx context.Context) error {
			go func() { _ = r.Stop() }()
			return nil
		},
	}, time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()
	if err := waitResult(t, errCh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-r.Done()
	if err := r.Stop(); err != nil {
		t.Fatalf("repeat stop: %v", err)
	}
	if n := drains.Load(); n != 1 {
		t.Fatalf("expected a single drain, got %d", n)
	}
}

func TestLifecycleRunnerDrainTimeout(t *testing.T) {
	r := NewLifecycleRunner("listen", drainFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), Hooks{}, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
}

func TestLifecycleRunnerStartFailure(t *testing.T) {
	boom := errors.New("boom")
	r := NewLifecycleRunner("listen", nil, Hooks{
		OnStart: func(ctx context.Context) error { return boom },
	}, time.Second)
	if err := r.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected start error, got %v", err)
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("second run must fail")
	}
	select {
	case <-r.Done():
	default:
		t.Fatalf("expected done after failed start")
	}
}

func TestLifecycleRunnerStopBeforeRun(t *testing.T) {
	r := NewLifecycleRunner("batch", nil, Hooks{}, 0)
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("run after stop must fail")
	}
}
