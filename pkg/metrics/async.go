package metrics

import "sync/atomic"

// AsyncObserver moves event delivery off the caller's goroutine. Lifecycle
// transitions happen under session locks, so a slow file or a stalled
// websocket must never hold them up: when the queue is full the event is
// counted as dropped instead.
type AsyncObserver struct {
	inner Observer
	queue chan MetricsEvent
	quit  chan struct{}
	done  chan struct{}
	stop  atomic.Bool

	delivered atomic.Int64
	dropped   atomic.Int64
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner: OrNoop(inner),
		queue: make(chan MetricsEvent, buffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil || a.stop.Load() {
		return
	}
	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
	}
}

func (a *AsyncObserver) Dropped() int64 { return a.dropped.Load() }

// Delivered counts events handed to the inner observer.
func (a *AsyncObserver) Delivered() int64 { return a.delivered.Load() }

// Close delivers what is already queued, flushes the inner observer and
// ignores later events. It is safe to call more than once.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	if a.stop.CompareAndSwap(false, true) {
		close(a.quit)
	}
	<-a.done
	if f, ok := a.inner.(Flusher); ok {
		_ = f.Flush()
	}
}

func (a *AsyncObserver) run() {
	defer close(a.done)
	for {
		select {
		case ev := <-a.queue:
			a.deliver(ev)
		case <-a.quit:
			for {
				select {
				case ev := <-a.queue:
					a.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncObserver) deliver(ev MetricsEvent) {
	a.inner.RecordEvent(ev)
	a.delivered.Add(1)
}
