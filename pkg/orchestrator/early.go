package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/callscribe/pkg/events"
)

// maxParkedCalls bounds the early-event buffer so a stream of stray
// callbacks cannot grow it without limit.
const maxParkedCalls = 1024

type parkedCall struct {
	first  time.Time
	events []events.Event
}

// earlyEvents holds callbacks that reached us before the dialer registered
// their call. The provider may answer before Originate returns.
type earlyEvents struct {
	mu    sync.Mutex
	ttl   time.Duration
	calls map[string]*parkedCall
}

func newEarlyEvents(ttl time.Duration) *earlyEvents {
	return &earlyEvents{ttl: ttl, calls: make(map[string]*parkedCall)}
}

func (e *earlyEvents) park(ev events.Event, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expireLocked(now)
	p, ok := e.calls[ev.CallID()]
	if !ok {
		if len(e.calls) >= maxParkedCalls {
			return false
		}
		p = &parkedCall{first: now}
		e.calls[ev.CallID()] = p
	}
	p.events = append(p.events, ev)
	return true
}

func (e *earlyEvents) take(callID string) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.calls[callID]
	if !ok {
		return nil
	}
	delete(e.calls, callID)
	return p.events
}

// expire drops calls parked longer than the ttl and returns how many.
func (e *earlyEvents) expire(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expireLocked(now)
}

func (e *earlyEvents) expireLocked(now time.Time) int {
	n := 0
	for id, p := range e.calls {
		if now.Sub(p.first) > e.ttl {
			delete(e.calls, id)
			n++
		}
	}
	return n
}

// parkEarly keeps an event for a call the table does not know yet. The
// table is checked again after parking so an insert that landed in between
// still sees the event.
func (o *Orchestrator) parkEarly(ctx context.Context, ev events.Event) bool {
	if !o.early.park(ev, o.now()) {
		return false
	}
	o.logger.Debug("event_parked", "call_id", ev.CallID(), "event", ev.Name())
	if _, ok := o.table.Get(ev.CallID()); ok {
		o.Registered(ctx, ev.CallID())
	}
	return true
}

// Registered replays events that arrived before callID was added to the
// table, in arrival order. The dialer calls it right after registering a
// session.
func (o *Orchestrator) Registered(ctx context.Context, callID string) {
	for _, ev := range o.early.take(callID) {
		outcome := o.Handle(ctx, ev)
		o.logger.Info("early_event_replayed", "call_id", callID, "event", ev.Name(), "outcome", outcome.String())
	}
}
