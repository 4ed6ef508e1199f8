package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/callscribe/pkg/metrics"
)

// LatencyObserver follows session transitions and logs per-phase timings
// once a call reaches a terminal state.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	initiated    time.Time
	answered     time.Time
	recording    time.Time
	transcribing time.Time
	finished     time.Time
	outcome      string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	if ev.Name != metrics.EventSessionTransition || ev.Tags == nil {
		return
	}
	callID := ev.Tags["call_id"]
	if callID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.traces[callID]
	if t == nil {
		t = &trace{}
		o.traces[callID] = t
	}
	switch ev.Tags["to"] {
	case "initiated":
		setOnce(&t.initiated, ev.Time)
	case "answered":
		setOnce(&t.answered, ev.Time)
	case "recording", "awaiting_recording":
		setOnce(&t.recording, ev.Time)
	case "transcribing":
		setOnce(&t.transcribing, ev.Time)
	case "completed", "failed":
		t.finished = ev.Time
		t.outcome = ev.Tags["to"]
		o.logLocked(callID, t)
		delete(o.traces, callID)
	}
}

// Pending reports how many calls are still being tracked.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}

func (o *LatencyObserver) logLocked(callID string, t *trace) {
	o.log.Info("call_latency",
		"call_id", callID,
		"outcome", t.outcome,
		"ring_ms", durationMs(t.initiated, t.answered),
		"record_ms", durationMs(t.recording, t.transcribing),
		"transcribe_ms", durationMs(t.transcribing, t.finished),
		"total_ms", durationMs(t.initiated, t.finished),
	)
}

func setOnce(dst *time.Time, at time.Time) {
	if dst.IsZero() {
		*dst = at
	}
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
