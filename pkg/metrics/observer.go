package metrics

import "time"

const (
	EventSessionTransition = "session_transition"
	EventSessionResult     = "session_result"
	EventDialResult        = "dial_result"
	EventBatchJob          = "batch_job"
	EventBatchProgress     = "batch_progress"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Transition builds the event published for every session state change.
func Transition(callID, from, to string, at time.Time) MetricsEvent {
	return MetricsEvent{
		Name:  EventSessionTransition,
		Time:  at,
		Value: 1,
		Tags: map[string]string{
			"call_id": callID,
			"from":    from,
			"to":      to,
		},
	}
}

// OrNoop returns obs, or a NoopObserver when obs is nil.
func OrNoop(obs Observer) Observer {
	if obs == nil {
		return NoopObserver{}
	}
	return obs
}
