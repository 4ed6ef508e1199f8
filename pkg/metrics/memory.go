package metrics

import "sync"

type MemoryObserver struct {
	mu     sync.Mutex
	Events []MetricsEvent
}

func NewMemoryObserver() *MemoryObserver {
	return &MemoryObserver{}
}

func (m *MemoryObserver) RecordEvent(ev MetricsEvent) {
	m.mu.Lock()
	m.Events = append(m.Events, ev)
	m.mu.Unlock()
}

// Named returns a copy of the recorded events with the given name.
func (m *MemoryObserver) Named(name string) []MetricsEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MetricsEvent
	for _, ev := range m.Events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Transitions returns the "from>to" pairs recorded for callID, in order.
func (m *MemoryObserver) Transitions(callID string) []string {
	var out []string
	for _, ev := range m.Named(EventSessionTransition) {
		if ev.Tags["call_id"] == callID {
			out = append(out, ev.Tags["from"]+">"+ev.Tags["to"])
		}
	}
	return out
}
