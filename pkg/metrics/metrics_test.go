package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAsyncObserverDeliversBeforeClose(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 16)
	for i := 0; i < 10; i++ {
		a.RecordEvent(Transition("c1", "initiated", "answered", time.Now()))
	}
	a.Close()
	a.RecordEvent(Transition("c1", "answered", "recording", time.Now()))

	if got := len(mem.Named(EventSessionTransition)); got+int(a.Dropped()) != 10 || int64(got) != a.Delivered() {
		t.Fatalf("expected 10 delivered or dropped, got %d delivered %d dropped", got, a.Dropped())
	}
	a.Close()
}

func TestMemoryObserverTransitions(t *testing.T) {
	mem := NewMemoryObserver()
	mem.RecordEvent(Transition("c1", "initiated", "answered", time.Now()))
	mem.RecordEvent(Transition("c2", "initiated", "failed", time.Now()))
	mem.RecordEvent(Transition("c1", "answered", "recording", time.Now()))

	got := mem.Transitions("c1")
	if len(got) != 2 || got[0] != "initiated>answered" || got[1] != "answered>recording" {
		t.Fatalf("unexpected transitions %v", got)
	}
}

func TestJSONLObserverWritesLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	o, err := OpenJSONL(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	o.RecordEvent(Transition("c1", "initiated", "answered", time.Now()))
	o.RecordEvent(MetricsEvent{Name: EventBatchProgress, Time: time.Now(), Fields: map[string]any{"done": 3}})
	if err := o.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer f.Close()
	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["call_id"] != "c1" || lines[1]["name"] != EventBatchProgress {
		t.Fatalf("unexpected lines %v", lines)
	}
}
