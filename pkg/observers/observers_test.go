package observers

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/callscribe/pkg/metrics"
	"github.com/harunnryd/callscribe/pkg/redact"
)

func TestLatencyObserverLogsOnTerminal(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	o := NewLatencyObserver(log)
	start := time.Now()

	o.RecordEvent(metrics.Transition("c1", "", "initiated", start))
	o.RecordEvent(metrics.Transition("c1", "initiated", "answered", start.Add(2*time.Second)))
	o.RecordEvent(metrics.Transition("c1", "answered", "recording", start.Add(3*time.Second)))
	if o.Pending() != 1 {
		t.Fatalf("expected one pending trace")
	}
	o.RecordEvent(metrics.Transition("c1", "recording", "transcribing", start.Add(20*time.Second)))
	o.RecordEvent(metrics.Transition("c1", "transcribing", "completed", start.Add(21*time.Second)))

	if o.Pending() != 0 {
		t.Fatalf("expected trace to be released")
	}
	out := buf.String()
	if !strings.Contains(out, "ring_ms=2000") || !strings.Contains(out, "total_ms=21000") || !strings.Contains(out, "outcome=completed") {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestLoggerObserverRedactsTags(t *testing.T) {
	redact.SetEnabled(true)
	defer redact.SetEnabled(false)

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	multi := NewMultiObserver(NewLoggerObserver(log))
	mem := metrics.NewMemoryObserver()
	multi.Add(mem)

	multi.RecordEvent(metrics.MetricsEvent{Name: metrics.EventDialResult, Time: time.Now(), Tags: map[string]string{"to_number": "+15550001111"}})

	if strings.Contains(buf.String(), "15550001111") {
		t.Fatalf("expected phone number to be redacted: %s", buf.String())
	}
	if len(mem.Events) != 1 {
		t.Fatalf("expected fan-out to memory observer")
	}
}
