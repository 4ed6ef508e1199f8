package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/callscribe/pkg/sink"
	"github.com/harunnryd/callscribe/pkg/transcribe"
)

type scripted struct {
	mu       sync.Mutex
	failures map[string]int
	perm     map[string]bool
	calls    map[string]int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Transcribe(ctx context.Context, audio transcribe.Audio) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[audio.Filename]++
	if s.perm[audio.Filename] {
		return "", transcribe.Permanent("scripted", errors.New("unsupported format"))
	}
	if s.failures[audio.Filename] > 0 {
		s.failures[audio.Filename]--
		return "", transcribe.Transient("scripted", errors.New("rate limited"))
	}
	return "text of " + audio.Filename, nil
}

type memSink struct {
	mu   sync.Mutex
	rows []sink.BatchRecord
}

func (m *memSink) Append(rec sink.BatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rec)
	return nil
}

func newEngine(t *testing.T, stt transcribe.Transcriber, out ResultSink, waits *[]time.Duration) *Engine {
	t.Helper()
	e, err := New(Config{BaseDelay: 10 * time.Second}, stt, out, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var mu sync.Mutex
	e.sleep = func(ctx context.Context, d time.Duration) error {
		if waits != nil {
			mu.Lock()
			*waits = append(*waits, d)
			mu.Unlock()
		}
		return ctx.Err()
	}
	e.readFile = func(path string) ([]byte, error) {
		if filepath.Base(path) == "unreadable.wav" {
			return nil, os.ErrPermission
		}
		return []byte("audio"), nil
	}
	return e
}

func TestBatchSucceedsOnTenthAttempt(t *testing.T) {
	stt := &scripted{failures: map[string]int{"a.wav": 9}}
	out := &memSink{}
	var waits []time.Duration
	e := newEngine(t, stt, out, &waits)

	report := e.Run(context.Background(), []string{"/audio/a.wav"})

	if report.Succeeded != 1 || len(report.Failed) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if stt.calls["a.wav"] != 10 {
		t.Fatalf("expected 10 attempts, got %d", stt.calls["a.wav"])
	}
	if len(waits) != 9 {
		t.Fatalf("expected 9 waits, got %d", len(waits))
	}
	for i := 1; i < len(waits); i++ {
		if waits[i] < waits[i-1] {
			t.Fatalf("waits must be non-decreasing: %v", waits)
		}
	}
	if waits[0] != 10*time.Second || waits[1] != 20*time.Second {
		t.Fatalf("unexpected backoff schedule %v", waits)
	}
	if len(out.rows) != 1 || out.rows[0].Filename != "a.wav" {
		t.Fatalf("unexpected rows %+v", out.rows)
	}
}

func TestBatchFailsAfterTenAttempts(t *testing.T) {
	stt := &scripted{failures: map[string]int{"a.wav": 10}}
	out := &memSink{}
	e := newEngine(t, stt, out, nil)

	report := e.Run(context.Background(), []string{"/audio/a.wav"})

	if report.Succeeded != 0 || len(report.Failed) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	f := report.Failed[0]
	if f.Filename != "a.wav" || f.Attempts != 10 || f.Err == nil {
		t.Fatalf("unexpected failure %+v", f)
	}
	if len(out.rows) != 0 {
		t.Fatalf("failed job must not be written")
	}
}

func TestBatchPartialSuccessAccountsForEveryJob(t *testing.T) {
	const n = 30
	stt := &scripted{
		failures: map[string]int{},
		perm:     map[string]bool{"f3.wav": true, "f17.wav": true},
	}
	var files []string
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("f%d.wav", i)
		files = append(files, "/audio/"+name)
		stt.failures[name] = i % 4
	}
	files = append(files, "/audio/unreadable.wav")
	out := &memSink{}
	e := newEngine(t, stt, out, nil)

	report := e.Run(context.Background(), files)

	if report.Succeeded+len(report.Failed) != len(files) {
		t.Fatalf("succeeded %d + failed %d != %d", report.Succeeded, len(report.Failed), len(files))
	}
	if len(report.Failed) != 3 {
		t.Fatalf("expected 3 failures, got %+v", report.Failed)
	}
	if stt.calls["f3.wav"] != 1 {
		t.Fatalf("permanent failure must not be retried")
	}
	if len(out.rows) != report.Succeeded {
		t.Fatalf("rows %d != succeeded %d", len(out.rows), report.Succeeded)
	}
	done, _, _ := e.Progress().Snapshot()
	if done != int64(len(files)) || report.RunID == "" {
		t.Fatalf("unexpected progress %d run %q", done, report.RunID)
	}
}

func TestBatchCanceledRunFailsRemainingJobs(t *testing.T) {
	stt := &scripted{failures: map[string]int{"a.wav": 100}}
	ctx, cancel := context.WithCancel(context.Background())
	e := newEngine(t, stt, &memSink{}, nil)
	e.sleep = func(c context.Context, d time.Duration) error {
		cancel()
		return c.Err()
	}
	report := e.Run(ctx, []string{"/audio/a.wav", "/audio/b.wav"})
	if report.Succeeded+len(report.Failed) != 2 {
		t.Fatalf("every job must be accounted for: %+v", report)
	}
	if len(report.Failed) == 0 || !errors.Is(report.Failed[0].Err, context.Canceled) {
		t.Fatalf("expected a canceled failure, got %+v", report.Failed)
	}
}

func TestListAudioFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.MP3", "a.wav", "notes.txt", "c.webm"} {
		_ = os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)
	}
	_ = os.Mkdir(filepath.Join(dir, "nested.wav"), 0o755)

	files, err := ListAudioFiles(dir, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 3 || filepath.Base(files[0]) != "a.wav" || filepath.Base(files[1]) != "b.MP3" {
		t.Fatalf("unexpected files %v", files)
	}
	if _, err := ListAudioFiles(filepath.Join(dir, "missing"), nil); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
