package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger", "attempts.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedgerRecordAndGet(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := l.Record(ctx, Attempt{
		CallID: "c1", TraceID: "t1", From: "+1FROM", To: "+1555000111",
		State: "completed", Transcript: "hello world",
		DurationSeconds: 12, HasDuration: true,
		CreatedAt: created, FinishedAt: created.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := l.Get(ctx, "c1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Transcript != "hello world" || !got.HasDuration || got.DurationSeconds != 12 {
		t.Fatalf("unexpected attempt %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at mismatch: %v", got.CreatedAt)
	}

	missing, err := l.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing attempt, got %v %v", missing, err)
	}
}

func TestLedgerUpsertAndCounts(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	_ = l.Record(ctx, Attempt{CallID: "c1", State: "failed", Reason: "no_answer"})
	_ = l.Record(ctx, Attempt{CallID: "c2", State: "failed", Reason: "session_timeout"})
	_ = l.Record(ctx, Attempt{CallID: "c1", State: "completed", Transcript: "hi"})

	counts, err := l.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["completed"] != 1 || counts["failed"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}

	failed, err := l.List(ctx, "failed", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(failed) != 1 || failed[0].CallID != "c2" || failed[0].HasDuration {
		t.Fatalf("unexpected failed list %+v", failed)
	}
}
