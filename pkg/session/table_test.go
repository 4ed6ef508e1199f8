package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTableInsertGetRemove(t *testing.T) {
	tbl := NewTable()
	s := New("call-1", "trace-1", "+1FROM", "+1555000111", time.Now())
	if err := tbl.Insert(s); err != nil {
		t.Fatalf("insert error: %v", err)
	}
	if err := tbl.Insert(s); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	got, ok := tbl.Get("call-1")
	if !ok || got.ToNumber != "+1555000111" || got.State != StateInitiated {
		t.Fatalf("unexpected session: %+v", got)
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected len 1, got %d", tbl.Len())
	}
	if _, ok := tbl.Remove("call-1"); !ok {
		t.Fatalf("expected remove ok")
	}
	if _, ok := tbl.Get("call-1"); ok {
		t.Fatalf("expected session gone")
	}
	if _, ok := tbl.Remove("call-1"); ok {
		t.Fatalf("expected second remove to miss")
	}
}

func TestTableTransitionUnknown(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Transition("missing", []State{StateInitiated}, StateAnswered, nil)
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected unknown session, got %v", err)
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table")
	}
}

func TestTableTransitionRejectsWrongSource(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Insert(New("c", "", "a", "b", time.Now()))
	if _, err := tbl.Transition("c", []State{StateInitiated}, StateAnswered, nil); err != nil {
		t.Fatalf("transition error: %v", err)
	}
	_, err := tbl.Transition("c", []State{StateInitiated}, StateAnswered, nil)
	var inv *InvalidTransitionError
	if !errors.As(err, &inv) {
		t.Fatalf("expected invalid transition on re-delivery, got %v", err)
	}
	got, _ := tbl.Get("c")
	if got.State != StateAnswered {
		t.Fatalf("expected state unchanged, got %s", got.State)
	}
}

func TestTableTransitionRejectsGraphViolation(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Insert(New("c", "", "a", "b", time.Now()))
	_, err := tbl.Transition("c", []State{StateInitiated}, StateCompleted, nil)
	var inv *InvalidTransitionError
	if !errors.As(err, &inv) {
		t.Fatalf("expected graph violation, got %v", err)
	}
}

func TestTableTransitionMutates(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Insert(New("c", "", "a", "b", time.Now()))
	_, _ = tbl.Transition("c", []State{StateInitiated}, StateAnswered, nil)
	_, _ = tbl.Transition("c", []State{StateAnswered}, StateRecording, nil)
	got, err := tbl.Transition("c", []State{StateRecording}, StateTranscribing, func(s *Session) {
		s.RecordingURL = "https://x/rec.mp3"
	})
	if err != nil {
		t.Fatalf("transition error: %v", err)
	}
	if got.RecordingURL != "https://x/rec.mp3" || got.State != StateTranscribing {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestTableUpdateKeepsState(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Insert(New("c", "", "a", "b", time.Now()))
	got, err := tbl.Update("c", func(s *Session) {
		s.DurationSeconds = 7
		s.State = StateCompleted
	})
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if got.State != StateInitiated || got.DurationSeconds != 7 {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestTableSingleWinnerUnderContention(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Insert(New("c", "", "a", "b", time.Now()))
	_, _ = tbl.Transition("c", []State{StateInitiated}, StateAnswered, nil)
	_, _ = tbl.Transition("c", []State{StateAnswered}, StateRecording, nil)
	_, _ = tbl.Transition("c", []State{StateRecording}, StateAwaitingRecording, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tbl.Transition("c", []State{StateRecording, StateAwaitingRecording}, StateTranscribing, nil)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestTableTransitionAfterRemove(t *testing.T) {
	tbl := NewTable()
	_ = tbl.Insert(New("c", "", "a", "b", time.Now()))
	tbl.Remove("c")
	if _, err := tbl.Transition("c", []State{StateInitiated}, StateAnswered, nil); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected unknown session, got %v", err)
	}
}

func TestTableStale(t *testing.T) {
	tbl := NewTable()
	base := time.Unix(1000, 0)
	for i := 0; i < 4; i++ {
		s := New(fmt.Sprintf("c%d", i), "", "a", "b", base.Add(time.Duration(i)*time.Minute))
		_ = tbl.Insert(s)
	}
	_, _ = tbl.Transition("c0", []State{StateInitiated}, StateAnswered, nil)
	stale := tbl.Stale(base.Add(150*time.Second), StateInitiated)
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale initiated sessions, got %d", len(stale))
	}
	if len(tbl.Snapshot()) != 4 {
		t.Fatalf("expected snapshot of 4")
	}
}
