package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harunnryd/callscribe/pkg/ledger"
)

type memAttempts struct {
	rows []ledger.Attempt
}

func (m *memAttempts) Get(ctx context.Context, callID string) (*ledger.Attempt, error) {
	for i := range m.rows {
		if m.rows[i].CallID == callID {
			return &m.rows[i], nil
		}
	}
	return nil, nil
}

func (m *memAttempts) List(ctx context.Context, state string, limit int) ([]ledger.Attempt, error) {
	var out []ledger.Attempt
	for _, a := range m.rows {
		if state == "" || a.State == state {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memAttempts) Counts(ctx context.Context) (map[string]int, error) {
	out := map[string]int{}
	for _, a := range m.rows {
		out[a.State]++
	}
	return out, nil
}

func get(s http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestAttemptRoutes(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	store := &memAttempts{rows: []ledger.Attempt{
		{CallID: "c1", State: "completed", DurationSeconds: 7, HasDuration: true, CreatedAt: now, FinishedAt: now},
		{CallID: "c2", State: "failed", Reason: "no_answer", CreatedAt: now, FinishedAt: now},
	}}
	s := NewServer(Config{}, &recorder{}, nil, nil, nil)
	s.MountAttempts(store)

	w := get(s, "/attempts?state=failed")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d %s", w.Code, w.Body.String())
	}
	var list struct {
		Items  []attemptResponse `json:"items"`
		Counts map[string]int    `json:"counts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].CallID != "c2" || list.Items[0].DurationSeconds != nil {
		t.Fatalf("unexpected items %+v", list.Items)
	}
	if list.Counts["completed"] != 1 || list.Counts["failed"] != 1 {
		t.Fatalf("unexpected counts %v", list.Counts)
	}

	w = get(s, "/attempts/c1")
	var one attemptResponse
	if err := json.Unmarshal(w.Body.Bytes(), &one); err != nil || w.Code != http.StatusOK {
		t.Fatalf("get c1: %d %v", w.Code, err)
	}
	if one.DurationSeconds == nil || *one.DurationSeconds != 7 || one.FinishedAt != now.Format(time.RFC3339) {
		t.Fatalf("unexpected attempt %+v", one)
	}

	if w := get(s, "/attempts/missing"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := get(s, "/attempts?limit=0"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
	if w := get(s, "/attempts?state=ringing"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad state, got %d", w.Code)
	}
}

func TestAttemptRoutesAbsentWithoutStore(t *testing.T) {
	s := NewServer(Config{}, &recorder{}, nil, nil, nil)
	s.MountAttempts(nil)
	if w := get(s, "/attempts"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a ledger, got %d", w.Code)
	}
}
