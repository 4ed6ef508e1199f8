package webhook

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harunnryd/callscribe/pkg/ledger"
	"github.com/harunnryd/callscribe/pkg/redact"
)

// AttemptStore reads finished call attempts.
type AttemptStore interface {
	Get(ctx context.Context, callID string) (*ledger.Attempt, error)
	List(ctx context.Context, state string, limit int) ([]ledger.Attempt, error)
	Counts(ctx context.Context) (map[string]int, error)
}

const maxAttemptsLimit = 500

type attemptResponse struct {
	CallID          string `json:"call_id"`
	TraceID         string `json:"trace_id"`
	From            string `json:"from"`
	To              string `json:"to"`
	State           string `json:"state"`
	Reason          string `json:"reason,omitempty"`
	Transcript      string `json:"transcript,omitempty"`
	DurationSeconds *int   `json:"duration_seconds"`
	CreatedAt       string `json:"created_at"`
	FinishedAt      string `json:"finished_at"`
}

func toAttemptResponse(a ledger.Attempt) attemptResponse {
	resp := attemptResponse{
		CallID:     a.CallID,
		TraceID:    a.TraceID,
		From:       redact.Number(a.From),
		To:         redact.Number(a.To),
		State:      a.State,
		Reason:     a.Reason,
		Transcript: redact.Text(a.Transcript),
		CreatedAt:  a.CreatedAt.Format(time.RFC3339),
		FinishedAt: a.FinishedAt.Format(time.RFC3339),
	}
	if a.HasDuration {
		d := a.DurationSeconds
		resp.DurationSeconds = &d
	}
	return resp
}

// MountAttempts exposes the attempt ledger read-only under /attempts.
func (s *Server) MountAttempts(store AttemptStore) {
	if store == nil {
		return
	}
	s.attempts = store
	s.router.Route("/attempts", func(r chi.Router) {
		r.Get("/", s.handleListAttempts)
		r.Get("/{callID}", s.handleGetAttempt)
	})
}

// handleListAttempts returns the newest attempts plus per-state totals.
// Query params: state, limit.
func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxAttemptsLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxAttemptsLimit))
			return
		}
		limit = n
	}
	state := q.Get("state")
	if state != "" && state != "completed" && state != "failed" {
		writeError(w, http.StatusBadRequest, `state must be "completed" or "failed"`)
		return
	}

	attempts, err := s.attempts.List(r.Context(), state, limit)
	if err != nil {
		s.logger.Error("attempts_list_failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	counts, err := s.attempts.Counts(r.Context())
	if err != nil {
		s.logger.Error("attempts_count_failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]attemptResponse, len(attempts))
	for i := range attempts {
		items[i] = toAttemptResponse(attempts[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "counts": counts})
}

func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	a, err := s.attempts.Get(r.Context(), callID)
	if err != nil {
		s.logger.Error("attempt_get_failed", "call_id", callID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "attempt not found")
		return
	}
	writeJSON(w, http.StatusOK, toAttemptResponse(*a))
}
