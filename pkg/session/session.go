package session

import "time"

// State is a call's position in the lifecycle.
type State int

const (
	StateInitiated State = iota
	StateAnswered
	StateRecording
	StateAwaitingRecording
	StateTranscribing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateAnswered:
		return "answered"
	case StateRecording:
		return "recording"
	case StateAwaitingRecording:
		return "awaiting_recording"
	case StateTranscribing:
		return "transcribing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// validTransitions is the lifecycle graph. Failed is reachable from every
// non-terminal state.
var validTransitions = map[State][]State{
	StateInitiated:         {StateAnswered, StateFailed},
	StateAnswered:          {StateRecording, StateAwaitingRecording, StateFailed},
	StateRecording:         {StateAwaitingRecording, StateTranscribing, StateFailed},
	StateAwaitingRecording: {StateTranscribing, StateFailed},
	StateTranscribing:      {StateCompleted, StateFailed},
}

// CanTransition checks an edge of the lifecycle graph.
func CanTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Session is one outbound call attempt.
type Session struct {
	CallID          string
	TraceID         string
	FromNumber      string
	ToNumber        string
	State           State
	RecordingURL    string
	DurationSeconds int
	HasDuration     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// New builds a session in the Initiated state.
func New(callID, traceID, from, to string, now time.Time) Session {
	return Session{
		CallID:     callID,
		TraceID:    traceID,
		FromNumber: from,
		ToNumber:   to,
		State:      StateInitiated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// InvalidTransitionError represents a transition the graph or the caller's
// expected source states do not allow.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
