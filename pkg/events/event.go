// Package events turns provider webhook payloads into typed lifecycle events.
package events

// Event is a call lifecycle notification. The concrete types are Initiated,
// Answered, Hangup, RecordingSaved and Unknown.
type Event interface {
	CallID() string
	Name() string
	isEvent()
}

type Initiated struct {
	ID string
}

type Answered struct {
	ID string
}

// Hangup reports the end of the call. DurationSeconds is valid when HasDuration is set.
type Hangup struct {
	ID              string
	Cause           string
	DurationSeconds int
	HasDuration     bool
}

// RecordingSaved reports that the recording artifact is downloadable.
type RecordingSaved struct {
	ID              string
	URL             string
	DurationSeconds int
	HasDuration     bool
}

// Unknown carries event types the orchestrator does not act on.
type Unknown struct {
	ID   string
	Type string
}

func (e Initiated) CallID() string      { return e.ID }
func (e Answered) CallID() string       { return e.ID }
func (e Hangup) CallID() string         { return e.ID }
func (e RecordingSaved) CallID() string { return e.ID }
func (e Unknown) CallID() string        { return e.ID }

func (Initiated) Name() string      { return TypeInitiated }
func (Answered) Name() string       { return TypeAnswered }
func (Hangup) Name() string         { return TypeHangup }
func (RecordingSaved) Name() string { return TypeRecordingSaved }
func (e Unknown) Name() string {
	if e.Type == "" {
		return "unknown"
	}
	return e.Type
}

func (Initiated) isEvent()      {}
func (Answered) isEvent()       {}
func (Hangup) isEvent()         {}
func (RecordingSaved) isEvent() {}
func (Unknown) isEvent()        {}

const (
	TypeInitiated      = "call.initiated"
	TypeAnswered       = "call.answered"
	TypeHangup         = "call.hangup"
	TypeRecordingSaved = "call.recording.saved"
)
