package sink

import "strconv"

var (
	CallHeader  = []string{"from_number", "to_number", "transcript", "duration_seconds"}
	BatchHeader = []string{"filename", "transcription_of_text"}
)

// CallRecord is one completed call. DurationSeconds is empty in the output
// when HasDuration is false.
type CallRecord struct {
	CallID          string
	From            string
	To              string
	Text            string
	DurationSeconds int
	HasDuration     bool
}

func (r CallRecord) Row() []string {
	duration := ""
	if r.HasDuration {
		duration = strconv.Itoa(r.DurationSeconds)
	}
	return []string{r.From, r.To, r.Text, duration}
}

type BatchRecord struct {
	Filename string
	Text     string
}

func (r BatchRecord) Row() []string {
	return []string{r.Filename, r.Text}
}

// CallLog is the call-mode result log.
type CallLog struct{ t *TSV }

func OpenCallLog(path string) (*CallLog, error) {
	t, err := OpenTSV(path, CallHeader)
	if err != nil {
		return nil, err
	}
	return &CallLog{t: t}, nil
}

func (l *CallLog) Append(r CallRecord) error { return l.t.Append(r.Row()) }
func (l *CallLog) Close() error              { return l.t.Close() }
func (l *CallLog) Path() string              { return l.t.Path() }

// BatchLog is the batch-mode result log.
type BatchLog struct{ t *TSV }

func OpenBatchLog(path string) (*BatchLog, error) {
	t, err := OpenTSV(path, BatchHeader)
	if err != nil {
		return nil, err
	}
	return &BatchLog{t: t}, nil
}

func (l *BatchLog) Append(r BatchRecord) error { return l.t.Append(r.Row()) }
func (l *BatchLog) Close() error               { return l.t.Close() }
func (l *BatchLog) Path() string               { return l.t.Path() }
