package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrMissingCallID is returned when a payload names no call.
var ErrMissingCallID = errors.New("missing call_control_id")

type envelope struct {
	Data struct {
		EventType string  `json:"event_type"`
		Payload   payload `json:"payload"`
	} `json:"data"`
}

type payload struct {
	CallControlID       string            `json:"call_control_id"`
	StartTime           string            `json:"start_time"`
	EndTime             string            `json:"end_time"`
	HangupCause         string            `json:"hangup_cause"`
	CallDurationSecs    *float64          `json:"call_duration_secs"`
	PublicRecordingURLs map[string]string `json:"public_recording_urls"`
	RecordingURLs       map[string]string `json:"recording_urls"`
	RecordingStartedAt  string            `json:"recording_started_at"`
	RecordingEndedAt    string            `json:"recording_ended_at"`
}

// DecodeCallEvent decodes a call-status webhook body. Unrecognized event types
// decode to Unknown rather than failing.
func DecodeCallEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode call event: %w", err)
	}
	p := env.Data.Payload
	id := strings.TrimSpace(p.CallControlID)
	if id == "" {
		return nil, ErrMissingCallID
	}
	switch strings.TrimSpace(env.Data.EventType) {
	case TypeInitiated:
		return Initiated{ID: id}, nil
	case TypeAnswered:
		return Answered{ID: id}, nil
	case TypeHangup:
		h := Hangup{ID: id, Cause: p.HangupCause}
		if p.CallDurationSecs != nil {
			h.DurationSeconds, h.HasDuration = int(math.Round(*p.CallDurationSecs)), true
		} else {
			h.DurationSeconds, h.HasDuration = spanSeconds(p.StartTime, p.EndTime)
		}
		return h, nil
	case TypeRecordingSaved:
		return recordingFromPayload(id, p)
	default:
		return Unknown{ID: id, Type: env.Data.EventType}, nil
	}
}

// DecodeRecordingSaved decodes the dedicated recording-saved webhook body.
func DecodeRecordingSaved(body []byte) (RecordingSaved, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return RecordingSaved{}, fmt.Errorf("decode recording event: %w", err)
	}
	id := strings.TrimSpace(env.Data.Payload.CallControlID)
	if id == "" {
		return RecordingSaved{}, ErrMissingCallID
	}
	ev, err := recordingFromPayload(id, env.Data.Payload)
	if err != nil {
		return RecordingSaved{}, err
	}
	return ev.(RecordingSaved), nil
}

func recordingFromPayload(id string, p payload) (Event, error) {
	url := pickRecordingURL(p)
	if url == "" {
		return nil, fmt.Errorf("recording event for %s has no url", id)
	}
	ev := RecordingSaved{ID: id, URL: url}
	ev.DurationSeconds, ev.HasDuration = spanSeconds(p.RecordingStartedAt, p.RecordingEndedAt)
	return ev, nil
}

func pickRecordingURL(p payload) string {
	for _, urls := range []map[string]string{p.PublicRecordingURLs, p.RecordingURLs} {
		for _, format := range []string{"mp3", "wav"} {
			if u := strings.TrimSpace(urls[format]); u != "" {
				return u
			}
		}
	}
	return ""
}

func spanSeconds(start, end string) (int, bool) {
	if start == "" || end == "" {
		return 0, false
	}
	s, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return 0, false
	}
	e, err := time.Parse(time.RFC3339Nano, end)
	if err != nil || e.Before(s) {
		return 0, false
	}
	return int(math.Round(e.Sub(s).Seconds())), true
}
