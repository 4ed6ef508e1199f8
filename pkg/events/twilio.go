package events

import (
	"net/url"
	"strconv"
	"strings"
)

// Twilio call status values.
const (
	twilioQueued     = "queued"
	twilioInitiated  = "initiated"
	twilioRinging    = "ringing"
	twilioInProgress = "in-progress"
	twilioAnswered   = "answered"
	twilioCompleted  = "completed"
	twilioBusy       = "busy"
	twilioFailed     = "failed"
	twilioNoAnswer   = "no-answer"
	twilioCanceled   = "canceled"
)

// FromTwilioStatus maps a Twilio status callback form to an event.
func FromTwilioStatus(form url.Values) (Event, error) {
	id := strings.TrimSpace(form.Get("CallSid"))
	if id == "" {
		return nil, ErrMissingCallID
	}
	status := strings.ToLower(strings.TrimSpace(form.Get("CallStatus")))
	switch status {
	case twilioQueued, twilioInitiated, twilioRinging:
		return Initiated{ID: id}, nil
	case twilioInProgress, twilioAnswered:
		return Answered{ID: id}, nil
	case twilioCompleted, twilioBusy, twilioFailed, twilioNoAnswer, twilioCanceled:
		h := Hangup{ID: id, Cause: status}
		if d, err := strconv.Atoi(strings.TrimSpace(form.Get("CallDuration"))); err == nil && d >= 0 {
			h.DurationSeconds, h.HasDuration = d, true
		}
		return h, nil
	default:
		return Unknown{ID: id, Type: "twilio." + status}, nil
	}
}

// FromTwilioRecording maps a Twilio recording status callback form to an event.
func FromTwilioRecording(form url.Values) (Event, error) {
	id := strings.TrimSpace(form.Get("CallSid"))
	if id == "" {
		return nil, ErrMissingCallID
	}
	status := strings.ToLower(strings.TrimSpace(form.Get("RecordingStatus")))
	recURL := strings.TrimSpace(form.Get("RecordingUrl"))
	if status != twilioCompleted || recURL == "" {
		return Unknown{ID: id, Type: "twilio.recording." + status}, nil
	}
	ev := RecordingSaved{ID: id, URL: recURL + ".mp3"}
	if d, err := strconv.Atoi(strings.TrimSpace(form.Get("RecordingDuration"))); err == nil && d >= 0 {
		ev.DurationSeconds, ev.HasDuration = d, true
	}
	return ev, nil
}
