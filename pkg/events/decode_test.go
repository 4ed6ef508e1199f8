package events

import (
	"errors"
	"net/url"
	"testing"
)

func TestDecodeCallEventAnswered(t *testing.T) {
	ev, err := DecodeCallEvent([]byte(`{"data":{"event_type":"call.answered","payload":{"call_control_id":"v3:abc"}}}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	a, ok := ev.(Answered)
	if !ok || a.CallID() != "v3:abc" {
		t.Fatalf("expected Answered v3:abc, got %#v", ev)
	}
}

func TestDecodeCallEventHangupDuration(t *testing.T) {
	body := `{"data":{"event_type":"call.hangup","payload":{"call_control_id":"c1","hangup_cause":"normal_clearing",` +
		`"start_time":"2024-01-01T10:00:00Z","end_time":"2024-01-01T10:00:12Z"}}}`
	ev, err := DecodeCallEvent([]byte(body))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	h, ok := ev.(Hangup)
	if !ok {
		t.Fatalf("expected Hangup, got %#v", ev)
	}
	if !h.HasDuration || h.DurationSeconds != 12 || h.Cause != "normal_clearing" {
		t.Fatalf("unexpected hangup: %+v", h)
	}
}

func TestDecodeCallEventHangupExplicitDuration(t *testing.T) {
	ev, err := DecodeCallEvent([]byte(`{"data":{"event_type":"call.hangup","payload":{"call_control_id":"c1","call_duration_secs":12}}}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if h := ev.(Hangup); !h.HasDuration || h.DurationSeconds != 12 {
		t.Fatalf("unexpected hangup: %+v", h)
	}
}

func TestDecodeCallEventUnknownType(t *testing.T) {
	ev, err := DecodeCallEvent([]byte(`{"data":{"event_type":"call.bridged","payload":{"call_control_id":"c1"}}}`))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	u, ok := ev.(Unknown)
	if !ok || u.Name() != "call.bridged" {
		t.Fatalf("expected Unknown call.bridged, got %#v", ev)
	}
}

func TestDecodeCallEventMissingID(t *testing.T) {
	_, err := DecodeCallEvent([]byte(`{"data":{"event_type":"call.answered","payload":{}}}`))
	if !errors.Is(err, ErrMissingCallID) {
		t.Fatalf("expected missing id, got %v", err)
	}
	if _, err := DecodeCallEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected json error")
	}
}

func TestDecodeRecordingSavedPrefersPublicMP3(t *testing.T) {
	body := `{"data":{"event_type":"call.recording.saved","payload":{"call_control_id":"c1",` +
		`"recording_urls":{"mp3":"https://private/rec.mp3"},"public_recording_urls":{"wav":"https://x/rec.wav","mp3":"https://x/rec.mp3"}}}}`
	ev, err := DecodeRecordingSaved([]byte(body))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ev.URL != "https://x/rec.mp3" || ev.CallID() != "c1" {
		t.Fatalf("unexpected recording event: %+v", ev)
	}
}

func TestDecodeRecordingSavedWithoutURL(t *testing.T) {
	_, err := DecodeRecordingSaved([]byte(`{"data":{"payload":{"call_control_id":"c1"}}}`))
	if err == nil {
		t.Fatalf("expected error for missing url")
	}
}

func TestFromTwilioStatus(t *testing.T) {
	cases := map[string]string{
		"queued":      TypeInitiated,
		"ringing":     TypeInitiated,
		"in-progress": TypeAnswered,
		"completed":   TypeHangup,
		"no-answer":   TypeHangup,
		"busy":        TypeHangup,
	}
	for status, want := range cases {
		ev, err := FromTwilioStatus(url.Values{"CallSid": {"CA1"}, "CallStatus": {status}, "CallDuration": {"9"}})
		if err != nil {
			t.Fatalf("%s: error %v", status, err)
		}
		if ev.Name() != want {
			t.Fatalf("%s: expected %s, got %s", status, want, ev.Name())
		}
	}
	ev, _ := FromTwilioStatus(url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}, "CallDuration": {"9"}})
	if h := ev.(Hangup); !h.HasDuration || h.DurationSeconds != 9 {
		t.Fatalf("unexpected hangup: %+v", h)
	}
}

func TestFromTwilioRecording(t *testing.T) {
	ev, err := FromTwilioRecording(url.Values{
		"CallSid":           {"CA1"},
		"RecordingStatus":   {"completed"},
		"RecordingUrl":      {"https://api.twilio.com/2010-04-01/Accounts/AC1/Recordings/RE1"},
		"RecordingDuration": {"11"},
	})
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	rec, ok := ev.(RecordingSaved)
	if !ok || rec.URL != "https://api.twilio.com/2010-04-01/Accounts/AC1/Recordings/RE1.mp3" || rec.DurationSeconds != 11 {
		t.Fatalf("unexpected event: %#v", ev)
	}
	ev, _ = FromTwilioRecording(url.Values{"CallSid": {"CA1"}, "RecordingStatus": {"in-progress"}})
	if _, ok := ev.(Unknown); !ok {
		t.Fatalf("expected Unknown for in-progress recording")
	}
}
