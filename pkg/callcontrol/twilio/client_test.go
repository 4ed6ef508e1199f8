package twilio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harunnryd/callscribe/pkg/callcontrol"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type stubAPI struct {
	created    *api.CreateCallParams
	updatedSID string
	updated    *api.UpdateCallParams
	recorded   *api.CreateCallRecordingParams
	recordings []api.ApiV2010CallRecording
	sid        string
	err        error
}

func (s *stubAPI) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	s.created = params
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{Sid: &s.sid}, nil
}

func (s *stubAPI) UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error) {
	s.updatedSID = sid
	s.updated = params
	return &api.ApiV2010Call{Sid: &sid}, s.err
}

func (s *stubAPI) CreateCallRecording(callSid string, params *api.CreateCallRecordingParams) (*api.ApiV2010CallRecording, error) {
	s.recorded = params
	return &api.ApiV2010CallRecording{}, s.err
}

func (s *stubAPI) ListCallRecording(callSid string, params *api.ListCallRecordingParams) ([]api.ApiV2010CallRecording, error) {
	return s.recordings, s.err
}

func strPtr(v string) *string { return &v }

func TestOriginateSetsCallbackAndHold(t *testing.T) {
	stub := &stubAPI{sid: "CA123"}
	c := newWithAPI(Config{AccountSID: "AC1", AuthToken: "tok", PublicURL: "https://example.com/"}, stub)

	sid, err := c.Originate(context.Background(), "+200", "+100")
	if err != nil {
		t.Fatalf("originate error: %v", err)
	}
	if sid != "CA123" {
		t.Fatalf("expected sid CA123, got %s", sid)
	}
	if stub.created.To == nil || *stub.created.To != "+100" {
		t.Fatalf("expected To param")
	}
	if stub.created.From == nil || *stub.created.From != "+200" {
		t.Fatalf("expected From param")
	}
	if stub.created.StatusCallback == nil || *stub.created.StatusCallback != "https://example.com/twilio/status" {
		t.Fatalf("expected status callback, got %v", stub.created.StatusCallback)
	}
	if stub.created.Twiml == nil || !strings.Contains(*stub.created.Twiml, "<Pause") {
		t.Fatalf("expected hold twiml")
	}
}

func TestOriginateWrapsProviderError(t *testing.T) {
	stub := &stubAPI{err: errors.New("invalid number")}
	c := newWithAPI(Config{AccountSID: "AC1", AuthToken: "tok"}, stub)
	_, err := c.Originate(context.Background(), "+200", "+100")
	var pe *callcontrol.ProviderError
	if !errors.As(err, &pe) || pe.Op != callcontrol.OpOriginate {
		t.Fatalf("expected originate provider error, got %v", err)
	}
}

func TestStartPlaybackEscapesURL(t *testing.T) {
	stub := &stubAPI{}
	c := newWithAPI(Config{AccountSID: "AC1", AuthToken: "tok", ListenSeconds: 12}, stub)
	if err := c.StartPlayback(context.Background(), "CA1", "https://x/p.mp3?a=1&b=2"); err != nil {
		t.Fatalf("playback error: %v", err)
	}
	if stub.updatedSID != "CA1" {
		t.Fatalf("expected update on CA1")
	}
	twiml := *stub.updated.Twiml
	if !strings.Contains(twiml, "a=1&amp;b=2") || !strings.Contains(twiml, `length="12"`) {
		t.Fatalf("unexpected twiml: %s", twiml)
	}
}

func TestStartRecordingChannels(t *testing.T) {
	stub := &stubAPI{}
	c := newWithAPI(Config{AccountSID: "AC1", AuthToken: "tok"}, stub)
	if err := c.StartRecording(context.Background(), "CA1", "mp3", "single"); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if stub.recorded.RecordingChannels == nil || *stub.recorded.RecordingChannels != "mono" {
		t.Fatalf("expected mono recording")
	}
}

func TestRecordingURLWaitsForCompleted(t *testing.T) {
	stub := &stubAPI{recordings: []api.ApiV2010CallRecording{{Sid: strPtr("RE1"), Status: strPtr("processing")}}}
	c := newWithAPI(Config{AccountSID: "AC1", AuthToken: "tok"}, stub)
	url, err := c.RecordingURL(context.Background(), "CA1")
	if err != nil || url != "" {
		t.Fatalf("expected no url yet, got %q %v", url, err)
	}
	stub.recordings[0].Status = strPtr("completed")
	url, err = c.RecordingURL(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("recording url error: %v", err)
	}
	if url != "https://api.twilio.com/2010-04-01/Accounts/AC1/Recordings/RE1.mp3" {
		t.Fatalf("unexpected url: %s", url)
	}
}

func TestDownloadRecording(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("audio"))
	}))
	defer srv.Close()

	c := newWithAPI(Config{AccountSID: "AC1", AuthToken: "tok", APIBaseURL: srv.URL}, &stubAPI{})
	data, err := c.DownloadRecording(context.Background(), srv.URL+"/rec.mp3")
	if err != nil || string(data) != "audio" {
		t.Fatalf("unexpected download: %q %v", data, err)
	}
	_, err = c.DownloadRecording(context.Background(), srv.URL+"/missing")
	if !callcontrol.IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}
