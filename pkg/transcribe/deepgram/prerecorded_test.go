package deepgram

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/harunnryd/callscribe/pkg/resilience"
	"github.com/harunnryd/callscribe/pkg/transcribe"
)

func newStubbed(fn func(ctx context.Context, r io.Reader) (string, error)) *Prerecorded {
	p := New(Config{APIKey: "dg"})
	p.stream = fn
	return p
}

func TestPrerecordedTranscribe(t *testing.T) {
	p := newStubbed(func(ctx context.Context, r io.Reader) (string, error) {
		data, _ := io.ReadAll(r)
		if string(data) != "audio" {
			t.Errorf("unexpected payload %q", data)
		}
		return "  thanks for calling ", nil
	})
	text, err := p.Transcribe(context.Background(), transcribe.Audio{Data: []byte("audio")})
	if err != nil {
		t.Fatalf("transcribe error: %v", err)
	}
	if text != "thanks for calling" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestPrerecordedClassifiesFlattenedRateLimit(t *testing.T) {
	p := newStubbed(func(ctx context.Context, r io.Reader) (string, error) {
		return "", errors.New("request failed: 429 Too Many Requests")
	})
	_, err := p.Transcribe(context.Background(), transcribe.Audio{Data: []byte("a")})
	if !transcribe.IsTransient(err) || !resilience.IsRateLimit(err) {
		t.Fatalf("expected transient rate limit, got %v", err)
	}
}

func TestPrerecordedEmptyAudioIsPermanent(t *testing.T) {
	p := newStubbed(func(ctx context.Context, r io.Reader) (string, error) {
		t.Fatalf("stream should not be called")
		return "", nil
	})
	if _, err := p.Transcribe(context.Background(), transcribe.Audio{}); transcribe.IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
