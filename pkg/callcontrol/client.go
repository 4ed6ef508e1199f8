package callcontrol

import (
	"context"
	"errors"
)

// Client drives a telephony provider's call-control API. Implementations
// are stateless with respect to calls.
type Client interface {
	// Originate places a call and returns the provider's call id.
	Originate(ctx context.Context, from, to string) (string, error)
	// StartPlayback plays audioURL on the live call.
	StartPlayback(ctx context.Context, callID, audioURL string) error
	// StartRecording begins recording the call.
	StartRecording(ctx context.Context, callID, format, channels string) error
	// RecordingURL returns "" while the recording is not yet available.
	RecordingURL(ctx context.Context, callID string) (string, error)
	// DownloadRecording fetches the recording bytes.
	DownloadRecording(ctx context.Context, url string) ([]byte, error)
}

// Operation names used in ProviderError.
const (
	OpOriginate    = "originate"
	OpPlayback     = "playback"
	OpRecord       = "record"
	OpRecordingURL = "recording_url"
	OpDownload     = "download"
)

// ProviderError is a transport or API failure from the provider.
type ProviderError struct {
	Provider string
	Op       string
	CallID   string
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Provider + " " + e.Op
	if e.CallID != "" {
		msg += " " + e.CallID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err is a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
