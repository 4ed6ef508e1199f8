package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonProviderOriginate    ReasonCode = "provider_originate"
	ReasonProviderPlayback     ReasonCode = "provider_playback"
	ReasonProviderRecord       ReasonCode = "provider_record"
	ReasonProviderRecordingURL ReasonCode = "provider_recording_url"
	ReasonProviderDownload     ReasonCode = "provider_download"

	ReasonTranscribeTransient ReasonCode = "transcribe_transient"
	ReasonTranscribePermanent ReasonCode = "transcribe_permanent"
	ReasonRetryExhausted      ReasonCode = "retry_exhausted"

	ReasonSinkWrite ReasonCode = "sink_write"

	ReasonNoAnswer       ReasonCode = "no_answer"
	ReasonSessionTimeout ReasonCode = "session_timeout"
	ReasonCanceled       ReasonCode = "canceled"

	ReasonWebhookInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonWebhookDecode           ReasonCode = "webhook_decode"
)
