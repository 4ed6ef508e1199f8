package callscribe

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/harunnryd/callscribe/pkg/callcontrol"
	"github.com/harunnryd/callscribe/pkg/callcontrol/twilio"
	"github.com/harunnryd/callscribe/pkg/configutil"
	"github.com/harunnryd/callscribe/pkg/transcribe"
	"github.com/harunnryd/callscribe/pkg/transcribe/deepgram"
	"github.com/harunnryd/callscribe/pkg/transcribe/mock"
	"github.com/harunnryd/callscribe/pkg/transcribe/openai"
)

type TranscriberFactory func(cfg Config) (transcribe.Transcriber, error)
type CallControlFactory func(cfg Config) (callcontrol.Client, error)

// SigningTokenSource is implemented by call-control clients whose provider
// signs webhook callbacks.
type SigningTokenSource interface {
	SigningToken() string
}

type ProviderRegistry struct {
	stt   map[string]TranscriberFactory
	calls map[string]CallControlFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:   make(map[string]TranscriberFactory),
		calls: make(map[string]CallControlFactory),
	}
}

// DefaultProviders registers every built-in provider.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterTranscriber("openai", newOpenAI)
	r.RegisterTranscriber("deepgram", newDeepgram)
	r.RegisterTranscriber("mock", newMock)
	r.RegisterCallControl("twilio", newTwilio)
	return r
}

func (r *ProviderRegistry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.stt[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterCallControl(name string, factory CallControlFactory) {
	r.calls[strings.ToLower(strings.TrimSpace(name))] = factory
}

// BuildTranscriber constructs the configured provider and wraps it in a
// circuit breaker.
func (r *ProviderRegistry) BuildTranscriber(cfg Config) (transcribe.Transcriber, error) {
	provider := cfg.Transcription.Provider
	fn := r.stt[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("transcription provider not registered: %s", provider)
	}
	inner, err := fn(cfg)
	if err != nil {
		return nil, err
	}
	return transcribe.NewGuarded(inner, cfg.Transcription.BreakerThreshold, ms(cfg.Transcription.BreakerCooldownMS)), nil
}

func (r *ProviderRegistry) BuildCallControl(cfg Config) (callcontrol.Client, error) {
	provider := cfg.CallControl.Provider
	fn := r.calls[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("callcontrol provider not registered: %s", provider)
	}
	return fn(cfg)
}

func newOpenAI(cfg Config) (transcribe.Transcriber, error) {
	var settings openai.Config
	if err := configutil.Decode("transcription.settings", cfg.Transcription.Settings, []string{"api_key"}, &settings); err != nil {
		return nil, err
	}
	w := openai.New(settings)
	if cfg.Transcription.RequestTimeoutSecs > 0 {
		w.Client = &http.Client{Timeout: secs(cfg.Transcription.RequestTimeoutSecs)}
	}
	return w, nil
}

func newDeepgram(cfg Config) (transcribe.Transcriber, error) {
	var settings deepgram.Config
	if err := configutil.Decode("transcription.settings", cfg.Transcription.Settings, []string{"api_key"}, &settings); err != nil {
		return nil, err
	}
	return deepgram.New(settings), nil
}

func newMock(cfg Config) (transcribe.Transcriber, error) {
	var settings mock.Config
	if err := configutil.Decode("transcription.settings", cfg.Transcription.Settings, nil, &settings); err != nil {
		return nil, err
	}
	return mock.New(settings), nil
}

// newTwilio fills callback and timing settings from the server and call
// sections unless the provider settings override them.
func newTwilio(cfg Config) (callcontrol.Client, error) {
	var settings twilio.Config
	if err := configutil.Decode("callcontrol.settings", cfg.CallControl.Settings, []string{"account_sid", "auth_token"}, &settings); err != nil {
		return nil, err
	}
	if settings.PublicURL == "" {
		settings.PublicURL = cfg.Server.PublicURL
	}
	if settings.StatusCallbackPath == "" {
		settings.StatusCallbackPath = cfg.Server.TwilioStatusPath
	}
	if settings.RecordingCallbackPath == "" {
		settings.RecordingCallbackPath = cfg.Server.TwilioRecordingPath
	}
	if settings.ListenSeconds == 0 {
		settings.ListenSeconds = cfg.Call.RecordSeconds
	}
	if settings.RecordingFormat == "" {
		settings.RecordingFormat = cfg.Call.RecordFormat
	}
	return twilio.New(settings)
}
