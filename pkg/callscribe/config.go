package callscribe

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/callscribe/pkg/configutil"
	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Call          CallConfig          `mapstructure:"call"`
	Dialer        DialerConfig        `mapstructure:"dialer"`
	Batch         BatchConfig         `mapstructure:"batch"`
	Output        OutputConfig        `mapstructure:"output"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Server        ServerConfig        `mapstructure:"server"`
	CallControl   VendorConfig        `mapstructure:"callcontrol"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type TranscriptionConfig struct {
	VendorConfig       `mapstructure:",squash"`
	BreakerThreshold   int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS  int `mapstructure:"breaker_cooldown_ms"`
	RequestTimeoutSecs int `mapstructure:"request_timeout_s"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type CallConfig struct {
	FromNumber             string `mapstructure:"from_number"`
	PromptURL              string `mapstructure:"prompt_url"`
	RecordFormat           string `mapstructure:"record_format"`
	RecordChannels         string `mapstructure:"record_channels"`
	RecordSeconds          int    `mapstructure:"record_seconds"`
	PollIntervalMS         int    `mapstructure:"poll_interval_ms"`
	PollAttempts           int    `mapstructure:"poll_attempts"`
	TranscribeAttempts     int    `mapstructure:"transcribe_attempts"`
	TranscribeBackoffMS    int    `mapstructure:"transcribe_backoff_ms"`
	TranscribeMaxBackoffMS int    `mapstructure:"transcribe_max_backoff_ms"`
	Workers                int    `mapstructure:"workers"`
	SessionTimeoutS        int    `mapstructure:"session_timeout_s"`
	SweepIntervalS         int    `mapstructure:"sweep_interval_s"`
	DrainTimeoutS          int    `mapstructure:"drain_timeout_s"`
	EarlyEventTTLS         int    `mapstructure:"early_event_ttl_s"`
}

type DialerConfig struct {
	Workers        int     `mapstructure:"workers"`
	CallsPerSecond float64 `mapstructure:"calls_per_second"`
	Burst          int     `mapstructure:"burst"`
}

type BatchConfig struct {
	Workers     int      `mapstructure:"workers"`
	MaxAttempts int      `mapstructure:"max_attempts"`
	BaseDelayMS int      `mapstructure:"base_delay_ms"`
	MaxDelayMS  int      `mapstructure:"max_delay_ms"`
	Extensions  []string `mapstructure:"extensions"`
}

type OutputConfig struct {
	CallsPath  string `mapstructure:"calls_path"`
	BatchPath  string `mapstructure:"batch_path"`
	LedgerPath string `mapstructure:"ledger_path"`
}

type ObservabilityConfig struct {
	MetricsPath    string   `mapstructure:"metrics_path"`
	MetricsBuffer  int      `mapstructure:"metrics_buffer"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ServerConfig struct {
	Addr                string `mapstructure:"addr"`
	PublicURL           string `mapstructure:"public_url"`
	WebhookPath         string `mapstructure:"webhook_path"`
	RecordingSavedPath  string `mapstructure:"recording_saved_path"`
	TwilioStatusPath    string `mapstructure:"twilio_status_path"`
	TwilioRecordingPath string `mapstructure:"twilio_recording_path"`
	MonitorPath         string `mapstructure:"monitor_path"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return decodeConfig(v)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() (Config, error) {
	v := viper.New()
	setDefaults(v)
	return decodeConfig(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("call.from_number", "")
	v.SetDefault("call.prompt_url", "")
	v.SetDefault("call.record_format", "mp3")
	v.SetDefault("call.record_channels", "single")
	v.SetDefault("call.record_seconds", 30)
	v.SetDefault("call.poll_interval_ms", 5000)
	v.SetDefault("call.poll_attempts", 12)
	v.SetDefault("call.transcribe_attempts", 5)
	v.SetDefault("call.transcribe_backoff_ms", 2000)
	v.SetDefault("call.transcribe_max_backoff_ms", 30000)
	v.SetDefault("call.workers", 16)
	v.SetDefault("call.session_timeout_s", 900)
	v.SetDefault("call.sweep_interval_s", 30)
	v.SetDefault("call.drain_timeout_s", 60)
	v.SetDefault("call.early_event_ttl_s", 30)
	v.SetDefault("dialer.workers", 5)
	v.SetDefault("dialer.calls_per_second", 1)
	v.SetDefault("dialer.burst", 1)
	v.SetDefault("batch.workers", 3)
	v.SetDefault("batch.max_attempts", 10)
	v.SetDefault("batch.base_delay_ms", 10000)
	v.SetDefault("batch.max_delay_ms", 0)
	v.SetDefault("batch.extensions", []string{".mp3", ".mp4", ".mpeg", ".mpga", ".m4a", ".wav", ".webm"})
	v.SetDefault("output.calls_path", "results.tsv")
	v.SetDefault("output.batch_path", "transcriptions.tsv")
	v.SetDefault("output.ledger_path", "")
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.metrics_buffer", 1024)
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.webhook_path", "/webhook")
	v.SetDefault("server.recording_saved_path", "/webhook/call-recording-saved")
	v.SetDefault("server.twilio_status_path", "/twilio/status")
	v.SetDefault("server.twilio_recording_path", "/twilio/recording")
	v.SetDefault("server.monitor_path", "/monitor")
	v.SetDefault("callcontrol.provider", "twilio")
	v.SetDefault("transcription.provider", "openai")
	v.SetDefault("transcription.breaker_threshold", 3)
	v.SetDefault("transcription.breaker_cooldown_ms", 30000)
	v.SetDefault("transcription.request_timeout_s", 120)
}

func decodeConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.CallControl.Provider) == "" {
		return fmt.Errorf("callcontrol.provider is required")
	}
	if strings.TrimSpace(c.Transcription.Provider) == "" {
		return fmt.Errorf("transcription.provider is required")
	}
	if c.Batch.MaxAttempts < 1 {
		return fmt.Errorf("batch.max_attempts must be at least 1")
	}
	if c.Call.TranscribeAttempts < 1 {
		return fmt.Errorf("call.transcribe_attempts must be at least 1")
	}
	if c.Dialer.CallsPerSecond < 0 {
		return fmt.Errorf("dialer.calls_per_second must not be negative")
	}
	return nil
}

// ValidateListen checks the settings only the listen mode needs.
func (c *Config) ValidateListen() error {
	return configutil.Require(
		configutil.Field{Path: "call.from_number", Value: c.Call.FromNumber},
		configutil.Field{Path: "server.addr", Value: c.Server.Addr},
	)
}

func ms(v int) time.Duration   { return time.Duration(v) * time.Millisecond }
func secs(v int) time.Duration { return time.Duration(v) * time.Second }

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.CallControl.Settings = expandSettings(cfg.CallControl.Settings)
	cfg.Transcription.Settings = expandSettings(cfg.Transcription.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
