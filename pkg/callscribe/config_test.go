package callscribe

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("CALLSCRIBE_TEST_TOKEN", "secret-token")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
call:
  from_number: "+15550001111"
  poll_attempts: 3
callcontrol:
  provider: twilio
  settings:
    account_sid: AC123
    auth_token: ${CALLSCRIBE_TEST_TOKEN}
transcription:
  provider: mock
  settings:
    transcript: hi
batch:
  max_delay_ms: 60000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.CallControl.Settings["auth_token"] != "secret-token" {
		t.Fatalf("expected env expansion, got %v", cfg.CallControl.Settings["auth_token"])
	}
	if cfg.Call.PollAttempts != 3 || cfg.Call.TranscribeAttempts != 5 {
		t.Fatalf("unexpected call config %+v", cfg.Call)
	}
	if cfg.Batch.MaxAttempts != 10 || cfg.Batch.Workers != 3 || ms(cfg.Batch.MaxDelayMS) != time.Minute {
		t.Fatalf("unexpected batch config %+v", cfg.Batch)
	}
	if cfg.Server.Addr != ":5000" || cfg.Server.RecordingSavedPath != "/webhook/call-recording-saved" {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if len(cfg.Batch.Extensions) != 7 {
		t.Fatalf("unexpected extensions %v", cfg.Batch.Extensions)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatalf("redaction should default on")
	}
	if cfg.Transcription.Provider != "mock" || cfg.Transcription.BreakerThreshold != 3 {
		t.Fatalf("unexpected transcription config %+v", cfg.Transcription)
	}
	if err := cfg.ValidateListen(); err != nil {
		t.Fatalf("listen config should validate: %v", err)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("batch:\n  max_attempts: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestDefaultConfigNeedsFromNumberToListen(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if err := cfg.ValidateListen(); err == nil {
		t.Fatalf("expected missing from_number error")
	}
}
