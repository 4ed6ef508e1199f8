package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/transcribe"
)

const providerName = "openai"

type Config struct {
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
	Language string `mapstructure:"language"`
	Prompt   string `mapstructure:"prompt"`
}

// Whisper transcribes audio with the OpenAI audio transcription endpoint.
type Whisper struct {
	cfg    Config
	Client *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Whisper {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &Whisper{
		cfg:    cfg,
		Client: &http.Client{Timeout: 5 * time.Minute},
		logger: logging.NewComponentLogger(slog.Default(), "openai_stt"),
	}
}

func (w *Whisper) Name() string { return providerName }

func (w *Whisper) Transcribe(ctx context.Context, audio transcribe.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", transcribe.Permanent(providerName, errors.New("empty audio"))
	}
	body, contentType, err := w.buildRequest(audio)
	if err != nil {
		return "", transcribe.Permanent(providerName, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(w.cfg.BaseURL, "/")+"/audio/transcriptions", body)
	if err != nil {
		return "", transcribe.Permanent(providerName, err)
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)
	resp, err := w.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", transcribe.Transient(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		w.logger.Debug("openai_transcription_rejected", "status", resp.StatusCode, "file", audio.Filename)
		return "", transcribe.ClassifyResponse(providerName, resp, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", transcribe.Transient(providerName, fmt.Errorf("decode response: %w", err))
	}
	return strings.TrimSpace(payload.Text), nil
}

func (w *Whisper) buildRequest(audio transcribe.Audio) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", w.cfg.Model); err != nil {
		return nil, "", err
	}
	if w.cfg.Language != "" {
		if err := mw.WriteField("language", w.cfg.Language); err != nil {
			return nil, "", err
		}
	}
	if w.cfg.Prompt != "" {
		if err := mw.WriteField("prompt", w.cfg.Prompt); err != nil {
			return nil, "", err
		}
	}
	name := filepath.Base(audio.Filename)
	if name == "" || name == "." || name == "/" {
		name = "audio.mp3"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

var _ transcribe.Transcriber = (*Whisper)(nil)
