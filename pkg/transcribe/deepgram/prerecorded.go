package deepgram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/transcribe"
)

const providerName = "deepgram"

var initOnce sync.Once

type Config struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	Language    string `mapstructure:"language"`
	SmartFormat bool   `mapstructure:"smart_format"`
	Punctuate   bool   `mapstructure:"punctuate"`
}

// Prerecorded transcribes whole recordings with the Deepgram REST listen API.
type Prerecorded struct {
	cfg    Config
	logger *slog.Logger
	stream func(ctx context.Context, r io.Reader) (string, error)
}

func New(cfg Config) *Prerecorded {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	initOnce.Do(client.InitWithDefault)
	p := &Prerecorded{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
	p.stream = p.fromStream
	return p
}

func (p *Prerecorded) Name() string { return providerName }

func (p *Prerecorded) Transcribe(ctx context.Context, audio transcribe.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", transcribe.Permanent(providerName, errors.New("empty audio"))
	}
	p.logger.Debug("deepgram_transcribe_start",
		slog.String("file", audio.Filename),
		slog.Int("bytes", len(audio.Data)),
		slog.String("model", p.cfg.Model))
	text, err := p.stream(ctx, bytes.NewReader(audio.Data))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classify(err)
	}
	return strings.TrimSpace(text), nil
}

func (p *Prerecorded) fromStream(ctx context.Context, r io.Reader) (string, error) {
	c := client.NewREST(p.cfg.APIKey, &interfaces.ClientOptions{})
	dg := api.New(c)
	res, err := dg.FromStream(ctx, r, &interfaces.PreRecordedTranscriptionOptions{
		Model:       p.cfg.Model,
		Language:    p.cfg.Language,
		SmartFormat: p.cfg.SmartFormat,
		Punctuate:   p.cfg.Punctuate,
	})
	if err != nil {
		return "", err
	}
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 {
		return "", nil
	}
	alts := res.Results.Channels[0].Alternatives
	if len(alts) == 0 {
		return "", nil
	}
	return alts[0].Transcript, nil
}

func classify(err error) error {
	var statusErr *interfaces.StatusError
	if errors.As(err, &statusErr) && statusErr.Resp != nil {
		return transcribe.ClassifyStatus(providerName, statusErr.Resp.StatusCode, err)
	}
	if isTooManyRequests(err) {
		return transcribe.ClassifyStatus(providerName, http.StatusTooManyRequests, err)
	}
	return transcribe.Transient(providerName, err)
}

// The SDK sometimes flattens HTTP failures into plain errors.
func isTooManyRequests(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}

var _ transcribe.Transcriber = (*Prerecorded)(nil)
