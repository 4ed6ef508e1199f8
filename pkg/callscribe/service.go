// Package callscribe wires configuration, providers and the core packages
// into the listen and batch modes.
package callscribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/callscribe/pkg/callcontrol"
	"github.com/harunnryd/callscribe/pkg/dialer"
	"github.com/harunnryd/callscribe/pkg/ledger"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/metrics"
	"github.com/harunnryd/callscribe/pkg/monitor"
	"github.com/harunnryd/callscribe/pkg/observers"
	"github.com/harunnryd/callscribe/pkg/orchestrator"
	"github.com/harunnryd/callscribe/pkg/session"
	"github.com/harunnryd/callscribe/pkg/sink"
	"github.com/harunnryd/callscribe/pkg/transcribe"
	"github.com/harunnryd/callscribe/pkg/webhook"
)

type Options struct {
	Config    Config
	Providers *ProviderRegistry
	Logger    *slog.Logger

	// CallControl and Transcriber replace the configured providers when set.
	CallControl callcontrol.Client
	Transcriber transcribe.Transcriber
}

func (o Options) transcriber() (transcribe.Transcriber, error) {
	if o.Transcriber != nil {
		return o.Transcriber, nil
	}
	return o.registry().BuildTranscriber(o.Config)
}

func (o Options) callControl() (callcontrol.Client, error) {
	if o.CallControl != nil {
		return o.CallControl, nil
	}
	return o.registry().BuildCallControl(o.Config)
}

func (o Options) registry() *ProviderRegistry {
	if o.Providers != nil {
		return o.Providers
	}
	return DefaultProviders()
}

// observerSet holds the event observers shared by both modes.
type observerSet struct {
	multi *observers.MultiObserver
	async *metrics.AsyncObserver
	jsonl *metrics.JSONLObserver
}

func newObserverSet(cfg Config, logger *slog.Logger, extra ...metrics.Observer) (*observerSet, error) {
	set := &observerSet{multi: observers.NewMultiObserver(observers.NewLoggerObserver(logger))}
	for _, obs := range extra {
		set.multi.Add(obs)
	}
	if path := strings.TrimSpace(cfg.Observability.MetricsPath); path != "" {
		jsonl, err := metrics.OpenJSONL(path)
		if err != nil {
			return nil, err
		}
		set.jsonl = jsonl
		set.multi.Add(jsonl)
	}
	set.async = metrics.NewAsyncObserver(set.multi, cfg.Observability.MetricsBuffer)
	return set, nil
}

func (s *observerSet) close() error {
	s.async.Close()
	if s.jsonl != nil {
		return s.jsonl.Close()
	}
	return nil
}

// Listener is the listen mode: webhook server, orchestrator and dialer.
type Listener struct {
	cfg    Config
	logger *slog.Logger

	table   *session.Table
	calls   callcontrol.Client
	orch    *orchestrator.Orchestrator
	dialer  *dialer.Dialer
	hub     *monitor.Hub
	latency *observers.LatencyObserver
	obs     *observerSet
	results *sink.CallLog
	ledger  *ledger.Ledger

	handler *webhook.Server
	server  *http.Server
	addr    net.Addr
}

func NewListener(opts Options) (*Listener, error) {
	cfg := opts.Config
	if err := cfg.ValidateListen(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stt, err := opts.transcriber()
	if err != nil {
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	calls, err := opts.callControl()
	if err != nil {
		return nil, fmt.Errorf("call control: %w", err)
	}

	l := &Listener{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "listener"),
		table:   session.NewTable(),
		calls:   calls,
		hub:     monitor.NewHub(monitor.Config{AllowedOrigins: cfg.Observability.AllowedOrigins}),
		latency: observers.NewLatencyObserver(logger),
	}
	l.obs, err = newObserverSet(cfg, logger, l.latency, l.hub)
	if err != nil {
		return nil, err
	}
	l.results, err = sink.OpenCallLog(cfg.Output.CallsPath)
	if err != nil {
		_ = l.obs.close()
		return nil, err
	}
	deps := orchestrator.Deps{
		Table:       l.table,
		Calls:       calls,
		Transcriber: stt,
		Sink:        l.results,
		Observer:    l.obs.async,
		Logger:      logger,
	}
	if path := strings.TrimSpace(cfg.Output.LedgerPath); path != "" {
		l.ledger, err = ledger.Open(path)
		if err != nil {
			_ = l.results.Close()
			_ = l.obs.close()
			return nil, err
		}
		deps.Ledger = l.ledger
	}

	l.orch, err = orchestrator.New(orchestratorConfig(cfg), deps)
	if err != nil {
		_ = l.closeStores()
		return nil, err
	}
	l.dialer, err = dialer.New(dialer.Config{
		From:           cfg.Call.FromNumber,
		Workers:        cfg.Dialer.Workers,
		CallsPerSecond: cfg.Dialer.CallsPerSecond,
		Burst:          cfg.Dialer.Burst,
	}, calls, l.table, l.obs.async, logger)
	if err != nil {
		_ = l.closeStores()
		return nil, err
	}
	l.dialer.OnRegistered(l.orch.Registered)

	signing := ""
	if src, ok := calls.(SigningTokenSource); ok {
		signing = src.SigningToken()
	}
	l.handler = webhook.NewServer(webhook.Config{
		WebhookPath:         cfg.Server.WebhookPath,
		RecordingSavedPath:  cfg.Server.RecordingSavedPath,
		TwilioStatusPath:    cfg.Server.TwilioStatusPath,
		TwilioRecordingPath: cfg.Server.TwilioRecordingPath,
		MonitorPath:         cfg.Server.MonitorPath,
		AuthToken:           signing,
		PublicURL:           cfg.Server.PublicURL,
	}, l.orch, l.hub, l.orch.Active, logger)
	if l.ledger != nil {
		l.handler.MountAttempts(l.ledger)
	}

	l.logger.Info("callscribe_init",
		"environment", cfg.Environment,
		"callcontrol_provider", cfg.CallControl.Provider,
		"transcription_provider", stt.Name(),
		"results_path", cfg.Output.CallsPath,
		"ledger_enabled", l.ledger != nil,
		"signature_validation", signing != "",
	)
	return l, nil
}

func orchestratorConfig(cfg Config) orchestrator.Config {
	return orchestrator.Config{
		PromptURL:            cfg.Call.PromptURL,
		RecordFormat:         cfg.Call.RecordFormat,
		RecordChannels:       cfg.Call.RecordChannels,
		PollInterval:         ms(cfg.Call.PollIntervalMS),
		PollAttempts:         cfg.Call.PollAttempts,
		TranscribeAttempts:   cfg.Call.TranscribeAttempts,
		TranscribeBackoff:    ms(cfg.Call.TranscribeBackoffMS),
		TranscribeMaxBackoff: ms(cfg.Call.TranscribeMaxBackoffMS),
		Workers:              cfg.Call.Workers,
		SessionTimeout:       secs(cfg.Call.SessionTimeoutS),
		SweepInterval:        secs(cfg.Call.SweepIntervalS),
		EarlyEventTTL:        secs(cfg.Call.EarlyEventTTLS),
	}
}

// Handler exposes the webhook routes.
func (l *Listener) Handler() http.Handler { return l.handler }

// Addr is the bound listen address once Start has returned.
func (l *Listener) Addr() net.Addr { return l.addr }

// Start binds the webhook server and starts the orchestrator sweep. The
// server stops when ctx is done or Close is called.
func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.cfg.Server.Addr, err)
	}
	l.addr = ln.Addr()
	l.server = &http.Server{
		Handler:           l.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("webhook_server_error", "error", err.Error())
		}
	}()
	if err := l.orch.Start(ctx); err != nil {
		return err
	}
	l.logger.Info("webhook_server_started",
		"addr", l.addr.String(),
		"webhook_url", l.publicURL(l.cfg.Server.WebhookPath),
		"recording_saved_url", l.publicURL(l.cfg.Server.RecordingSavedPath),
	)
	return nil
}

func (l *Listener) publicURL(path string) string {
	base := strings.TrimRight(l.cfg.Server.PublicURL, "/")
	if base == "" {
		return path
	}
	return base + path
}

// Dial places one call per number. It returns once every origination has
// been attempted; the calls themselves progress through webhooks.
func (l *Listener) Dial(ctx context.Context, numbers []string) dialer.Report {
	return l.dialer.Run(ctx, numbers)
}

// Active is the number of live sessions.
func (l *Listener) Active() int { return l.orch.Active() }

// Drain waits for in-flight session work.
func (l *Listener) Drain(ctx context.Context) error {
	return l.orch.Drain(ctx)
}

// Close stops the server, fails remaining sessions and closes every store.
func (l *Listener) Close() error {
	var errs []error
	if l.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		l.hub.Close()
		if err := l.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	} else {
		l.hub.Close()
	}
	if err := l.orch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := l.closeStores(); err != nil {
		errs = append(errs, err)
	}
	if pending := l.latency.Pending(); pending > 0 {
		l.logger.Debug("latency_traces_unfinished", "count", pending)
	}
	return errors.Join(errs...)
}

func (l *Listener) closeStores() error {
	var errs []error
	if l.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		counts, err := l.ledger.Counts(ctx)
		cancel()
		if err == nil {
			l.logger.Info("ledger_summary", "completed", counts["completed"], "failed", counts["failed"])
		}
	}
	if err := l.obs.close(); err != nil {
		errs = append(errs, err)
	}
	if err := l.results.Close(); err != nil {
		errs = append(errs, err)
	}
	if l.ledger != nil {
		if err := l.ledger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
