// Package batch transcribes a fixed set of audio files with a bounded worker
// pool and exponential-backoff retries.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/metrics"
	"github.com/harunnryd/callscribe/pkg/redact"
	"github.com/harunnryd/callscribe/pkg/resilience"
	"github.com/harunnryd/callscribe/pkg/sink"
	"github.com/harunnryd/callscribe/pkg/transcribe"
)

type Config struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps a single backoff wait; zero leaves it uncapped.
	MaxDelay         time.Duration
	ProgressInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 10 * time.Second
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 5 * time.Second
	}
	return c
}

// ResultSink receives one record per successfully transcribed file.
type ResultSink interface {
	Append(rec sink.BatchRecord) error
}

// Job is one audio file. It is owned by the worker processing it.
type Job struct {
	Path     string
	Attempts int
	LastErr  error
}

type Failure struct {
	Filename string
	Attempts int
	Err      error
}

type Report struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    []Failure
	Elapsed   time.Duration
}

type Engine struct {
	cfg    Config
	stt    transcribe.Transcriber
	out    ResultSink
	obs    metrics.Observer
	logger *slog.Logger

	progress *Tracker
	mu       sync.Mutex

	sleep    func(ctx context.Context, d time.Duration) error
	readFile func(path string) ([]byte, error)
}

func New(cfg Config, stt transcribe.Transcriber, out ResultSink, obs metrics.Observer, logger *slog.Logger) (*Engine, error) {
	if stt == nil || out == nil {
		return nil, errors.New("batch: transcriber and sink are required")
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		stt:      stt,
		out:      out,
		obs:      metrics.OrNoop(obs),
		logger:   logging.NewComponentLogger(logger, "batch"),
		sleep:    resilience.SleepContext,
		readFile: os.ReadFile,
	}, nil
}

// Progress returns the tracker of the current or last run.
func (e *Engine) Progress() *Tracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// Run processes every file once. Successful transcripts are appended to the
// sink as each job finishes; failed jobs are listed in the report.
func (e *Engine) Run(ctx context.Context, files []string) Report {
	start := time.Now()
	runID := uuid.NewString()
	tracker := newTracker(len(files))
	e.mu.Lock()
	e.progress = tracker
	e.mu.Unlock()

	logger := e.logger.With("run_id", runID)
	logger.Info("batch_started", "files", len(files), "workers", e.cfg.Workers, "max_attempts", e.cfg.MaxAttempts)

	jobs := make(chan *Job)
	var (
		wg       sync.WaitGroup
		failMu   sync.Mutex
		failures []Failure
	)
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := e.process(ctx, logger, job); err != nil {
					tracker.fail()
					failMu.Lock()
					failures = append(failures, Failure{Filename: filepath.Base(job.Path), Attempts: job.Attempts, Err: err})
					failMu.Unlock()
					continue
				}
				tracker.succeed()
			}
		}()
	}

	stopProgress := e.reportProgress(logger, tracker)
	for _, f := range files {
		jobs <- &Job{Path: f}
	}
	close(jobs)
	wg.Wait()
	stopProgress()

	done, succeeded, failed := tracker.Snapshot()
	report := Report{
		RunID:     runID,
		Total:     len(files),
		Succeeded: int(succeeded),
		Failed:    failures,
		Elapsed:   time.Since(start),
	}
	logger.Info("batch_finished",
		"done", done,
		"succeeded", succeeded,
		"failed", failed,
		"elapsed_ms", report.Elapsed.Milliseconds())
	return report
}

func (e *Engine) process(ctx context.Context, logger *slog.Logger, job *Job) error {
	name := filepath.Base(job.Path)
	data, err := e.readFile(job.Path)
	if err != nil {
		job.LastErr = err
		logger.Warn("batch_job_failed", "file", name, "error", err.Error())
		e.publish(name, 0, err)
		return fmt.Errorf("reading %s: %w", name, err)
	}
	backoff := resilience.NewBackoff(e.cfg.MaxAttempts, e.cfg.BaseDelay, e.cfg.MaxDelay)
	backoff.IsRetryable = transcribe.IsTransient
	backoff.Sleep = e.sleep
	backoff.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("batch_job_retry", "file", name, "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err.Error())
	}
	var text string
	_, err = backoff.Do(ctx, func(ctx context.Context, attempt int) error {
		job.Attempts = attempt
		out, err := e.stt.Transcribe(ctx, transcribe.Audio{Data: data, Filename: name})
		job.LastErr = err
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		logger.Warn("batch_job_failed",
			"file", name,
			"attempts", job.Attempts,
			"reason_code", string(reasonFor(err)),
			"error", err.Error())
		e.publish(name, job.Attempts, err)
		return err
	}
	if err := e.out.Append(sink.BatchRecord{Filename: name, Text: text}); err != nil {
		logger.Error("batch_result_write_failed", "file", name, "error", err.Error())
		e.publish(name, job.Attempts, err)
		return err
	}
	logger.Info("batch_job_done", "file", name, "attempts", job.Attempts, "transcript", redact.Transcript(text))
	e.publish(name, job.Attempts, nil)
	return nil
}

func (e *Engine) publish(name string, attempts int, err error) {
	ev := metrics.MetricsEvent{
		Name:   metrics.EventBatchJob,
		Time:   time.Now(),
		Value:  float64(attempts),
		Tags:   map[string]string{"file": name, "status": "succeeded"},
		Fields: map[string]any{"attempts": attempts},
	}
	if err != nil {
		ev.Tags["status"] = "failed"
		ev.Tags["reason_code"] = string(reasonFor(err))
	}
	e.obs.RecordEvent(ev)
}

func (e *Engine) reportProgress(logger *slog.Logger, t *Tracker) func() {
	ticker := time.NewTicker(e.cfg.ProgressInterval)
	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				done, succeeded, failed := t.Snapshot()
				logger.Info("batch_progress", "done", done, "total", t.Total(), "succeeded", succeeded, "failed", failed)
				e.obs.RecordEvent(metrics.MetricsEvent{
					Name:   metrics.EventBatchProgress,
					Time:   time.Now(),
					Value:  float64(done),
					Fields: map[string]any{"total": t.Total(), "succeeded": succeeded, "failed": failed},
				})
			}
		}
	}()
	return func() {
		close(stop)
		<-finished
	}
}

func reasonFor(err error) errorsx.ReasonCode {
	var werr *sink.WriteError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return errorsx.ReasonCanceled
	case resilience.IsRetryExhausted(err):
		return errorsx.ReasonRetryExhausted
	case errors.As(err, &werr):
		return errorsx.ReasonSinkWrite
	case transcribe.IsTransient(err):
		return errorsx.ReasonTranscribeTransient
	default:
		return errorsx.ReasonTranscribePermanent
	}
}
