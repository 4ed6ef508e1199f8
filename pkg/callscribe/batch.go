package callscribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/callscribe/pkg/batch"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/sink"
)

// Batch is the batch mode: transcribe every audio file in a directory.
type Batch struct {
	cfg     Config
	logger  *slog.Logger
	engine  *batch.Engine
	results *sink.BatchLog
	obs     *observerSet
}

func NewBatch(opts Options) (*Batch, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stt, err := opts.transcriber()
	if err != nil {
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	obs, err := newObserverSet(cfg, logger)
	if err != nil {
		return nil, err
	}
	results, err := sink.OpenBatchLog(cfg.Output.BatchPath)
	if err != nil {
		_ = obs.close()
		return nil, err
	}
	engine, err := batch.New(batch.Config{
		Workers:     cfg.Batch.Workers,
		MaxAttempts: cfg.Batch.MaxAttempts,
		BaseDelay:   ms(cfg.Batch.BaseDelayMS),
		MaxDelay:    ms(cfg.Batch.MaxDelayMS),
	}, stt, results, obs.async, logger)
	if err != nil {
		_ = results.Close()
		_ = obs.close()
		return nil, err
	}
	return &Batch{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "batch_mode"),
		engine:  engine,
		results: results,
		obs:     obs,
	}, nil
}

// Run transcribes every supported file in dir.
func (b *Batch) Run(ctx context.Context, dir string) (batch.Report, error) {
	files, err := batch.ListAudioFiles(dir, b.cfg.Batch.Extensions)
	if err != nil {
		return batch.Report{}, err
	}
	if len(files) == 0 {
		b.logger.Warn("batch_no_files", "dir", dir)
		return batch.Report{}, nil
	}
	b.logger.Info("batch_started", "dir", dir, "files", len(files), "output", b.results.Path())
	return b.engine.Run(ctx, files), nil
}

// Progress reports finished and total files of the current or last run.
func (b *Batch) Progress() (done, total int64) {
	t := b.engine.Progress()
	if t == nil {
		return 0, 0
	}
	done, _, _ = t.Snapshot()
	return done, t.Total()
}

func (b *Batch) Close() error {
	return errors.Join(b.obs.close(), b.results.Close())
}
