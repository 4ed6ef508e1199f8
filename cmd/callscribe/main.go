package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/harunnryd/callscribe/pkg/batch"
	"github.com/harunnryd/callscribe/pkg/callscribe"
	"github.com/harunnryd/callscribe/pkg/dialer"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/redact"
	"github.com/harunnryd/callscribe/pkg/runner"
)

const usage = `usage:
  callscribe listen [-config path] [-numbers path] [-exit_when_idle]
  callscribe batch  [-config path] -dir path`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "listen":
		err = runListen(os.Args[2:])
	case "batch":
		err = runBatch(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("callscribe_exit", "error", err.Error())
		os.Exit(1)
	}
}

func loadConfig(path string) (callscribe.Config, *slog.Logger, error) {
	var (
		cfg callscribe.Config
		err error
	)
	if path == "" {
		cfg, err = callscribe.DefaultConfig()
	} else {
		cfg, err = callscribe.LoadConfig(path)
	}
	if err != nil {
		return callscribe.Config{}, nil, err
	}
	logger := logging.InitLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)
	return cfg, logger, nil
}

func runListen(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file")
	numbersPath := fs.String("numbers", "", "newline-delimited numbers to dial after startup")
	exitWhenIdle := fs.Bool("exit_when_idle", false, "stop once every dialed call has finished")
	_ = fs.Parse(args)

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	var numbers []string
	if *numbersPath != "" {
		numbers, err = dialer.LoadNumbers(*numbersPath)
		if err != nil {
			return err
		}
	}
	listener, err := callscribe.NewListener(callscribe.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var r *runner.LifecycleRunner
	r = runner.NewLifecycleRunner("listen", listener, runner.Hooks{
		OnStart: func(ctx context.Context) error {
			if err := listener.Start(ctx); err != nil {
				return err
			}
			if len(numbers) > 0 {
				go dialAll(ctx, r, listener, numbers, *exitWhenIdle, logger)
			}
			return nil
		},
		OnStop: func() {
			if err := listener.Close(); err != nil {
				logger.Error("listener_close_failed", "error", err.Error())
			}
		},
	}, time.Duration(cfg.Call.DrainTimeoutS)*time.Second)

	err = r.Run(ctx)
	if errors.Is(err, runner.ErrDrainTimeout) {
		logger.Warn("drain_timeout", "active_sessions", listener.Active())
		return nil
	}
	return err
}

func dialAll(ctx context.Context, r runner.Runner, l *callscribe.Listener, numbers []string, exitWhenIdle bool, logger *slog.Logger) {
	report := l.Dial(ctx, numbers)
	for _, res := range report.Results {
		if res.Err != nil {
			logger.Warn("dial_failed", "to", redact.Number(res.Number), "error", res.Err.Error())
		}
	}
	if !exitWhenIdle {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if l.Active() == 0 {
				logger.Info("all_calls_finished", "placed", report.Placed, "failed", report.Failed)
				_ = r.Stop()
				return
			}
		}
	}
}

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	dir := fs.String("dir", "", "directory of audio files")
	_ = fs.Parse(args)
	if *dir == "" {
		return errors.New("batch: -dir is required")
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	runner.PrintBanner("batch")
	b, err := callscribe.NewBatch(callscribe.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			done, total := b.Progress()
			logger.Warn("batch_interrupted", "done", done, "total", total)
		case <-finished:
		}
	}()
	report, runErr := b.Run(ctx, *dir)
	close(finished)
	if err := b.Close(); err != nil {
		logger.Error("batch_close_failed", "error", err.Error())
	}
	if runErr != nil {
		return runErr
	}
	printReport(report)
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d files failed", len(report.Failed), report.Total)
	}
	return nil
}

func printReport(r batch.Report) {
	fmt.Printf("\nrun %s: %d/%d transcribed in %s\n", r.RunID, r.Succeeded, r.Total, r.Elapsed.Round(time.Millisecond))
	if len(r.Failed) == 0 {
		return
	}
	fmt.Println("failed:")
	for _, f := range r.Failed {
		fmt.Printf("  %s (attempts=%d): %v\n", filepath.Base(f.Filename), f.Attempts, f.Err)
	}
}
