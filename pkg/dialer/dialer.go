// Package dialer originates outbound calls in bulk and registers each call
// as a session.
package dialer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/harunnryd/callscribe/pkg/callcontrol"
	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/metrics"
	"github.com/harunnryd/callscribe/pkg/redact"
	"github.com/harunnryd/callscribe/pkg/session"
)

type Config struct {
	From    string
	Workers int
	// CallsPerSecond paces originations across all workers; zero disables pacing.
	CallsPerSecond float64
	Burst          int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Result is the outcome of dialing one number.
type Result struct {
	Number string
	CallID string
	Err    error
}

type Report struct {
	Results []Result
	Placed  int
	Failed  int
}

type Dialer struct {
	cfg     Config
	calls   callcontrol.Client
	table   *session.Table
	obs     metrics.Observer
	logger  *slog.Logger
	limiter *rate.Limiter
	traceID func() string
	now     func() time.Time

	registered func(ctx context.Context, callID string)
}

func New(cfg Config, calls callcontrol.Client, table *session.Table, obs metrics.Observer, logger *slog.Logger) (*Dialer, error) {
	if calls == nil || table == nil {
		return nil, errors.New("dialer: call control and session table are required")
	}
	if cfg.From == "" {
		return nil, errors.New("dialer: from number is required")
	}
	cfg = cfg.withDefaults()
	d := &Dialer{
		cfg:     cfg,
		calls:   calls,
		table:   table,
		obs:     metrics.OrNoop(obs),
		logger:  logging.NewComponentLogger(logger, "dialer"),
		traceID: uuid.NewString,
		now:     time.Now,
	}
	if cfg.CallsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), cfg.Burst)
	}
	return d, nil
}

// OnRegistered sets a callback invoked after each new session is added to
// the table, so events that beat the registration can be replayed.
func (d *Dialer) OnRegistered(fn func(ctx context.Context, callID string)) {
	d.registered = fn
}

// Run dials every number with at most Workers originations in flight. A
// failed number is recorded in the report and does not stop the others.
// Results keep the order of numbers.
func (d *Dialer) Run(ctx context.Context, numbers []string) Report {
	results := make([]Result, len(numbers))
	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for i, number := range numbers {
		results[i].Number = number
		if ctx.Err() != nil {
			results[i].Err = errorsx.Wrap(ctx.Err(), errorsx.ReasonCanceled)
			continue
		}
		g.Go(func() error {
			results[i] = d.dial(ctx, number)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results}
	for _, r := range results {
		if r.Err != nil {
			report.Failed++
		} else {
			report.Placed++
		}
	}
	d.logger.Info("dial_batch_done", "total", len(numbers), "placed", report.Placed, "failed", report.Failed)
	return report
}

func (d *Dialer) dial(ctx context.Context, number string) Result {
	res := Result{Number: number}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			res.Err = errorsx.Wrap(err, errorsx.ReasonCanceled)
			d.publish(res)
			return res
		}
	}
	callID, err := d.calls.Originate(ctx, d.cfg.From, number)
	if err != nil {
		reason := errorsx.ReasonProviderOriginate
		if !callcontrol.IsProviderError(err) && ctx.Err() != nil {
			reason = errorsx.ReasonCanceled
		}
		res.Err = errorsx.Wrap(err, reason)
		d.logger.Warn("dial_failed", "to", redact.Number(number), "error", err.Error(), "reason_code", string(reason))
		d.publish(res)
		return res
	}
	res.CallID = callID
	s := session.New(callID, d.traceID(), d.cfg.From, number, d.now())
	if err := d.table.Insert(s); err != nil {
		res.Err = err
		d.logger.Error("session_register_failed", "call_id", callID, "error", err.Error())
		d.publish(res)
		return res
	}
	d.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventSessionTransition,
		Time:  s.CreatedAt,
		Value: 1,
		Tags:  map[string]string{"call_id": callID, "trace_id": s.TraceID, "from": "", "to": session.StateInitiated.String()},
	})
	d.logger.Info("call_initiated", "call_id", callID, "trace_id", s.TraceID, "to", redact.Number(number))
	if d.registered != nil {
		d.registered(ctx, callID)
	}
	d.publish(res)
	return res
}

func (d *Dialer) publish(res Result) {
	ev := metrics.MetricsEvent{
		Name:  metrics.EventDialResult,
		Time:  d.now(),
		Value: 1,
		Tags:  map[string]string{"to_number": res.Number, "status": "placed"},
	}
	if res.CallID != "" {
		ev.Tags["call_id"] = res.CallID
	}
	if res.Err != nil {
		ev.Value = 0
		ev.Tags["status"] = "failed"
		ev.Tags["reason_code"] = string(errorsx.Reason(res.Err))
	}
	d.obs.RecordEvent(ev)
}
