package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harunnryd/callscribe/pkg/callcontrol"
	"github.com/harunnryd/callscribe/pkg/errorsx"
	"github.com/harunnryd/callscribe/pkg/ledger"
	"github.com/harunnryd/callscribe/pkg/metrics"
	"github.com/harunnryd/callscribe/pkg/redact"
	"github.com/harunnryd/callscribe/pkg/resilience"
	"github.com/harunnryd/callscribe/pkg/session"
	"github.com/harunnryd/callscribe/pkg/sink"
	"github.com/harunnryd/callscribe/pkg/transcribe"
)

var (
	errRecordingNotReady = errors.New("recording not available")

	liveStates = []session.State{
		session.StateInitiated,
		session.StateAnswered,
		session.StateRecording,
		session.StateAwaitingRecording,
		session.StateTranscribing,
	}
)

func errNoAnswer(cause string) error {
	return errorsx.Newf(errorsx.ReasonNoAnswer, "call not answered: %s", cause)
}

// pollRecording waits for the recording artifact of a hung-up call. It stops
// early when another path (a recording-saved event or the sweeper) has
// already consumed the session.
func (o *Orchestrator) pollRecording(ctx context.Context, callID string) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.PollAttempts; attempt++ {
		s, ok := o.table.Get(callID)
		if !ok || s.State != session.StateAwaitingRecording {
			return
		}
		url := s.RecordingURL
		if url == "" {
			u, err := o.calls.RecordingURL(ctx, callID)
			switch {
			case err != nil && ctx.Err() != nil:
				o.fail(callID, nil, ctx.Err(), "")
				return
			case err != nil:
				lastErr = err
				o.logger.Warn("recording_poll_error", "call_id", callID, "attempt", attempt, "error", err.Error())
			default:
				url = u
			}
		}
		if url != "" {
			s, err := o.move(callID, []session.State{session.StateAwaitingRecording}, session.StateTranscribing, func(s *session.Session) {
				s.RecordingURL = url
			})
			if err != nil {
				return
			}
			o.logger.Info("recording_ready", append(o.attrs(s), "attempt", attempt)...)
			o.transcribeSession(ctx, callID)
			return
		}
		if attempt < o.cfg.PollAttempts {
			if err := o.sleep(ctx, o.cfg.PollInterval); err != nil {
				o.fail(callID, nil, err, "")
				return
			}
		}
	}
	if lastErr == nil {
		lastErr = errRecordingNotReady
	}
	o.logger.Warn("recording_poll_exhausted", "call_id", callID, "attempts", o.cfg.PollAttempts)
	o.fail(callID, []session.State{session.StateAwaitingRecording},
		&resilience.RetryExhaustedError{Attempts: o.cfg.PollAttempts, Err: lastErr}, "")
}

// transcribeSession downloads and transcribes the recording of a session in
// the Transcribing state, then writes the result. Only the path that moved
// the session into Transcribing gets here.
func (o *Orchestrator) transcribeSession(ctx context.Context, callID string) {
	s, ok := o.table.Get(callID)
	if !ok || s.State != session.StateTranscribing {
		return
	}
	backoff := resilience.NewBackoff(o.cfg.TranscribeAttempts, o.cfg.TranscribeBackoff, o.cfg.TranscribeMaxBackoff)
	backoff.IsRetryable = transcribe.IsTransient
	backoff.Sleep = o.sleep
	backoff.OnRetry = func(attempt int, delay time.Duration, err error) {
		o.logger.Warn("transcription_retry",
			"call_id", callID,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error())
	}
	var audio []byte
	var text string
	_, err := backoff.Do(ctx, func(ctx context.Context, attempt int) error {
		if audio == nil {
			data, err := o.calls.DownloadRecording(ctx, s.RecordingURL)
			if err != nil {
				return transcribe.Transient("download", err)
			}
			audio = data
		}
		out, err := o.stt.Transcribe(ctx, transcribe.Audio{
			Data:     audio,
			Filename: callID + "." + o.cfg.RecordFormat,
		})
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		o.fail(callID, []session.State{session.StateTranscribing}, err, "")
		return
	}
	o.complete(callID, text)
}

// complete writes the result row and then marks the session Completed.
// The row is written while the session is still Transcribing; only one
// worker can hold a session in that state.
func (o *Orchestrator) complete(callID, text string) {
	s, ok := o.table.Get(callID)
	if !ok || s.State != session.StateTranscribing {
		return
	}
	rec := sink.CallRecord{
		CallID:          s.CallID,
		From:            s.FromNumber,
		To:              s.ToNumber,
		Text:            text,
		DurationSeconds: s.DurationSeconds,
		HasDuration:     s.HasDuration,
	}
	if err := o.sink.Append(rec); err != nil {
		o.logger.Error("result_write_failed", append(o.attrs(s), "error", err.Error())...)
		o.fail(callID, []session.State{session.StateTranscribing}, err, text)
		return
	}
	s, err := o.move(callID, []session.State{session.StateTranscribing}, session.StateCompleted, nil)
	if err != nil {
		return
	}
	o.completed.Add(1)
	o.finish(s, "", text)
	o.logger.Info("call_completed", append(o.attrs(s), "duration_s", s.DurationSeconds, "transcript", redact.Transcript(text))...)
}

// fail moves the session to Failed from any of from (all live states when
// from is nil) and records the outcome. It reports whether this call did
// the transition.
func (o *Orchestrator) fail(callID string, from []session.State, cause error, transcript string) bool {
	if from == nil {
		from = liveStates
	}
	s, err := o.move(callID, from, session.StateFailed, nil)
	if err != nil {
		return false
	}
	o.finishFailed(s, cause, transcript)
	return true
}

func (o *Orchestrator) finishFailed(s session.Session, cause error, transcript string) {
	o.failed.Add(1)
	reason := reasonFor(cause)
	attrs := append(o.attrs(s), "reason_code", string(reason))
	if cause != nil {
		attrs = append(attrs, "error", cause.Error())
	}
	level := slog.LevelWarn
	if errorsx.HasReason(cause, errorsx.ReasonCanceled) {
		level = slog.LevelInfo
	}
	o.logger.Log(context.Background(), level, "call_failed", attrs...)
	o.finish(s, reason, transcript)
}

// finish records a terminal session and drops it from the table.
func (o *Orchestrator) finish(s session.Session, reason errorsx.ReasonCode, transcript string) {
	if o.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := o.ledger.Record(ctx, ledger.Attempt{
			CallID:          s.CallID,
			TraceID:         s.TraceID,
			From:            s.FromNumber,
			To:              s.ToNumber,
			State:           s.State.String(),
			Reason:          string(reason),
			Transcript:      transcript,
			DurationSeconds: s.DurationSeconds,
			HasDuration:     s.HasDuration,
			CreatedAt:       s.CreatedAt,
			FinishedAt:      o.now(),
		})
		cancel()
		if err != nil {
			o.logger.Error("ledger_record_failed", "call_id", s.CallID, "error", err.Error())
		}
	}
	tags := map[string]string{"call_id": s.CallID, "state": s.State.String()}
	if reason != "" {
		tags["reason_code"] = string(reason)
	}
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventSessionResult,
		Time:  o.now(),
		Value: o.now().Sub(s.CreatedAt).Seconds(),
		Tags:  tags,
	})
	o.table.Remove(s.CallID)
}

func reasonFor(err error) errorsx.ReasonCode {
	if err == nil {
		return errorsx.ReasonUnknown
	}
	if r := errorsx.Reason(err); r != errorsx.ReasonUnknown {
		return r
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errorsx.ReasonCanceled
	}
	if resilience.IsRetryExhausted(err) {
		return errorsx.ReasonRetryExhausted
	}
	var werr *sink.WriteError
	if errors.As(err, &werr) {
		return errorsx.ReasonSinkWrite
	}
	var perr *callcontrol.ProviderError
	if errors.As(err, &perr) {
		switch perr.Op {
		case callcontrol.OpOriginate:
			return errorsx.ReasonProviderOriginate
		case callcontrol.OpPlayback:
			return errorsx.ReasonProviderPlayback
		case callcontrol.OpRecord:
			return errorsx.ReasonProviderRecord
		case callcontrol.OpRecordingURL:
			return errorsx.ReasonProviderRecordingURL
		case callcontrol.OpDownload:
			return errorsx.ReasonProviderDownload
		}
	}
	if transcribe.IsTransient(err) {
		return errorsx.ReasonTranscribeTransient
	}
	return errorsx.ReasonTranscribePermanent
}
