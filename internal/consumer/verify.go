package consumer

import (
	"context"
	"lambdabridge/internal/envelope"
	"lambdabridge/internal/notify"
	"lambdabridge/internal/observability"
	"log/slog"
	"sync/atomic"
	"time"
)

// Verifier handles status messages: it looks for failure evidence of the
// recorded invocation and either schedules the next retry or finishes the
// event.
type Verifier struct {
	base
	inspector Inspector
	publisher Publisher
	notifier  notify.Notifier

	succeeded atomic.Int64
	retried   atomic.Int64
	exhausted atomic.Int64
}

// VerifyStats extends Stats with the verifier's outcomes.
type VerifyStats struct {
	Stats
	Succeeded int64 `json:"succeeded"`
	Retried   int64 `json:"retried"`
	Exhausted int64 `json:"exhausted"`
}

// NewVerifier creates a verify handler. notifier may be nil.
func NewVerifier(cfg Config, inspector Inspector, publisher Publisher, notifier notify.Notifier, metrics *observability.Metrics) *Verifier {
	return &Verifier{
		base: base{
			stage:   observability.StageVerify,
			cfg:     cfg.withDefaults(),
			metrics: metrics,
			now:     time.Now,
		},
		inspector: inspector,
		publisher: publisher,
		notifier:  notifier,
	}
}

// Stats returns a snapshot of the verifier's counters.
func (v *Verifier) Stats() VerifyStats {
	return VerifyStats{
		Stats:     v.stats.snapshot(),
		Succeeded: v.succeeded.Load(),
		Retried:   v.retried.Load(),
		Exhausted: v.exhausted.Load(),
	}
}

// Handle processes one status message.
func (v *Verifier) Handle(ctx context.Context, msg Message) {
	v.stats.received.Add(1)
	done := v.metrics.TrackInFlight(ctx, v.stage)
	defer done()

	meta, err := msg.Metadata()
	if err != nil {
		slog.Warn("Message metadata unavailable", "stage", v.stage, "error", err)
	}
	if v.gate(msg, meta) {
		return
	}

	env, err := envelope.Decode(msg.Data())
	if err != nil {
		v.drop(ctx, msg, err)
		return
	}

	logger := slog.With("lambdaArn", env.LambdaARN, "retryIndex", env.RetryIndex, "eventId", env.EventID, "requestId", env.LambdaRequestID)

	start := time.Now()
	failed, err := v.inspector.FailureEvidence(ctx, env.FunctionName(), env.LambdaRequestID)
	if err != nil {
		v.retryLater(ctx, msg, meta, "inspect", err)
		return
	}
	v.metrics.RecordInspection(ctx, time.Since(start).Seconds())

	switch {
	case !failed:
		if err := v.ack(ctx, msg); err != nil {
			v.retryLater(ctx, msg, meta, "ack", err)
			return
		}
		v.succeeded.Add(1)
		v.metrics.RecordTerminal(ctx, observability.OutcomeSuccess)
		logger.Info("Invocation succeeded")

	case env.Exhausted():
		if err := v.ack(ctx, msg); err != nil {
			v.retryLater(ctx, msg, meta, "ack", err)
			return
		}
		v.exhausted.Add(1)
		v.metrics.RecordTerminal(ctx, observability.OutcomeExhausted)
		logger.Error("Invocation failed, retries exhausted")
		v.notifyExhausted(ctx, env)

	default:
		next := env.Clone()
		next.RetryIndex++
		next.LambdaRequestID = ""
		delay := v.cfg.Schedule.Delay(next.RetryIndex)

		if err := v.publisher.Publish(ctx, v.cfg.TriggerSubject, next, delay); err != nil {
			v.retryLater(ctx, msg, meta, "publish", err)
			return
		}
		if err := v.ack(ctx, msg); err != nil {
			v.retryLater(ctx, msg, meta, "ack", err)
			return
		}
		v.retried.Add(1)
		v.metrics.RecordRetryScheduled(ctx, next.RetryIndex)
		logger.Warn("Invocation failed, retry scheduled", "nextRetryIndex", next.RetryIndex, "delay", delay)
	}
	v.stats.completed.Add(1)
}

// notifyExhausted hands the event to the notifier. Failures are logged;
// the status message is already acknowledged.
func (v *Verifier) notifyExhausted(ctx context.Context, env *envelope.Envelope) {
	if v.notifier == nil {
		return
	}
	entry, err := notify.NewEntry(env, "failure evidence found after final retry")
	if err == nil {
		err = v.notifier.Notify(ctx, entry)
	}
	if err != nil {
		slog.Warn("Exhaustion notification failed", "eventId", env.EventID, "error", err)
	}
}
