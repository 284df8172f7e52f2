package consumer

import (
	"context"
	"lambdabridge/internal/envelope"
	"lambdabridge/internal/observability"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Dispatcher handles trigger messages: it invokes the target Lambda
// asynchronously and publishes a status envelope that comes due after the
// retry's backoff delay.
type Dispatcher struct {
	base
	invoker   Invoker
	publisher Publisher
}

// NewDispatcher creates a dispatch handler.
func NewDispatcher(cfg Config, invoker Invoker, publisher Publisher, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		base: base{
			stage:   observability.StageDispatch,
			cfg:     cfg.withDefaults(),
			metrics: metrics,
			now:     time.Now,
		},
		invoker:   invoker,
		publisher: publisher,
	}
}

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	return d.stats.snapshot()
}

// Handle processes one trigger message. The message is acknowledged only
// once its status envelope is stored, so a crash between the invocation and
// the publish leads to a redelivery and a second invocation.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) {
	d.stats.received.Add(1)
	done := d.metrics.TrackInFlight(ctx, d.stage)
	defer done()

	meta, err := msg.Metadata()
	if err != nil {
		slog.Warn("Message metadata unavailable", "stage", d.stage, "error", err)
	}
	if d.gate(msg, meta) {
		return
	}

	env, err := envelope.Decode(msg.Data())
	if err != nil {
		d.drop(ctx, msg, err)
		return
	}

	logger := slog.With("lambdaArn", env.LambdaARN, "retryIndex", env.RetryIndex)

	start := time.Now()
	requestID, err := d.invoker.Invoke(ctx, env.LambdaARN, msg.Data())
	if err != nil {
		d.retryLater(ctx, msg, meta, "invoke", err)
		return
	}
	invokeSeconds := time.Since(start).Seconds()

	status := env.Clone()
	if status.EventID == "" {
		status.EventID = eventID(meta)
	}
	status.LambdaRequestID = requestID
	logger = logger.With("eventId", status.EventID, "requestId", requestID)

	delay := d.cfg.Schedule.Delay(status.RetryIndex)
	if err := d.publisher.Publish(ctx, d.cfg.StatusSubject, status, delay); err != nil {
		d.retryLater(ctx, msg, meta, "publish", err)
		return
	}

	if err := d.ack(ctx, msg); err != nil {
		d.retryLater(ctx, msg, meta, "ack", err)
		return
	}

	d.stats.completed.Add(1)
	d.metrics.RecordDispatched(ctx, status.RetryIndex, invokeSeconds)
	logger.Info("Lambda invoked, verification scheduled", "delay", delay)
}

// eventID derives a stable id for an event from the stream sequence of the
// trigger message that first carried it.
func eventID(meta *jetstream.MsgMetadata) string {
	if meta == nil || meta.Sequence.Stream == 0 {
		return uuid.NewString()
	}
	return strconv.FormatUint(meta.Sequence.Stream, 10)
}
