// Package consumer holds the two durable-consumer handlers of the bridge:
// dispatch (invoke the Lambda, schedule verification) and verify (inspect
// the invocation's logs, schedule a retry or finish).
package consumer

import (
	"context"
	"lambdabridge/internal/envelope"
	"lambdabridge/internal/observability"
	"lambdabridge/internal/stream"
	"lambdabridge/pkg/backoff"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Message is the part of jetstream.Msg the handlers use.
type Message interface {
	Data() []byte
	Headers() nats.Header
	Subject() string
	Metadata() (*jetstream.MsgMetadata, error)
	DoubleAck(ctx context.Context) error
	NakWithDelay(delay time.Duration) error
}

// Handler processes one delivered message and settles it.
type Handler interface {
	Handle(ctx context.Context, msg Message)
}

// Publisher republishes an envelope with a delivery delay.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *envelope.Envelope, delay time.Duration) error
}

// Invoker fires an asynchronous Lambda invocation and returns its request id.
type Invoker interface {
	Invoke(ctx context.Context, arn string, payload []byte) (string, error)
}

// Inspector reports whether an invocation left failure evidence in its logs.
type Inspector interface {
	FailureEvidence(ctx context.Context, functionName, requestID string) (bool, error)
}

// Config holds settings shared by both handlers.
type Config struct {
	TriggerSubject string
	StatusSubject  string
	DelayHeader    string           // header carrying the delay directive
	AckWait        time.Duration    // upper bound for transient-error redelivery
	AckTimeout     time.Duration    // per acknowledgement round-trip (default: 5s)
	Schedule       backoff.Schedule // retry delays (default: backoff.DefaultSchedule)
}

func (c Config) withDefaults() Config {
	if c.DelayHeader == "" {
		c.DelayHeader = stream.DefaultDelayHeader
	}
	if c.AckWait <= 0 {
		c.AckWait = 60 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if len(c.Schedule) == 0 {
		c.Schedule = backoff.DefaultSchedule
	}
	return c
}

// Stats holds handler counters.
type Stats struct {
	Received  int64 `json:"received"`  // messages handed to the handler
	Deferred  int64 `json:"deferred"`  // not yet due, redelivered later
	Invalid   int64 `json:"invalid"`   // malformed envelopes dropped
	Transient int64 `json:"transient"` // left unacknowledged for redelivery
	Completed int64 `json:"completed"` // acknowledged after doing their work
}

type counters struct {
	received  atomic.Int64
	deferred  atomic.Int64
	invalid   atomic.Int64
	transient atomic.Int64
	completed atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Received:  c.received.Load(),
		Deferred:  c.deferred.Load(),
		Invalid:   c.invalid.Load(),
		Transient: c.transient.Load(),
		Completed: c.completed.Load(),
	}
}

// base carries the settlement logic both handlers share.
type base struct {
	stage   string
	cfg     Config
	metrics *observability.Metrics
	now     func() time.Time
	stats   counters
}

// gate naks a message whose delay directive has not yet elapsed.
// It reports whether the message was deferred.
func (b *base) gate(msg Message, meta *jetstream.MsgMetadata) bool {
	if meta == nil {
		return false
	}
	wait := stream.Remaining(msg.Headers(), b.cfg.DelayHeader, meta.Timestamp, b.now())
	if wait <= 0 {
		return false
	}
	b.stats.deferred.Add(1)
	if err := msg.NakWithDelay(wait); err != nil {
		slog.Warn("Deferral nak failed", "stage", b.stage, "seq", meta.Sequence.Stream, "error", err)
	}
	return true
}

// drop acknowledges a message that can never be processed.
func (b *base) drop(ctx context.Context, msg Message, err error) {
	b.stats.invalid.Add(1)
	b.metrics.RecordInvalidEnvelope(ctx, b.stage)
	slog.Warn("Dropping invalid envelope", "stage", b.stage, "subject", msg.Subject(), "error", err)
	if ackErr := b.ack(ctx, msg); ackErr != nil {
		slog.Warn("Ack of invalid envelope failed", "stage", b.stage, "error", ackErr)
	}
}

// retryLater leaves the message unacknowledged and asks for redelivery
// after an exponential delay. Nothing is sent once ctx is done: the
// server redelivers after the ack deadline.
func (b *base) retryLater(ctx context.Context, msg Message, meta *jetstream.MsgMetadata, kind string, err error) {
	b.stats.transient.Add(1)
	b.metrics.RecordTransientError(ctx, b.stage, kind)

	attempt := 1
	if meta != nil {
		attempt = int(meta.NumDelivered)
	}
	delay := backoff.Exponential(attempt, &backoff.Config{Initial: time.Second, Max: b.cfg.AckWait})

	logger := slog.With("stage", b.stage, "kind", kind, "attempt", attempt)
	if ctx.Err() != nil {
		logger.Info("Leaving message for redelivery after shutdown", "error", err)
		return
	}
	logger.Warn("Transient failure, message will be redelivered", "delay", delay, "error", err)
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		logger.Warn("Nak failed", "error", nakErr)
	}
}

// ack confirms the message with the server. The work it settles is already
// durable, so the acknowledgement outlives a cancelled handler context.
func (b *base) ack(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.AckTimeout)
	defer cancel()
	return msg.DoubleAck(ctx)
}
