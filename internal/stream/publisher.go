package stream

import (
	"context"
	"lambdabridge/internal/apperrors"
	"lambdabridge/internal/envelope"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// MsgPublisher is the part of jetstream.JetStream used for publishing.
type MsgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher writes envelopes to JetStream subjects with a delay directive
// and a deduplication key.
type Publisher struct {
	js      MsgPublisher
	header  string
	timeout time.Duration
}

// NewPublisher creates a publisher.
func NewPublisher(js MsgPublisher, cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	return &Publisher{js: js, header: cfg.DelayHeader, timeout: cfg.PublishTimeout}
}

// Publish encodes env and waits for the stream's acknowledgement.
// The envelope's event_id becomes the Nats-Msg-Id, so a republish of the
// same event inside the duplicate window is stored once. A duplicate
// acknowledgement counts as success.
func (p *Publisher) Publish(ctx context.Context, subject string, env *envelope.Envelope, delay time.Duration) error {
	data, err := env.Encode()
	if err != nil {
		return apperrors.Publish("envelope.Encode", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	if delay > 0 {
		msg.Header.Set(p.header, FormatDelay(delay))
	}
	if env.EventID != "" {
		msg.Header.Set(nats.MsgIdHdr, env.EventID)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return apperrors.Publish("jetstream.PublishMsg", err)
	}
	if ack != nil && ack.Duplicate {
		slog.Debug("Publish deduplicated", "subject", subject, "eventId", env.EventID, "seq", ack.Sequence)
	}
	return nil
}
