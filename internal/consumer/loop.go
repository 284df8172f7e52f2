package consumer

import (
	"context"
	"errors"
	"fmt"
	"lambdabridge/pkg/backoff"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrSubscriptionLost is returned by Run when the pull subscription ends
// while its context is still live.
var ErrSubscriptionLost = errors.New("pull subscription lost")

// Run pulls messages from cons one at a time and hands each to h until ctx
// is done. It returns nil on cancellation and ErrSubscriptionLost when the
// consumer or the connection goes away underneath it.
func Run(ctx context.Context, cons jetstream.Consumer, stage string, h Handler) error {
	iter, err := cons.Messages(jetstream.PullMaxMessages(1))
	if err != nil {
		return fmt.Errorf("%s: start pull: %w", stage, err)
	}
	defer iter.Stop()
	stop := context.AfterFunc(ctx, iter.Stop)
	defer stop()

	next := func() (Message, error) {
		msg, err := iter.Next()
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
	return pull(ctx, stage, next, h)
}

func pull(ctx context.Context, stage string, next func() (Message, error), h Handler) error {
	logger := slog.With("stage", stage)
	logger.Info("Consumer started")

	failures := 0
	for {
		msg, err := next()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Consumer stopped")
				return nil
			}
			if fatalPullError(err) {
				logger.Error("Pull subscription ended", "error", err)
				return fmt.Errorf("%s: %w: %w", stage, ErrSubscriptionLost, err)
			}

			failures++
			delay := backoff.Exponential(failures, &backoff.Config{Initial: 100 * time.Millisecond, Max: 5 * time.Second})
			logger.Warn("Pull failed, retrying", "attempt", failures, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				logger.Info("Consumer stopped")
				return nil
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		handle(ctx, stage, h, msg)
	}
}

func fatalPullError(err error) bool {
	return errors.Is(err, jetstream.ErrMsgIteratorClosed) ||
		errors.Is(err, jetstream.ErrConsumerDeleted) ||
		errors.Is(err, nats.ErrConnectionClosed)
}

// handle runs h, turning a panic into a log line. The message stays
// unacknowledged and is redelivered after the ack deadline.
func handle(ctx context.Context, stage string, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Panic recovered in handler", "stage", stage, "error", r)
		}
	}()
	h.Handle(ctx, msg)
}
