// Package notify surfaces events that exhausted their retries: on a NATS
// dead-letter subject, as CloudEvents to a webhook, or both.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"lambdabridge/internal/envelope"
	"time"

	"github.com/google/uuid"
)

// EventTypeExhausted is the CloudEvent type of an exhaustion notification.
const EventTypeExhausted = "lambdabridge.event.exhausted"

// Source is the CloudEvent source of every notification.
const Source = "lambdabridge"

// ErrBufferFull is returned when the notifier's buffer is full and the entry is dropped.
var ErrBufferFull = errors.New("notifier buffer full, entry dropped")

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("notifier is closed")

// Notifier delivers exhaustion entries. Notify must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, entry *Entry) error
}

// Entry is a dead-letter record for one exhausted event.
type Entry struct {
	ID              string          `json:"id"`
	EventID         string          `json:"eventId,omitempty"`
	LambdaARN       string          `json:"lambdaArn"`
	LambdaRequestID string          `json:"lambdaRequestId,omitempty"`
	RetryIndex      uint            `json:"retryIndex"`
	Reason          string          `json:"reason"`
	Envelope        json.RawMessage `json:"envelope"`
	ExhaustedAt     time.Time       `json:"exhaustedAt"`
}

// NewEntry builds a dead-letter entry carrying the full envelope.
func NewEntry(env *envelope.Envelope, reason string) (*Entry, error) {
	raw, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return &Entry{
		ID:              uuid.NewString(),
		EventID:         env.EventID,
		LambdaARN:       env.LambdaARN,
		LambdaRequestID: env.LambdaRequestID,
		RetryIndex:      env.RetryIndex,
		Reason:          reason,
		Envelope:        raw,
		ExhaustedAt:     time.Now().UTC(),
	}, nil
}

// Multi fans an entry out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, entry *Entry) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats holds notifier statistics.
type Stats struct {
	QueueDepth    int   `json:"queueDepth"`    // current queue size
	Queued        int64 `json:"queued"`        // total entries queued
	Delivered     int64 `json:"delivered"`     // successful deliveries
	Failed        int64 `json:"failed"`        // failed after retries
	Dropped       int64 `json:"dropped"`       // dropped due to full buffer or max requeues
	Requeued      int64 `json:"requeued"`      // requeued due to open circuit
	RetriesTotal  int64 `json:"retriesTotal"`  // total retry attempts
	BreakersTotal int   `json:"breakersTotal"` // total circuit breakers
	BreakersOpen  int   `json:"breakersOpen"`  // currently open breakers
}
