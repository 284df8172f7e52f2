package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"lambdabridge/internal/observability"
	"log/slog"
)

// CorePublisher is a fire-and-forget NATS publisher; *nats.Conn satisfies it.
type CorePublisher interface {
	Publish(subject string, data []byte) error
}

// SubjectNotifier publishes entries as JSON on a core NATS subject.
type SubjectNotifier struct {
	nc      CorePublisher
	subject string
	metrics MetricsRecorder
}

// NewSubject creates a dead-letter subject notifier.
func NewSubject(nc CorePublisher, subject string, metrics MetricsRecorder) *SubjectNotifier {
	return &SubjectNotifier{nc: nc, subject: subject, metrics: metrics}
}

// Notify publishes the entry. Core publishes are buffered by the
// connection, so this does not wait for the server.
func (s *SubjectNotifier) Notify(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := s.nc.Publish(s.subject, data); err != nil {
		if s.metrics != nil {
			s.metrics.RecordNotification(ctx, observability.ResultFailed)
		}
		return fmt.Errorf("publish %s: %w", s.subject, err)
	}
	if s.metrics != nil {
		s.metrics.RecordNotification(ctx, observability.ResultDelivered)
	}
	slog.Debug("Dead-letter entry published", "subject", s.subject, "eventId", entry.EventID)
	return nil
}
