// Package stream provisions the JetStream streams and durable consumers the
// bridge runs on, and publishes envelopes to them.
package stream

import (
	"context"
	"errors"
	"fmt"
	"lambdabridge/internal/apperrors"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// TopicSpec names one stream, the subject it binds and its durable consumer.
type TopicSpec struct {
	Stream   string
	Subject  string
	Consumer string
}

func (s TopicSpec) validate() error {
	switch {
	case s.Stream == "":
		return apperrors.Config("stream", "stream name is required")
	case s.Subject == "":
		return apperrors.Config("subject", "subject is required")
	case s.Consumer == "":
		return apperrors.Config("consumer", "consumer name is required")
	}
	return nil
}

// Provisioner is the part of jetstream.JetStream used for provisioning.
type Provisioner interface {
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
}

// Manager ensures streams and durable pull consumers exist.
type Manager struct {
	js  Provisioner
	cfg Config
}

// NewManager creates a manager.
func NewManager(js Provisioner, cfg Config) *Manager {
	return &Manager{js: js, cfg: cfg.withDefaults()}
}

// Ensure returns the durable consumer for spec, creating the stream and the
// consumer if they do not exist. Repeated and concurrent calls converge on
// the same stream and consumer.
func (m *Manager) Ensure(ctx context.Context, spec TopicSpec) (jetstream.Consumer, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	logger := slog.With("stream", spec.Stream, "subject", spec.Subject, "consumer", spec.Consumer)

	st, err := m.stream(ctx, spec)
	if err != nil {
		return nil, err
	}

	cons, err := st.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       spec.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       m.cfg.AckWait,
		MaxDeliver:    m.cfg.MaxDeliver,
		FilterSubject: spec.Subject,
	})
	if err != nil {
		return nil, apperrors.Provisioning("jetstream.CreateOrUpdateConsumer", err)
	}

	logger.Info("Durable consumer ready")
	return cons, nil
}

// stream fetches the stream, creating it when absent. A create that loses a
// race with another creator falls back to fetching the winner's stream.
func (m *Manager) stream(ctx context.Context, spec TopicSpec) (jetstream.Stream, error) {
	st, err := m.js.Stream(ctx, spec.Stream)
	if err == nil {
		return st, checkBinding(st, spec)
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, apperrors.Provisioning("jetstream.Stream", err)
	}

	st, err = m.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:       spec.Stream,
		Subjects:   []string{spec.Subject},
		Storage:    jetstream.FileStorage,
		Duplicates: m.cfg.DedupWindow,
	})
	switch {
	case err == nil:
		slog.Info("Stream created", "stream", spec.Stream, "subject", spec.Subject)
		return st, nil
	case errors.Is(err, jetstream.ErrStreamNameAlreadyInUse):
		st, err = m.js.Stream(ctx, spec.Stream)
		if err != nil {
			return nil, apperrors.Provisioning("jetstream.Stream", err)
		}
		return st, checkBinding(st, spec)
	default:
		return nil, apperrors.Provisioning("jetstream.CreateStream", err)
	}
}

// checkBinding fails when an existing stream does not capture the subject.
// Existing streams are never modified.
func checkBinding(st jetstream.Stream, spec TopicSpec) error {
	info := st.CachedInfo()
	if info == nil {
		return nil
	}
	for _, pattern := range info.Config.Subjects {
		if SubjectMatches(pattern, spec.Subject) {
			return nil
		}
	}
	return apperrors.Provisioning("jetstream.Stream",
		fmt.Errorf("stream %q exists but does not bind subject %q (subjects: %s)",
			spec.Stream, spec.Subject, strings.Join(info.Config.Subjects, ",")))
}

// Ready checks that every named stream is reachable.
func (m *Manager) Ready(ctx context.Context, streams ...string) error {
	for _, name := range streams {
		if _, err := m.js.Stream(ctx, name); err != nil {
			return fmt.Errorf("stream %s: %w", name, err)
		}
	}
	return nil
}

// SubjectMatches reports whether subject falls under a NATS subject pattern.
// "*" matches one token, a trailing ">" matches one or more.
func SubjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
