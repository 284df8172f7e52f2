package supervisor

import (
	"lambdabridge/internal/apperrors"
	"lambdabridge/internal/config"
	"lambdabridge/internal/notify"
	"lambdabridge/internal/stream"
	"lambdabridge/pkg/backoff"
	"time"
)

// Config holds the pipeline settings.
type Config struct {
	Trigger       stream.TopicSpec
	Status        stream.TopicSpec
	Stream        stream.Config
	Notify        notify.Config
	Schedule      backoff.Schedule // retry delays (default: backoff.DefaultSchedule)
	AckTimeout    time.Duration    // per acknowledgement round-trip (default: PublishTimeout)
	ReconnectWait time.Duration    // first NATS reconnect delay (default: 500ms)
	ReconnectMax  time.Duration    // cap on NATS reconnect delay (default: 30s)
}

// LoadConfigFromEnv loads pipeline configuration from environment variables.
func LoadConfigFromEnv() Config {
	streamCfg := stream.LoadConfigFromEnv()
	return Config{
		Trigger: stream.TopicSpec{
			Stream:   config.GetEnv("TRIGGER_STREAM", "my_bridge"),
			Subject:  config.GetEnv("TRIGGER_SUBJECT", "my.event"),
			Consumer: config.GetEnv("TRIGGER_CONSUMER", "lambda_trigger"),
		},
		Status: stream.TopicSpec{
			Stream:   config.GetEnv("STATUS_STREAM", "status_bridge"),
			Subject:  config.GetEnv("STATUS_SUBJECT", "my.status"),
			Consumer: config.GetEnv("STATUS_CONSUMER", "status_checker"),
		},
		Stream:        streamCfg,
		Notify:        notify.LoadConfigFromEnv(),
		Schedule:      backoff.DefaultSchedule,
		AckTimeout:    config.GetDurationEnv("ACK_TIMEOUT", streamCfg.PublishTimeout),
		ReconnectWait: config.GetDurationEnv("NATS_RECONNECT_WAIT", 500*time.Millisecond),
		ReconnectMax:  config.GetDurationEnv("NATS_RECONNECT_MAX", 30*time.Second),
	}
}

// Validate rejects configurations that would make the two stages collide.
func (c Config) Validate() error {
	if err := c.Stream.Validate(); err != nil {
		return err
	}
	switch {
	case c.Trigger.Stream == c.Status.Stream:
		return apperrors.Config("STATUS_STREAM", "trigger and status streams must differ")
	case stream.SubjectMatches(c.Trigger.Subject, c.Status.Subject) || stream.SubjectMatches(c.Status.Subject, c.Trigger.Subject):
		return apperrors.Config("STATUS_SUBJECT", "trigger and status subjects must not overlap")
	case c.Notify.Subject != "" && (stream.SubjectMatches(c.Trigger.Subject, c.Notify.Subject) || stream.SubjectMatches(c.Status.Subject, c.Notify.Subject)):
		return apperrors.Config("EXHAUSTED_SUBJECT", "dead-letter subject must not be captured by a pipeline stream")
	}
	return nil
}
