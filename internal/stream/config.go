package stream

import (
	"lambdabridge/internal/apperrors"
	"lambdabridge/internal/config"
	"lambdabridge/pkg/backoff"
	"time"
)

// DefaultDelayHeader carries the per-message delivery delay, e.g. "60s".
const DefaultDelayHeader = "Nats-Delay"

// Config holds JetStream provisioning and publish settings.
type Config struct {
	DedupWindow    time.Duration // stream duplicate window (default: 2m)
	AckWait        time.Duration // consumer ack deadline (default: 60s)
	MaxDeliver     int           // consumer redelivery cap, -1 unlimited (default: -1)
	PublishTimeout time.Duration // per publish round-trip (default: 5s)
	DelayHeader    string        // header carrying the delay directive
}

// LoadConfigFromEnv loads stream configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		DedupWindow:    config.GetDurationEnv("DEDUP_WINDOW", 2*time.Minute),
		AckWait:        config.GetDurationEnv("ACK_WAIT", 60*time.Second),
		MaxDeliver:     config.GetIntEnv("MAX_DELIVER", -1),
		PublishTimeout: config.GetDurationEnv("PUBLISH_TIMEOUT", 5*time.Second),
		DelayHeader:    config.GetEnv("DELAY_HEADER", DefaultDelayHeader),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.DedupWindow <= 0 {
		c.DedupWindow = 2 * time.Minute
	}
	if c.AckWait <= 0 {
		c.AckWait = 60 * time.Second
	}
	if c.MaxDeliver == 0 || c.MaxDeliver < -1 {
		c.MaxDeliver = -1
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.DelayHeader == "" {
		c.DelayHeader = DefaultDelayHeader
	}
	return c
}

// Validate rejects a duplicate window long enough to swallow the next
// legitimate publish of the same event id. Two publishes of one event_id
// to the same stream are never closer than the second backoff step.
func (c Config) Validate() error {
	if c.DedupWindow >= backoff.DefaultSchedule.Delay(1) {
		return apperrors.Config("DEDUP_WINDOW", "DEDUP_WINDOW must be shorter than "+backoff.DefaultSchedule.Delay(1).String())
	}
	return nil
}
