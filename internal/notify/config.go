package notify

import (
	"lambdabridge/internal/config"
	"time"
)

// Hardcoded delivery defaults - these rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
	maxRetryAfter           = 30 * time.Second // cap on a receiver's Retry-After
)

// Config selects and tunes the exhaustion notifiers. Each target is off
// when its address is empty.
type Config struct {
	Subject     string        // NATS dead-letter subject
	WebhookURL  string        // CloudEvent webhook
	SigningKey  string        // HMAC key for the webhook, empty = unsigned
	BufferSize  int           // pending webhook entries (default: 1000)
	Workers     int           // concurrent webhook deliveries (default: 2)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
}

// LoadConfigFromEnv loads notifier configuration from environment variables.
func LoadConfigFromEnv() Config {
	key := config.GetEnv("EXHAUSTED_WEBHOOK_KEY", "")
	if file := config.GetEnv("EXHAUSTED_WEBHOOK_KEY_FILE", ""); file != "" {
		key = config.GetSecretFile(file)
	}
	cfg := Config{
		Subject:     config.GetEnv("EXHAUSTED_SUBJECT", ""),
		WebhookURL:  config.GetEnv("EXHAUSTED_WEBHOOK_URL", ""),
		SigningKey:  key,
		BufferSize:  config.GetIntEnv("NOTIFY_BUFFER_SIZE", 1000),
		Workers:     config.GetIntEnv("NOTIFY_WORKERS", 2),
		HTTPTimeout: config.GetDurationEnv("NOTIFY_HTTP_TIMEOUT", 10*time.Second),
	}
	return cfg.withDefaults()
}

// Enabled reports whether any notification target is configured.
func (c Config) Enabled() bool {
	return c.Subject != "" || c.WebhookURL != ""
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}
