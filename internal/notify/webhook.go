package notify

import (
	"context"
	"fmt"
	"lambdabridge/internal/observability"
	"lambdabridge/pkg/backoff"
	"lambdabridge/pkg/circuitbreaker"
	"lambdabridge/pkg/cloudevent"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRecorder is an optional interface for recording notifier metrics.
type MetricsRecorder interface {
	RecordNotification(ctx context.Context, result string)
	RecordNotifyDelivered(ctx context.Context, durationSeconds float64)
	RecordNotifyQueueSize(ctx context.Context, size int64)
}

// delivery is one queued webhook POST.
type delivery struct {
	event    *cloudevent.CloudEvent
	requeues int
}

// WebhookNotifier delivers entries as CloudEvents to a webhook.
// Entries are queued in a bounded channel and delivered by a worker pool.
// If the buffer is full, entries are dropped (logged + metric incremented).
type WebhookNotifier struct {
	url      string
	key      string
	queue    chan *delivery
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	config   Config
	logger   *slog.Logger
	metrics  MetricsRecorder
	cooldown time.Duration

	// Internal counters (for Stats())
	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewWebhook creates a webhook notifier and starts its workers.
func NewWebhook(cfg Config, metrics MetricsRecorder) *WebhookNotifier {
	cfg = cfg.withDefaults()

	n := &WebhookNotifier{
		url:    cfg.WebhookURL,
		key:    cfg.SigningKey,
		queue:  make(chan *delivery, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  defaultBreakerCooldown,
		}),
		config:   cfg,
		logger:   slog.With("component", "notifier", "destination", extractHost(cfg.WebhookURL)),
		metrics:  metrics,
		cooldown: defaultBreakerCooldown,
		shutdown: make(chan struct{}),
	}

	n.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go n.worker()
	}

	if metrics != nil {
		go n.reportQueueSize()
	}

	n.logger.Info("Webhook notifier started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return n
}

// reportQueueSize periodically reports the queue size metric.
func (n *WebhookNotifier) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.shutdown:
			return
		case <-ticker.C:
			n.metrics.RecordNotifyQueueSize(context.Background(), int64(len(n.queue)))
		}
	}
}

// Notify queues the entry as a CloudEvent. Non-blocking.
func (n *WebhookNotifier) Notify(ctx context.Context, entry *Entry) error {
	if n.closed.Load() {
		return ErrClosed
	}

	event := cloudevent.New(EventTypeExhausted, Source, entry.EventID, entry.ID, entry)
	select {
	case n.queue <- &delivery{event: event}:
		n.queued.Add(1)
		return nil
	default:
		n.dropped.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotification(ctx, observability.ResultDropped)
		}
		n.logger.Warn("Notification dropped, buffer full", "eventId", entry.EventID)
		return ErrBufferFull
	}
}

// Stats returns current notifier statistics.
func (n *WebhookNotifier) Stats() Stats {
	breakerStats := n.breakers.Stats()
	return Stats{
		QueueDepth:    len(n.queue),
		Queued:        n.queued.Load(),
		Delivered:     n.delivered.Load(),
		Failed:        n.failed.Load(),
		Dropped:       n.dropped.Load(),
		Requeued:      n.requeued.Load(),
		RetriesTotal:  n.retriesTotal.Load(),
		BreakersTotal: breakerStats.Total,
		BreakersOpen:  breakerStats.Open,
	}
}

// Close stops accepting entries and drains the queue until ctx expires.
func (n *WebhookNotifier) Close(ctx context.Context) error {
	if n.closed.Swap(true) {
		return nil // already closed
	}

	n.logger.Info("Webhook notifier shutting down", "queued", len(n.queue))
	close(n.shutdown)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Webhook notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.logger.Warn("Webhook notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

// worker processes entries from the queue.
func (n *WebhookNotifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			n.drainQueue()
			return
		case d := <-n.queue:
			n.deliver(d)
		}
	}
}

// drainQueue delivers remaining entries after the shutdown signal.
func (n *WebhookNotifier) drainQueue() {
	for {
		select {
		case d := <-n.queue:
			n.deliver(d)
		default:
			return
		}
	}
}

// deliver attempts one delivery with retry, guarded by the host's breaker.
func (n *WebhookNotifier) deliver(d *delivery) {
	host := extractHost(n.url)
	breaker := n.breakers.Get(host)

	if !breaker.Allow() {
		n.requeue(d)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := n.sendWithRetry(ctx, d.event); err != nil {
		breaker.RecordFailure()
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotification(ctx, observability.ResultFailed)
		}
		n.logger.Warn("Notification failed", "eventId", d.event.Subject, "error", err)
		return
	}

	breaker.RecordSuccess()
	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyDelivered(ctx, time.Since(start).Seconds())
	}
}

// requeue puts a delivery back after the breaker cooldown.
func (n *WebhookNotifier) requeue(d *delivery) {
	if d.requeues >= defaultMaxRequeues {
		n.dropped.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotification(context.Background(), observability.ResultDropped)
		}
		n.logger.Warn("Notification dropped, max requeues reached", "eventId", d.event.Subject, "requeues", d.requeues)
		return
	}

	d.requeues++
	n.requeued.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotification(context.Background(), observability.ResultRequeued)
	}

	go func() {
		select {
		case <-n.shutdown:
			return
		case <-time.After(n.cooldown):
		}

		select {
		case n.queue <- d:
		case <-n.shutdown:
		default:
			n.dropped.Add(1)
			if n.metrics != nil {
				n.metrics.RecordNotification(context.Background(), observability.ResultDropped)
			}
			n.logger.Warn("Notification dropped on requeue, buffer full", "eventId", d.event.Subject)
		}
	}()
}

func (n *WebhookNotifier) sendWithRetry(ctx context.Context, event *cloudevent.CloudEvent) error {
	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			n.retriesTotal.Add(1)
			wait := backoff.Exponential(attempt, nil)
			if after, ok := cloudevent.RetryAfter(lastErr); ok {
				wait = min(max(wait, after), maxRetryAfter)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		lastErr = n.sender.Send(ctx, n.url, event, n.key)
		if lastErr == nil {
			return nil
		}
		if !cloudevent.IsRetryable(lastErr) {
			return fmt.Errorf("not retryable: %w", lastErr)
		}
	}
	return lastErr
}

// extractHost extracts the host from a URL for circuit breaker keying.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

// Verify the notifiers implement Notifier
var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*SubjectNotifier)(nil)
	_ Notifier = Multi(nil)
)
