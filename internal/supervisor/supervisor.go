// Package supervisor wires the pipeline together: it provisions both
// topics, then runs the two pull loops, the scheduler and the HTTP servers
// until the context ends or one of them fails.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"lambdabridge/internal/api"
	"lambdabridge/internal/consumer"
	"lambdabridge/internal/health"
	"lambdabridge/internal/notify"
	"lambdabridge/internal/observability"
	"lambdabridge/internal/schedule"
	"lambdabridge/internal/store"
	"lambdabridge/internal/stream"
	"lambdabridge/pkg/backoff"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"
)

// Deps are the collaborators the supervisor does not build itself.
type Deps struct {
	Invoker        consumer.Invoker
	Inspector      consumer.Inspector
	Store          store.Store
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
}

// Servers configures the HTTP listeners. An empty address disables one.
type Servers struct {
	APIAddr         string
	MetricsAddr     string
	APIKey          string
	ShutdownTimeout time.Duration
}

// Snapshot is the body of GET /stats.
type Snapshot struct {
	Dispatch  consumer.Stats       `json:"dispatch"`
	Verify    consumer.VerifyStats `json:"verify"`
	Notifier  *notify.Stats        `json:"notifier,omitempty"`
	Schedules []schedule.Entry     `json:"schedules"`
}

// Connect dials NATS. Reconnects back off exponentially and never give up.
func Connect(url, credsFile string, cfg Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("lambdabridge"),
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return backoff.Exponential(attempts, &backoff.Config{Initial: cfg.ReconnectWait, Max: cfg.ReconnectMax})
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			slog.Info("NATS connection closed")
		}),
	}
	if credsFile != "" {
		opts = append(opts, nats.UserCredentials(credsFile))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Supervisor owns the running pipeline.
type Supervisor struct {
	nc      *nats.Conn
	cfg     Config
	deps    Deps
	servers Servers
	health  *health.Checker
}

// New creates a supervisor over an open NATS connection.
func New(nc *nats.Conn, cfg Config, deps Deps, servers Servers) *Supervisor {
	if servers.ShutdownTimeout <= 0 {
		servers.ShutdownTimeout = 10 * time.Second
	}
	return &Supervisor{
		nc:      nc,
		cfg:     cfg,
		deps:    deps,
		servers: servers,
		health:  health.NewChecker(),
	}
}

// Health returns the supervisor's health checker.
func (s *Supervisor) Health() *health.Checker {
	return s.health
}

// Run provisions both topics and runs the pipeline until ctx is done or a
// component fails. Nothing starts unless both topics are provisioned.
func (s *Supervisor) Run(ctx context.Context) error {
	js, err := jetstream.New(s.nc)
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}

	manager := stream.NewManager(js, s.cfg.Stream)
	triggerCons, err := manager.Ensure(ctx, s.cfg.Trigger)
	if err != nil {
		return err
	}
	statusCons, err := manager.Ensure(ctx, s.cfg.Status)
	if err != nil {
		return err
	}

	publisher := stream.NewPublisher(js, s.cfg.Stream)
	notifier, webhook := s.notifier()

	consumerCfg := consumer.Config{
		TriggerSubject: s.cfg.Trigger.Subject,
		StatusSubject:  s.cfg.Status.Subject,
		DelayHeader:    s.cfg.Stream.DelayHeader,
		AckWait:        s.cfg.Stream.AckWait,
		AckTimeout:     s.cfg.AckTimeout,
		Schedule:       s.cfg.Schedule,
	}
	dispatcher := consumer.NewDispatcher(consumerCfg, s.deps.Invoker, publisher, s.deps.Metrics)
	verifier := consumer.NewVerifier(consumerCfg, s.deps.Inspector, publisher, notifier, s.deps.Metrics)

	scheduler := schedule.New(publisher, s.cfg.Trigger.Subject)
	if s.deps.Store != nil {
		n, err := scheduler.Load(ctx, s.deps.Store)
		if err != nil {
			slog.Warn("Schedules not loaded", "error", err)
		} else {
			slog.Info("Schedules loaded", "count", n)
		}
	}

	s.health.Register("nats", func(context.Context) error {
		if status := s.nc.Status(); status != nats.CONNECTED {
			return fmt.Errorf("connection %s", status)
		}
		return nil
	})
	s.health.Register("streams", func(ctx context.Context) error {
		return manager.Ready(ctx, s.cfg.Trigger.Stream, s.cfg.Status.Stream)
	})

	stats := func() any {
		snap := Snapshot{
			Dispatch:  dispatcher.Stats(),
			Verify:    verifier.Stats(),
			Schedules: scheduler.Entries(),
		}
		if webhook != nil {
			ns := webhook.Stats()
			snap.Notifier = &ns
		}
		return snap
	}

	router := api.NewRouter(api.RouterConfig{
		Metrics:        s.deps.Metrics,
		HealthChecker:  s.health,
		Stats:          stats,
		Publisher:      publisher,
		Rules:          s.deps.Store,
		TriggerSubject: s.cfg.Trigger.Subject,
		APIKey:         s.servers.APIKey,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx, triggerCons, observability.StageDispatch, dispatcher)
	})
	g.Go(func() error {
		return consumer.Run(gctx, statusCons, observability.StageVerify, verifier)
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	if s.servers.APIAddr != "" {
		g.Go(func() error {
			return s.serve(gctx, "API", &http.Server{
				Addr:         s.servers.APIAddr,
				Handler:      router,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			})
		})
	}
	if s.servers.MetricsAddr != "" && s.deps.MetricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", s.deps.MetricsHandler)
		g.Go(func() error {
			return s.serve(gctx, "metrics", &http.Server{
				Addr:         s.servers.MetricsAddr,
				Handler:      metricsMux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			})
		})
	}

	err = g.Wait()

	if webhook != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), s.servers.ShutdownTimeout)
		if cerr := webhook.Close(closeCtx); cerr != nil {
			slog.Warn("Notifier shutdown error", "error", cerr)
		}
		cancel()
	}

	d, v := dispatcher.Stats(), verifier.Stats()
	slog.Info("Pipeline stopped",
		"dispatched", d.Completed,
		"succeeded", v.Succeeded,
		"retried", v.Retried,
		"exhausted", v.Exhausted,
		"invalid", d.Invalid+v.Invalid,
	)
	return err
}

// notifier builds the configured exhaustion notifiers. The webhook notifier
// is returned separately because it must be drained on shutdown.
func (s *Supervisor) notifier() (notify.Notifier, *notify.WebhookNotifier) {
	var targets notify.Multi
	var webhook *notify.WebhookNotifier
	if s.cfg.Notify.Subject != "" {
		targets = append(targets, notify.NewSubject(s.nc, s.cfg.Notify.Subject, s.deps.Metrics))
		slog.Info("Exhaustion notifications enabled", "subject", s.cfg.Notify.Subject)
	}
	if s.cfg.Notify.WebhookURL != "" {
		webhook = notify.NewWebhook(s.cfg.Notify, s.deps.Metrics)
		targets = append(targets, webhook)
		slog.Info("Exhaustion webhook enabled", "signed", s.cfg.Notify.SigningKey != "")
	}
	switch len(targets) {
	case 0:
		return nil, nil
	case 1:
		return targets[0], webhook
	default:
		return targets, webhook
	}
}

// serve runs srv until ctx is done, then marks the service as shutting
// down and drains it.
func (s *Supervisor) serve(ctx context.Context, name string, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "server", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.health.SetShuttingDown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.servers.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server shutdown error", "server", name, "error", err)
	}
	return nil
}
