// bridge consumes trigger events from JetStream, invokes the routed Lambda
// function and verifies each invocation, retrying failures with backoff.
package main

import (
	"context"
	"lambdabridge/internal/config"
	"lambdabridge/internal/credentials"
	"lambdabridge/internal/inspector"
	"lambdabridge/internal/lambda"
	"lambdabridge/internal/observability"
	"lambdabridge/internal/store"
	"lambdabridge/internal/supervisor"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	svcCfg := config.LoadServiceConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: svcCfg.LogLevel})))

	if err := run(svcCfg); err != nil {
		slog.Error("Bridge failed", "error", err)
		os.Exit(1)
	}
}

func run(svcCfg *config.ServiceConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	pipelineCfg := supervisor.LoadConfigFromEnv()
	if err := svcCfg.Validate(); err != nil {
		return err
	}
	if err := pipelineCfg.Validate(); err != nil {
		return err
	}

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	kv, err := store.Open(ctx, svcCfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	// Credentials are read once; changing them requires a restart.
	creds, err := credentials.Load(ctx, kv)
	if err != nil {
		return err
	}
	awsCfg, err := creds.Config(ctx, svcCfg.AWSEndpoint)
	if err != nil {
		return err
	}
	slog.Info("AWS credentials loaded", "credentials", creds)

	nc, err := supervisor.Connect(svcCfg.NATSURL, svcCfg.NATSCredsFile, pipelineCfg)
	if err != nil {
		return err
	}
	defer nc.Close()
	slog.Info("Connected to NATS", "url", nc.ConnectedUrl())

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	sup := supervisor.New(nc, pipelineCfg, supervisor.Deps{
		Invoker:        lambda.New(awsCfg, svcCfg.InvokeTimeout),
		Inspector:      inspector.New(awsCfg, inspector.LoadConfigFromEnv()),
		Store:          kv,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	}, supervisor.Servers{
		APIAddr:         ":" + svcCfg.Port,
		MetricsAddr:     ":" + svcCfg.MetricsPort,
		APIKey:          svcCfg.APIKey,
		ShutdownTimeout: svcCfg.ShutdownTimeout,
	})

	if err := sup.Run(ctx); err != nil {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}
