package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"lambdabridge/internal/apperrors"
	"lambdabridge/internal/config"
	"lambdabridge/internal/envelope"
	"lambdabridge/internal/store"
	"lambdabridge/internal/stream"
	"lambdabridge/internal/supervisor"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func runTrigger(ctx context.Context, s store.Store, args []string, stdout, stderr io.Writer) error {
	cmd := flag.NewFlagSet("trigger", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var eventType, data string
	cmd.StringVar(&eventType, "event-type", "", "Route by this event type's rule and add it to the payload")
	cmd.StringVar(&data, "data", "", "JSON object merged into the payload")
	if err := cmd.Parse(args); err != nil {
		return usagef("%v", err)
	}

	var arn string
	switch cmd.NArg() {
	case 0:
	case 1:
		arn = cmd.Arg(0)
	default:
		return usagef("usage: bridgectl trigger [-event-type T] [-data JSON] [lambda_arn]")
	}

	env, err := buildTrigger(ctx, s, arn, eventType, data)
	if err != nil {
		return err
	}

	svcCfg := config.LoadServiceConfig()
	pipelineCfg := supervisor.LoadConfigFromEnv()

	opts := []nats.Option{nats.Name("bridgectl")}
	if svcCfg.NATSCredsFile != "" {
		opts = append(opts, nats.UserCredentials(svcCfg.NATSCredsFile))
	}
	nc, err := nats.Connect(svcCfg.NATSURL, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", svcCfg.NATSURL, err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}
	publisher := stream.NewPublisher(js, pipelineCfg.Stream)
	if err := publisher.Publish(ctx, pipelineCfg.Trigger.Subject, env, 0); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "published %s to %s (event_id %s)\n", env.LambdaARN, pipelineCfg.Trigger.Subject, env.EventID)
	return nil
}

// buildTrigger assembles a fresh trigger envelope. The function comes from
// arn when given, otherwise from eventType's routing rule.
func buildTrigger(ctx context.Context, s store.Store, arn, eventType, data string) (*envelope.Envelope, error) {
	env := &envelope.Envelope{}
	if data != "" {
		if err := json.Unmarshal([]byte(data), env); err != nil {
			return nil, usagef("-data: %v", err)
		}
	}

	if eventType != "" {
		if err := env.SetExtra("event_type", eventType); err != nil {
			return nil, err
		}
	}

	switch {
	case arn != "":
		env.LambdaARN = arn
	case eventType != "":
		if !store.IsRuleKey(eventType) {
			return nil, usagef("event type %q collides with a reserved key prefix", eventType)
		}
		routed, err := s.Get(ctx, eventType)
		if err != nil {
			return nil, err
		}
		env.LambdaARN = routed
	case env.LambdaARN == "":
		return nil, usagef("a lambda_arn or -event-type is required")
	}

	env.RetryIndex = 0
	env.LambdaRequestID = ""
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}

	// Round-trip through Decode so the CLI rejects what the dispatcher would.
	raw, err := env.Encode()
	if err != nil {
		return nil, err
	}
	decoded, err := envelope.Decode(raw)
	if err != nil {
		if apperrors.IsPermanent(err) {
			return nil, usagef("%v", err)
		}
		return nil, err
	}
	return decoded, nil
}
