package main

import (
	"context"
	"fmt"
	"io"
	"lambdabridge/internal/credentials"
	"lambdabridge/internal/schedule"
	"lambdabridge/internal/store"
	"strings"
	"text/tabwriter"
	"time"
)

func runPut(ctx context.Context, s store.Store, args []string, stdout io.Writer) error {
	if len(args) != 2 {
		return usagef("usage: bridgectl put <key> <value>")
	}
	if err := s.Put(ctx, args[0], args[1]); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "%s saved\n", args[0])
	return nil
}

func runGet(ctx context.Context, s store.Store, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return usagef("usage: bridgectl get <key>")
	}
	v, err := s.Get(ctx, args[0])
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, v)
	return nil
}

func runDelete(ctx context.Context, s store.Store, args []string) error {
	if len(args) != 1 {
		return usagef("usage: bridgectl delete <key>")
	}
	return s.Delete(ctx, args[0])
}

func runList(ctx context.Context, s store.Store, stdout io.Writer) error {
	entries, err := s.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		value := e.Value
		if e.Key == credentials.KeySecretKey {
			value = strings.Repeat("*", 8)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", e.Key, value)
	}
	return tw.Flush()
}

func runCredentials(ctx context.Context, s store.Store, args []string, stdout io.Writer) error {
	if len(args) != 3 {
		return usagef("usage: bridgectl credentials <access_key> <secret_key> <region>")
	}
	creds := credentials.AWS{AccessKeyID: args[0], SecretAccessKey: args[1], Region: args[2]}
	if err := credentials.Save(ctx, s, creds); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "credentials saved for region %s; restart the bridge to apply\n", creds.Region)
	return nil
}

func runRule(ctx context.Context, s store.Store, args []string, stdout io.Writer) error {
	if len(args) != 2 {
		return usagef("usage: bridgectl rule <event_type> <lambda_arn>")
	}
	eventType, arn := args[0], args[1]
	if !store.IsRuleKey(eventType) {
		return usagef("event type %q collides with a reserved key prefix", eventType)
	}
	if err := s.Put(ctx, eventType, arn); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "%s -> %s\n", eventType, arn)
	return nil
}

// runSchedule stores "<arn>:<cron>", or a bare cron when the event type's
// routing rule supplies the function.
func runSchedule(ctx context.Context, s store.Store, args []string, stdout io.Writer) error {
	var eventType, arn, spec string
	switch len(args) {
	case 2:
		eventType, spec = args[0], args[1]
	case 3:
		eventType, arn, spec = args[0], args[1], args[2]
	default:
		return usagef("usage: bridgectl schedule <event_type> [lambda_arn] <cron>")
	}

	next, err := schedule.NextRun(spec, time.Now())
	if err != nil {
		return usagef("invalid cron spec %q: %v", spec, err)
	}

	value := spec
	if arn != "" {
		value = store.FormatSchedule(arn, spec)
	} else if _, err := s.Get(ctx, eventType); err != nil {
		return fmt.Errorf("no lambda_arn given and no routing rule for %q: %w", eventType, err)
	}
	if err := s.Put(ctx, store.ScheduleKey(eventType), value); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "%s scheduled %q, next run %s; restart the bridge to apply\n",
		eventType, spec, next.UTC().Format(time.RFC3339))
	return nil
}
