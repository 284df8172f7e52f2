// bridgectl edits the credential/rule store and publishes manual triggers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"lambdabridge/internal/config"
	"lambdabridge/internal/store"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := Run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// openStore is a variable so tests can point the CLI at a temporary store.
var openStore = func(ctx context.Context) (store.Store, error) {
	cfg := config.LoadServiceConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg)
}

// Run dispatches a subcommand and returns the process exit code:
// 0 on success, 1 on a runtime error, 2 on bad usage.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "put":
		return withStore(ctx, stderr, func(s store.Store) error { return runPut(ctx, s, args[2:], stdout) })
	case "get":
		return withStore(ctx, stderr, func(s store.Store) error { return runGet(ctx, s, args[2:], stdout) })
	case "delete", "rm":
		return withStore(ctx, stderr, func(s store.Store) error { return runDelete(ctx, s, args[2:]) })
	case "list", "ls":
		return withStore(ctx, stderr, func(s store.Store) error { return runList(ctx, s, stdout) })
	case "credentials":
		return withStore(ctx, stderr, func(s store.Store) error { return runCredentials(ctx, s, args[2:], stdout) })
	case "rule":
		return withStore(ctx, stderr, func(s store.Store) error { return runRule(ctx, s, args[2:], stdout) })
	case "schedule":
		return withStore(ctx, stderr, func(s store.Store) error { return runSchedule(ctx, s, args[2:], stdout) })
	case "trigger":
		return withStore(ctx, stderr, func(s store.Store) error { return runTrigger(ctx, s, args[2:], stdout, stderr) })
	case "functions":
		return withStore(ctx, stderr, func(s store.Store) error { return runFunctions(ctx, s, args[2:], stdout, stderr) })
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// usageError marks a command-line mistake (exit 2) as opposed to a
// runtime failure (exit 1).
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

func withStore(ctx context.Context, stderr io.Writer, fn func(store.Store) error) int {
	s, err := openStore(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open store: %v\n", err)
		return 1
	}
	defer s.Close()

	if err := fn(s); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			return 2
		}
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, `Usage: bridgectl <command> [flags] [args]

Store:
  put <key> <value>                       Set a raw store entry
  get <key>                               Print a store entry
  delete <key>                            Remove a store entry
  list                                    Print every entry (secrets masked)
  credentials <access> <secret> <region>  Save the AWS credentials
  rule <event_type> <lambda_arn>          Route an event type to a function
  schedule <event_type> [lambda_arn] <cron>
                                          Fire an event type on a cron spec

Pipeline:
  trigger [-event-type T] [-data JSON] [lambda_arn]
                                          Publish a trigger event
  functions [-json]                       List Lambda functions

The store and NATS connection are configured from the same environment
variables as the bridge (STORE_BACKEND, STORE_PATH, REDIS_ADDR, NATS_URL, ...).
`)
}
