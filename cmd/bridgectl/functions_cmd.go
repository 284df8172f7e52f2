package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"lambdabridge/internal/config"
	"lambdabridge/internal/credentials"
	"lambdabridge/internal/lambda"
	"lambdabridge/internal/store"
	"text/tabwriter"

	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
)

// newLister is a variable so tests can avoid calling AWS.
var newLister = func(ctx context.Context, s store.Store) (awslambda.ListFunctionsAPIClient, error) {
	creds, err := credentials.Load(ctx, s)
	if err != nil {
		return nil, err
	}
	awsCfg, err := creds.Config(ctx, config.LoadServiceConfig().AWSEndpoint)
	if err != nil {
		return nil, err
	}
	return awslambda.NewFromConfig(awsCfg), nil
}

func runFunctions(ctx context.Context, s store.Store, args []string, stdout, stderr io.Writer) error {
	cmd := flag.NewFlagSet("functions", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return usagef("%v", err)
	}

	api, err := newLister(ctx, s)
	if err != nil {
		return err
	}
	functions, err := lambda.ListFunctions(ctx, api)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(functions)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tRUNTIME\tARN")
	for _, fn := range functions {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", fn.Name, fn.Runtime, fn.ARN)
	}
	return tw.Flush()
}
