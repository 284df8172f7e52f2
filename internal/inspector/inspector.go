// Package inspector looks for failure evidence of a Lambda invocation in the
// function's CloudWatch log group.
package inspector

import (
	"context"
	"errors"
	"lambdabridge/internal/apperrors"
	"lambdabridge/internal/config"
	"lambdabridge/internal/envelope"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// DefaultMarkers are substrings that mark a failed invocation.
var DefaultMarkers = []string{"ERROR", "Task timed out"}

// Config holds inspection settings.
type Config struct {
	Window   time.Duration // how far back to search (default: 25h)
	Timeout  time.Duration // bound on the whole query (default: 15s)
	Markers  []string      // failure signatures (default: DefaultMarkers)
	MaxPages int           // result pages read per query (default: 10)
}

// LoadConfigFromEnv loads inspector configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Window:   config.GetDurationEnv("INSPECT_WINDOW", 25*time.Hour),
		Timeout:  config.GetDurationEnv("INSPECT_TIMEOUT", 15*time.Second),
		Markers:  config.GetListEnv("INSPECT_MARKERS", DefaultMarkers),
		MaxPages: config.GetIntEnv("INSPECT_MAX_PAGES", 10),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 25 * time.Hour
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if len(c.Markers) == 0 {
		c.Markers = DefaultMarkers
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 10
	}
	return c
}

// Inspector queries CloudWatch Logs. Safe for concurrent use.
type Inspector struct {
	api cloudwatchlogs.FilterLogEventsAPIClient
	cfg Config
	now func() time.Time
}

// New creates an inspector from an SDK configuration.
func New(awsCfg aws.Config, cfg Config) *Inspector {
	return NewWithAPI(cloudwatchlogs.NewFromConfig(awsCfg), cfg)
}

// NewWithAPI creates an inspector over an existing API implementation.
func NewWithAPI(api cloudwatchlogs.FilterLogEventsAPIClient, cfg Config) *Inspector {
	return &Inspector{api: api, cfg: cfg.withDefaults(), now: time.Now}
}

// FailureEvidence reports whether any log line of the invocation carries a
// failure marker. Zero matching lines, a missing log group, or an
// uncorrelatable request id all yield false: absence of evidence, not proof
// of success.
func (i *Inspector) FailureEvidence(ctx context.Context, functionName, requestID string) (bool, error) {
	if requestID == "" || requestID == envelope.UnknownRequestID {
		slog.Warn("No request id to correlate, skipping log inspection", "function", functionName)
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	end := i.now()
	in := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:  aws.String("/aws/lambda/" + functionName),
		FilterPattern: aws.String(strconv.Quote(requestID)),
		StartTime:     aws.Int64(end.Add(-i.cfg.Window).UnixMilli()),
		EndTime:       aws.Int64(end.UnixMilli()),
	}

	pages := cloudwatchlogs.NewFilterLogEventsPaginator(i.api, in)
	for n := 0; pages.HasMorePages() && n < i.cfg.MaxPages; n++ {
		out, err := pages.NextPage(ctx)
		if err != nil {
			var notFound *types.ResourceNotFoundException
			if errors.As(err, &notFound) {
				return false, nil
			}
			return false, apperrors.Inspection("logs.FilterLogEvents", err)
		}
		if i.containsMarker(out.Events) {
			return true, nil
		}
	}
	return false, nil
}

func (i *Inspector) containsMarker(events []types.FilteredLogEvent) bool {
	for _, ev := range events {
		msg := aws.ToString(ev.Message)
		for _, marker := range i.cfg.Markers {
			if strings.Contains(msg, marker) {
				return true
			}
		}
	}
	return false
}
