package inspector

import (
	"context"
	"errors"
	"lambdabridge/internal/apperrors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// fakeLogs serves pages of messages in order.
type fakeLogs struct {
	pages [][]string
	err   error

	mu    sync.Mutex
	calls []*cloudwatchlogs.FilterLogEventsInput
}

func (f *fakeLogs) FilterLogEvents(_ context.Context, in *cloudwatchlogs.FilterLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	idx := len(f.calls) - 1
	out := &cloudwatchlogs.FilterLogEventsOutput{}
	if idx < len(f.pages) {
		for _, m := range f.pages[idx] {
			out.Events = append(out.Events, types.FilteredLogEvent{Message: aws.String(m)})
		}
	}
	if idx+1 < len(f.pages) {
		out.NextToken = aws.String("page-" + string(rune('a'+idx)))
	}
	return out, nil
}

func newTestInspector(api *fakeLogs, cfg Config) *Inspector {
	i := NewWithAPI(api, cfg)
	i.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return i
}

func TestFailureEvidence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		pages [][]string
		want  bool
	}{
		{"no events", nil, false},
		{"clean run", [][]string{{"START RequestId: r1", "END RequestId: r1", "REPORT RequestId: r1 Duration: 3 ms"}}, false},
		{"error line", [][]string{{"START RequestId: r1", "2026-03-01T00:00:00Z r1 ERROR boom"}}, true},
		{"timeout", [][]string{{"2026-03-01T00:00:00Z r1 Task timed out after 3.00 seconds"}}, true},
		{"marker on second page", [][]string{{"START RequestId: r1"}, {"r1 ERROR late"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := newTestInspector(&fakeLogs{pages: tt.pages}, Config{}).FailureEvidence(context.Background(), "fn", "r1")
			if err != nil {
				t.Fatalf("FailureEvidence: %v", err)
			}
			if got != tt.want {
				t.Errorf("FailureEvidence = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailureEvidence_Query(t *testing.T) {
	t.Parallel()
	api := &fakeLogs{}
	if _, err := newTestInspector(api, Config{Window: time.Hour}).FailureEvidence(context.Background(), "worker", "abc-123"); err != nil {
		t.Fatalf("FailureEvidence: %v", err)
	}
	if len(api.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(api.calls))
	}
	in := api.calls[0]
	if aws.ToString(in.LogGroupName) != "/aws/lambda/worker" {
		t.Errorf("LogGroupName = %q", aws.ToString(in.LogGroupName))
	}
	if aws.ToString(in.FilterPattern) != `"abc-123"` {
		t.Errorf("FilterPattern = %q", aws.ToString(in.FilterPattern))
	}
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if aws.ToInt64(in.EndTime) != end.UnixMilli() || aws.ToInt64(in.StartTime) != end.Add(-time.Hour).UnixMilli() {
		t.Errorf("window = [%d, %d]", aws.ToInt64(in.StartTime), aws.ToInt64(in.EndTime))
	}
}

func TestFailureEvidence_MaxPages(t *testing.T) {
	t.Parallel()
	api := &fakeLogs{pages: [][]string{{"a"}, {"b"}, {"c"}, {"ERROR"}}}
	got, err := newTestInspector(api, Config{MaxPages: 2}).FailureEvidence(context.Background(), "fn", "r1")
	if err != nil {
		t.Fatalf("FailureEvidence: %v", err)
	}
	if got {
		t.Error("read past MaxPages")
	}
	if len(api.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(api.calls))
	}
}

func TestFailureEvidence_CustomMarkers(t *testing.T) {
	t.Parallel()
	api := &fakeLogs{pages: [][]string{{"r1 ERROR ignored", "r1 panic: nil map"}}}
	got, err := newTestInspector(api, Config{Markers: []string{"panic:"}}).FailureEvidence(context.Background(), "fn", "r1")
	if err != nil || !got {
		t.Errorf("FailureEvidence = %v, %v; want true", got, err)
	}
}

func TestFailureEvidence_NoRequestID(t *testing.T) {
	t.Parallel()
	for _, id := range []string{"", "unknown"} {
		api := &fakeLogs{pages: [][]string{{"ERROR"}}}
		got, err := newTestInspector(api, Config{}).FailureEvidence(context.Background(), "fn", id)
		if err != nil || got {
			t.Errorf("FailureEvidence(%q) = %v, %v; want false, nil", id, got, err)
		}
		if len(api.calls) != 0 {
			t.Errorf("FailureEvidence(%q) queried logs", id)
		}
	}
}

func TestFailureEvidence_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing log group", func(t *testing.T) {
		t.Parallel()
		api := &fakeLogs{err: &types.ResourceNotFoundException{Message: aws.String("log group does not exist")}}
		got, err := newTestInspector(api, Config{}).FailureEvidence(context.Background(), "fn", "r1")
		if err != nil || got {
			t.Errorf("FailureEvidence = %v, %v; want false, nil", got, err)
		}
	})

	t.Run("transport", func(t *testing.T) {
		t.Parallel()
		api := &fakeLogs{err: errors.New("connection reset")}
		_, err := newTestInspector(api, Config{}).FailureEvidence(context.Background(), "fn", "r1")
		if !errors.Is(err, apperrors.ErrInspection) {
			t.Errorf("error = %v, want ErrInspection", err)
		}
		if !apperrors.IsTransient(err) {
			t.Error("inspection failure must be transient")
		}
	})
}
