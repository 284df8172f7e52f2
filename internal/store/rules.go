package store

import (
	"context"
	"fmt"
	"strings"
)

// Key prefixes partitioning the key space.
const (
	CredentialPrefix = "aws_"
	SchedulePrefix   = "schedule:"
)

// Lister lists store entries.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

// Rule routes an event type to a function.
type Rule struct {
	EventType string `json:"eventType"`
	LambdaARN string `json:"lambdaArn"`
}

// Schedule fires an event type on a cron spec.
type Schedule struct {
	EventType string `json:"eventType"`
	LambdaARN string `json:"lambdaArn"`
	Spec      string `json:"spec"`
}

// ScheduleKey returns the store key for an event type's schedule.
func ScheduleKey(eventType string) string {
	return SchedulePrefix + eventType
}

// IsRuleKey reports whether key holds a routing rule.
func IsRuleKey(key string) bool {
	return key != "" && !strings.HasPrefix(key, CredentialPrefix) && !strings.HasPrefix(key, SchedulePrefix)
}

// Rules returns every routing rule, sorted by event type.
func Rules(ctx context.Context, s Lister) ([]Rule, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var rules []Rule
	for _, e := range entries {
		if IsRuleKey(e.Key) {
			rules = append(rules, Rule{EventType: e.Key, LambdaARN: e.Value})
		}
	}
	return rules, nil
}

// Schedules returns every parseable schedule. Entries that cannot be
// resolved are returned in invalid, keyed by event type, rather than
// failing the whole listing.
func Schedules(ctx context.Context, s Lister) (schedules []Schedule, invalid map[string]error, err error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	rules := make(map[string]string)
	for _, e := range entries {
		if IsRuleKey(e.Key) {
			rules[e.Key] = e.Value
		}
	}
	for _, e := range entries {
		eventType, ok := strings.CutPrefix(e.Key, SchedulePrefix)
		if !ok {
			continue
		}
		sched, err := ParseSchedule(eventType, e.Value, rules)
		if err != nil {
			if invalid == nil {
				invalid = make(map[string]error)
			}
			invalid[eventType] = err
			continue
		}
		schedules = append(schedules, sched)
	}
	return schedules, invalid, nil
}

// ParseSchedule parses a schedule value "<lambda_arn>:<cron>". ARNs contain
// colons and cron specs do not, so the split is at the last colon. A value
// with no colon is a bare cron spec whose function comes from the event
// type's routing rule.
func ParseSchedule(eventType, value string, rules map[string]string) (Schedule, error) {
	value = strings.TrimSpace(value)
	if eventType == "" {
		return Schedule{}, fmt.Errorf("schedule has no event type")
	}
	if value == "" {
		return Schedule{}, fmt.Errorf("schedule %q is empty", eventType)
	}

	i := strings.LastIndex(value, ":")
	if i < 0 {
		arn, ok := rules[eventType]
		if !ok || arn == "" {
			return Schedule{}, fmt.Errorf("schedule %q has no function and no routing rule", eventType)
		}
		return Schedule{EventType: eventType, LambdaARN: arn, Spec: value}, nil
	}

	arn, spec := strings.TrimSpace(value[:i]), strings.TrimSpace(value[i+1:])
	if arn == "" || spec == "" {
		return Schedule{}, fmt.Errorf("schedule %q must be <lambda_arn>:<cron>", eventType)
	}
	return Schedule{EventType: eventType, LambdaARN: arn, Spec: spec}, nil
}

// FormatSchedule is the inverse of ParseSchedule.
func FormatSchedule(arn, spec string) string {
	return arn + ":" + spec
}
