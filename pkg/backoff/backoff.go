// Package backoff provides retry delay calculation.
package backoff

import (
	"math"
	"time"
)

// Schedule is a fixed table of delays indexed by retry number.
// Indexes past the end of the table use the last entry.
type Schedule []time.Duration

// DefaultSchedule is the redelivery schedule for failed invocations:
// 1m, 10m, 30m, 1h, 4h, 8h, 24h.
var DefaultSchedule = Schedule{
	60 * time.Second,
	600 * time.Second,
	1800 * time.Second,
	3600 * time.Second,
	14400 * time.Second,
	28800 * time.Second,
	86400 * time.Second,
}

// Delay returns the delay for the given retry index.
// An empty schedule always returns zero.
func (s Schedule) Delay(index uint) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if index >= uint(len(s)) {
		return s[len(s)-1]
	}
	return s[index]
}

// Max returns the largest delay in the schedule.
func (s Schedule) Max() time.Duration {
	var longest time.Duration
	for _, d := range s {
		longest = max(longest, d)
	}
	return longest
}

// DelaySeconds returns the DefaultSchedule delay for a retry index in whole seconds.
func DelaySeconds(retryIndex uint) uint {
	return uint(DefaultSchedule.Delay(retryIndex) / time.Second)
}

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}
