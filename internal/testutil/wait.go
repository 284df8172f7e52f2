// Package testutil holds polling helpers for tests that wait on pull loops,
// notifier workers and schedulers.
package testutil

import (
	"testing"
	"time"
)

// WaitOptions configures polling.
type WaitOptions struct {
	Timeout  time.Duration // default: 30s
	Interval time.Duration // default: 100ms
}

// WaitOption is a functional option for the polling helpers.
type WaitOption func(*WaitOptions)

// WithTimeout sets how long to poll.
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Timeout = d }
}

// WithInterval sets the pause between polls.
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Interval = d }
}

func options(opts []WaitOption) WaitOptions {
	o := WaitOptions{Timeout: 30 * time.Second, Interval: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Counter is anything with an int64 Load, such as *atomic.Int64.
type Counter interface {
	Load() int64
}

// WaitFor polls condition until it holds or the timeout passes, and reports
// whether it held. The condition is checked once more at the deadline.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()
	o := options(opts)

	deadline := time.NewTimer(o.Timeout)
	defer deadline.Stop()
	tick := time.NewTicker(o.Interval)
	defer tick.Stop()

	for {
		if condition() {
			return true
		}
		select {
		case <-deadline.C:
			return condition()
		case <-tick.C:
		}
	}
}

// WaitForCount polls until counter reaches target.
func WaitForCount(tb testing.TB, counter Counter, target int64, opts ...WaitOption) bool {
	tb.Helper()
	return WaitFor(tb, func() bool { return counter.Load() >= target }, opts...)
}

// MustWaitFor fails the test if condition does not hold before the timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatalf("condition not met within %v", options(opts).Timeout)
	}
}

// MustWaitForCount fails the test if counter does not reach target in time.
func MustWaitForCount(tb testing.TB, counter Counter, target int64, opts ...WaitOption) {
	tb.Helper()
	if !WaitForCount(tb, counter, target, opts...) {
		tb.Fatalf("counter at %d, want %d within %v", counter.Load(), target, options(opts).Timeout)
	}
}

// Never fails the test if condition becomes true at any poll within d.
// Use it to check that something does not happen, e.g. a duplicate publish.
func Never(tb testing.TB, condition func() bool, d time.Duration, opts ...WaitOption) {
	tb.Helper()
	if WaitFor(tb, condition, append(opts, WithTimeout(d))...) {
		tb.Fatal("condition unexpectedly met")
	}
}
