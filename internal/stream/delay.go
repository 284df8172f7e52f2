package stream

import (
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// FormatDelay renders a delay directive in whole seconds, e.g. "600s".
// Sub-second remainders round up so a delay is never shortened.
func FormatDelay(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	secs := (d + time.Second - 1) / time.Second
	return strconv.FormatInt(int64(secs), 10) + "s"
}

// ParseDelay parses a delay directive. Bare integers are seconds; anything
// else must be a Go duration string.
func ParseDelay(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.ParseUint(v, 10, 32); err == nil {
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// Remaining returns how long a message stored at stamped must still wait
// before its delay directive is satisfied. Zero means it is due.
func Remaining(h nats.Header, header string, stamped, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	d, ok := ParseDelay(h.Get(header))
	if !ok || d == 0 {
		return 0
	}
	if wait := stamped.Add(d).Sub(now); wait > 0 {
		return wait
	}
	return 0
}
