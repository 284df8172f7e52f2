// Package health provides liveness and readiness probes for the bridge.
package health

import (
	"context"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Check verifies one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// Response is the body served by the probe endpoints.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

var shuttingDown = &Response{
	Status: StatusUnhealthy,
	Checks: map[string]CheckResult{
		"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
	},
}

// Checker runs named readiness checks concurrently and keeps the last
// result for cacheTTL.
type Checker struct {
	timeout  time.Duration
	cacheTTL time.Duration

	mu       sync.Mutex
	checks   map[string]Check
	cached   *Response
	cachedAt time.Time
	draining bool
}

// NewChecker creates a health checker with no checks registered. Readiness
// is unhealthy until at least one check is registered.
func NewChecker() *Checker {
	return &Checker{
		timeout:  5 * time.Second,
		cacheTTL: time.Second,
		checks:   make(map[string]Check),
	}
}

// Register adds or replaces a named readiness check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
	c.cached = nil
}

// Liveness reports the process is alive. It checks no dependencies.
func (c *Checker) Liveness(context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness runs every registered check, each bounded by the checker's
// timeout.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.Lock()
	switch {
	case c.draining:
		c.mu.Unlock()
		return shuttingDown
	case c.cached != nil && time.Since(c.cachedAt) < c.cacheTTL:
		cached := c.cached
		c.mu.Unlock()
		return cached
	}
	checks := maps.Clone(c.checks)
	c.mu.Unlock()

	response := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(checks))}
	if len(checks) == 0 {
		response.Status = StatusUnhealthy
	}

	var mu sync.Mutex
	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			result := c.run(ctx, check)
			mu.Lock()
			defer mu.Unlock()
			response.Checks[name] = result
			if result.Status != StatusHealthy {
				response.Status = StatusUnhealthy
			}
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	if !c.draining {
		c.cached = response
		c.cachedAt = time.Now()
	}
	c.mu.Unlock()
	return response
}

func (c *Checker) run(ctx context.Context, check Check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	result := CheckResult{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}

// SetShuttingDown makes readiness fail from now on.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draining = true
	c.cached = nil
}
