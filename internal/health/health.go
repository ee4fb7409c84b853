// Package health runs readiness checks against the control plane's
// dependencies.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"grimm.is/ruledesk/internal/clock"
	"grimm.is/ruledesk/internal/ruleset"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a single health check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Report represents the overall health report.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) Check

// Checker runs registered checks and caches the report briefly so readiness polls
// do not hammer the kernel.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	cache  *Report
	ttl    time.Duration
	clock  clock.Clock
}

// NewChecker creates a checker with no checks. A nil clock uses real time.
func NewChecker(c clock.Clock) *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		ttl:    5 * time.Second,
		clock:  clock.Or(c),
	}
}

// Register adds a health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
	c.cache = nil
}

// Check runs all health checks and returns a report.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	if c.cache != nil && c.clock.Since(c.cache.Timestamp) < c.ttl {
		report := *c.cache
		c.mu.RUnlock()
		return report
	}
	checkFuncs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checkFuncs[name] = fn
	}
	c.mu.RUnlock()

	checks := make(map[string]Check, len(checkFuncs))
	overallStatus := StatusHealthy

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, fn := range checkFuncs {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			start := c.clock.Now()
			check := fn(ctx)
			check.Name = name
			check.LastChecked = start
			check.Duration = c.clock.Since(start)

			mu.Lock()
			checks[name] = check
			if check.Status == StatusUnhealthy {
				overallStatus = StatusUnhealthy
			} else if check.Status == StatusDegraded && overallStatus != StatusUnhealthy {
				overallStatus = StatusDegraded
			}
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	report := Report{
		Status:    overallStatus,
		Checks:    checks,
		Timestamp: c.clock.Now(),
	}

	c.mu.Lock()
	c.cache = &report
	c.mu.Unlock()

	return report
}

// Handler serves the full report. Degraded is still 200.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		report := c.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}

// CheckKernel lists the ruleset through l. Listing warnings degrade the
// check; a failed listing makes it unhealthy.
func CheckKernel(l ruleset.Lister) CheckFunc {
	return func(ctx context.Context) Check {
		rs, err := l.ListRuleset(ctx)
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("failed to list ruleset: %v", err)}
		}
		if len(rs.Warnings) > 0 {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("listing degraded: %s", rs.Warnings[0])}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("ruleset listed (%d tables, %d rules)", len(rs.Tables), len(rs.Rules()))}
	}
}

// Counter is anything that can report a row count, such as the audit store.
type Counter interface {
	Count() (int64, error)
}

// CheckAudit verifies the audit store answers queries. A broken store only
// degrades readiness since submissions still work without it.
func CheckAudit(store Counter) CheckFunc {
	return func(ctx context.Context) Check {
		n, err := store.Count()
		if err != nil {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("audit store unavailable: %v", err)}
		}
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d events recorded", n)}
	}
}
