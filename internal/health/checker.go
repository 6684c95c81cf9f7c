// Package health runs periodic store health checks with optional recovery.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is anything with a context-aware connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	timeout  time.Duration
	log      *logger.Logger
}

// NewChecker creates a health checker running checks every interval.
func NewChecker(interval time.Duration, log *logger.Logger, checks ...Check) *Checker {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Checker{
		interval: interval,
		timeout:  5 * time.Second,
		checks:   checks,
		log:      log.With("service", "HealthChecker"),
	}
}

// StoreCheck pings a store.
func StoreCheck(name string, p Pinger) Check {
	return Check{
		Name:    name,
		CheckFn: p.Ping,
	}
}

// DataDirCheck verifies the data directory still exists and is a directory.
func DataDirCheck(dir string) Check {
	return Check{
		Name: "data_dir",
		CheckFn: func(ctx context.Context) error {
			return checkDir(dir)
		},
		RecoverFn: func(ctx context.Context) error {
			return os.MkdirAll(dir, 0700)
		},
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check and records the results.
func (c *Checker) RunOnce(ctx context.Context) {
	c.mu.RLock()
	prev := make(map[string]bool, len(c.statuses))
	for _, s := range c.statuses {
		prev[s.Name] = s.Healthy
	}
	c.mu.RUnlock()

	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := c.runCheck(ctx, check); err != nil {
			s.Error = err.Error()
			// Attempt recovery
			if check.RecoverFn != nil {
				if rerr := check.RecoverFn(ctx); rerr != nil {
					c.log.Warn("health recovery failed", "check", check.Name, "error", rerr)
				}
			}
		} else {
			s.Healthy = true
		}
		if was, seen := prev[s.Name]; !seen || was != s.Healthy {
			if s.Healthy {
				c.log.Info("health check passing", "check", s.Name)
			} else {
				c.log.Warn("health check failing", "check", s.Name, "error", s.Error)
			}
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

func (c *Checker) runCheck(ctx context.Context, check Check) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return check.CheckFn(ctx)
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
