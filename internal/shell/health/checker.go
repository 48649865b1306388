// Package health reduces a workload's instance readiness, as reported by its
// driver, to a single healthy/unhealthy answer.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/monitoring"
)

// StatusSource is the part of a driver the checker reads.
type StatusSource interface {
	InstanceStatuses(ctx context.Context, name string) ([]domain.InstanceStatus, error)
}

// CheckerConfig configures the health checker.
type CheckerConfig struct {
	// Attempts is the number of probes before giving up.
	// Default: 1, a single probe.
	Attempts int `mapstructure:"attempts"`

	// Interval is the pause between probes.
	// Default: 5 seconds.
	Interval time.Duration `mapstructure:"interval"`
}

// DefaultCheckerConfig returns the default configuration.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		Attempts: 1,
		Interval: 5 * time.Second,
	}
}

// Checker answers whether every instance of a workload is Running and ready.
type Checker struct {
	source StatusSource
	config CheckerConfig
	logger *slog.Logger
}

// NewChecker creates a checker reading statuses from source.
func NewChecker(source StatusSource, config CheckerConfig, logger *slog.Logger) *Checker {
	if config.Attempts <= 0 {
		config.Attempts = 1
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		source: source,
		config: config,
		logger: logger.With("component", "health_checker"),
	}
}

// IsHealthy probes name up to Attempts times and reports true on the first
// probe where every instance is Running and ready. No instances is unhealthy,
// not an error; an error means the driver itself failed.
func (c *Checker) IsHealthy(ctx context.Context, name string) (bool, error) {
	for attempt := 1; ; attempt++ {
		statuses, err := c.source.InstanceStatuses(ctx, name)
		if err != nil {
			return false, fmt.Errorf("health check %s: %w", name, err)
		}

		if monitoring.AllReady(statuses) {
			c.logger.Debug("workload healthy", "name", name, "attempt", attempt)
			return true, nil
		}

		summary := monitoring.Summarize(statuses)
		if attempt >= c.config.Attempts {
			c.logger.Info("workload unhealthy",
				"name", name,
				"attempts", attempt,
				"instances", summary.Total,
				"ready", summary.Ready,
			)
			return false, nil
		}

		c.logger.Debug("workload not yet healthy, waiting...", "name", name, "status", summary.String())
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(c.config.Interval):
		}
	}
}
