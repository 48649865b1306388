// Package rollout implements the strategy executors. Each executor drives one
// deployment through its state machine against a driver, recording every
// transition in an execution trace and compensating on failure.
package rollout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/driver"
)

// =============================================================================
// Executor Interface
// =============================================================================

// HealthChecker answers whether every instance of a workload is healthy.
type HealthChecker interface {
	IsHealthy(ctx context.Context, name string) (bool, error)
}

// Executor drives one rollout strategy. Run borrows the driver and health
// checker for the duration of the call only, and always returns a result:
// failures are reported through the result status, never as an error.
type Executor interface {
	Strategy() domain.Strategy
	Run(ctx context.Context, cfg domain.DeploymentConfig, d driver.Driver, hc HealthChecker) domain.DeploymentResult
}

// StepObserver is notified of every recorded step.
type StepObserver interface {
	ObserveStep(strategy domain.Strategy, step domain.ExecutionStep)
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// =============================================================================
// Options
// =============================================================================

// Options tunes the executors. Zero values take the defaults below.
type Options struct {
	// RollingTimeout bounds the rolling rollout wait. Default: 600 seconds.
	RollingTimeout time.Duration

	// BlueGreenTimeout bounds the green readiness wait. Default: 300 seconds.
	BlueGreenTimeout time.Duration

	// CleanupTimeout bounds compensation, which runs even after the run's
	// context is cancelled. Default: 2 minutes.
	CleanupTimeout time.Duration

	// Sleep implements the canary observation window. Default: a timer that
	// honours cancellation.
	Sleep Sleeper

	// Now stamps steps. Default: time.Now.
	Now func() time.Time

	Observer StepObserver
	Logger   *slog.Logger
}

// Default bounds.
const (
	DefaultRollingTimeout   = 600 * time.Second
	DefaultBlueGreenTimeout = 300 * time.Second
	DefaultCleanupTimeout   = 2 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.RollingTimeout <= 0 {
		o.RollingTimeout = DefaultRollingTimeout
	}
	if o.BlueGreenTimeout <= 0 {
		o.BlueGreenTimeout = DefaultBlueGreenTimeout
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = DefaultCleanupTimeout
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Sleep waits for d unless ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// Constructors
// =============================================================================

// New returns the executor for strategy.
func New(strategy domain.Strategy, opts Options) (Executor, error) {
	switch strategy {
	case domain.StrategyRolling:
		return NewRolling(opts), nil
	case domain.StrategyBlueGreen:
		return NewBlueGreen(opts), nil
	case domain.StrategyCanary:
		return NewCanary(opts), nil
	default:
		return nil, domain.NewConfigError("strategy", fmt.Sprintf("invalid strategy %q", strategy))
	}
}

// All returns one executor per known strategy.
func All(opts Options) map[domain.Strategy]Executor {
	out := make(map[domain.Strategy]Executor, len(domain.Strategies))
	for _, s := range domain.Strategies {
		e, _ := New(s, opts)
		out[s] = e
	}
	return out
}
