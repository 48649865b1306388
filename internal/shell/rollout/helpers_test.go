package rollout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/health"
	"github.com/artpar/rollout/internal/shell/driver/drivertest"
)

// healthFunc adapts a function to HealthChecker.
type healthFunc func(name string) (bool, error)

func (f healthFunc) IsHealthy(ctx context.Context, name string) (bool, error) {
	return f(name)
}

// recordingSleeper records requested pauses without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	pauses []time.Duration
	err    error
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses = append(s.pauses, d)
	return s.err
}

// recordingObserver collects observed steps.
type recordingObserver struct {
	mu    sync.Mutex
	steps []domain.ExecutionStep
}

func (o *recordingObserver) ObserveStep(strategy domain.Strategy, step domain.ExecutionStep) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, step)
}

func testOptions(sleeper *recordingSleeper) Options {
	opts := Options{CleanupTimeout: time.Second}
	if sleeper != nil {
		opts.Sleep = sleeper.Sleep
	}
	return opts
}

func checkerFor(fake *drivertest.Fake) HealthChecker {
	return health.NewChecker(fake, health.DefaultCheckerConfig(), nil)
}

func stepNames(steps []domain.ExecutionStep) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

func findStep(t *testing.T, steps []domain.ExecutionStep, name string) domain.ExecutionStep {
	t.Helper()
	for _, s := range steps {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("step %q not found in %v", name, stepNames(steps))
	return domain.ExecutionStep{}
}

// assertMonotonic checks that once a step fails, only cleanup steps follow.
func assertMonotonic(t *testing.T, steps []domain.ExecutionStep) {
	t.Helper()
	first := domain.FirstFailure(steps)
	if first < 0 {
		return
	}
	for _, s := range steps[first+1:] {
		assert.True(t, s.Cleanup, "non-cleanup step %q recorded after failure of %q", s.Name, steps[first].Name)
	}
}

func canaryConfig(steps ...int) domain.DeploymentConfig {
	cfg := domain.NewDeploymentConfig("web", "app:v2")
	cfg.Strategy = domain.StrategyCanary
	cfg.Replicas = 10
	if len(steps) > 0 {
		cfg.CanarySteps = steps
	}
	return cfg
}
