package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/driver"
	"github.com/artpar/rollout/internal/shell/driver/drivertest"
	"github.com/artpar/rollout/internal/shell/lock"
	"github.com/artpar/rollout/internal/shell/metrics"
	"github.com/artpar/rollout/internal/shell/rollout"
)

// =============================================================================
// Test Helpers
// =============================================================================

// stubResolver hands out one driver for every platform and namespace.
type stubResolver struct {
	d   driver.Driver
	err error

	mu    sync.Mutex
	calls int
}

func (r *stubResolver) Resolve(ctx context.Context, platform domain.Platform, namespace string, dryRun bool) (driver.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.d, nil
}

// panicExecutor blows up inside Run.
type panicExecutor struct{}

func (panicExecutor) Strategy() domain.Strategy { return domain.StrategyRolling }

func (panicExecutor) Run(ctx context.Context, cfg domain.DeploymentConfig, d driver.Driver, hc rollout.HealthChecker) domain.DeploymentResult {
	panic("nil map write")
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newManager(t *testing.T, fake *drivertest.Fake, mutate func(*Options)) (*Manager, *stubResolver) {
	t.Helper()
	res := &stubResolver{d: fake}
	n := 0
	opts := Options{
		Resolver: res,
		Rollout:  rollout.Options{Sleep: noSleep, CleanupTimeout: time.Second},
		NewRunID: func() string { n++; return fmt.Sprintf("run-%d", n) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts), res
}

// =============================================================================
// Deploy Tests
// =============================================================================

func TestDeploy_ConfigErrorSkipsDriverAndHistory(t *testing.T) {
	fake := drivertest.New()
	m, resolver := newManager(t, fake, nil)

	res := m.Deploy(context.Background(), domain.DeploymentConfig{Image: "app:v2"})

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Contains(t, res.Message, "name")
	assert.Empty(t, res.Steps)
	assert.NotNil(t, res.Steps)
	assert.Empty(t, res.RunID)
	assert.Zero(t, resolver.calls)
	assert.Empty(t, fake.Calls())
	assert.Empty(t, m.History())
}

func TestDeploy_InvalidCanaryStepsRejected(t *testing.T) {
	fake := drivertest.New()
	m, resolver := newManager(t, fake, nil)

	cfg := domain.NewDeploymentConfig("web", "app:v2")
	cfg.Strategy = domain.StrategyCanary
	cfg.CanarySteps = []int{10, 50}

	res := m.Deploy(context.Background(), cfg)

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Contains(t, res.Message, "last step must be 100")
	assert.Zero(t, resolver.calls)
	assert.Empty(t, m.History())
}

func TestDeploy_RollingSuccess(t *testing.T) {
	fake := drivertest.New().Seed("web", "app:v1", 3)
	m, _ := newManager(t, fake, nil)

	res := m.Deploy(context.Background(), domain.NewDeploymentConfig("web", "app:v2"))

	require.Equal(t, domain.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, "run-1", res.RunID)
	assert.False(t, res.StartedAt.IsZero())
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	w, _ := fake.Workload("web")
	assert.Equal(t, "app:v2", w.Image)

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, "run-1", history[0].RunID)
	assert.Equal(t, domain.StrategyRolling, history[0].Strategy)
	assert.Equal(t, "app:v2", history[0].Image)
	assert.Equal(t, domain.StatusSuccess, history[0].Outcome)
}

func TestDeploy_RollingTimeoutRollsBackOnce(t *testing.T) {
	fake := drivertest.New().Seed("web", "app:v1", 3)
	fake.WaitReadyFunc = func(string, time.Duration) (bool, error) { return false, nil }
	m, _ := newManager(t, fake, nil)

	res := m.Deploy(context.Background(), domain.NewDeploymentConfig("web", "app:v2"))

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Contains(t, res.Message, "rolled back")

	sets := fake.CallsTo(driver.OpSetImage)
	require.Len(t, sets, 2)
	assert.Equal(t, "app:v1", sets[1].Image)

	require.Len(t, m.History(), 1)
	assert.Equal(t, domain.StatusError, m.History()[0].Outcome)
}

func TestDeploy_CanaryFailsAtFinalStep(t *testing.T) {
	fake := drivertest.New().Seed("web", "app:v1", 4)

	var mu sync.Mutex
	canaryChecks := 0
	fake.StatusesFunc = func(name string) ([]domain.InstanceStatus, error) {
		ready := true
		if name == "web-canary" {
			mu.Lock()
			canaryChecks++
			ready = canaryChecks < 2
			mu.Unlock()
		}
		return []domain.InstanceStatus{{ID: name + "-0", Phase: domain.PhaseRunning, Ready: ready}}, nil
	}
	m, _ := newManager(t, fake, nil)

	cfg := domain.NewDeploymentConfig("web", "app:v2")
	cfg.Strategy = domain.StrategyCanary
	cfg.Replicas = 4
	cfg.CanarySteps = []int{50, 100}

	res := m.Deploy(context.Background(), cfg)

	require.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, "canary failed at 100%", res.Message)

	var names []string
	for _, s := range res.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"deploy_canary", "canary_50%", "canary_100%", "cleanup_canary", "restore_stable"}, names)
	assert.True(t, res.Steps[1].Success)
	assert.False(t, res.Steps[2].Success)
	assert.True(t, res.Steps[3].Cleanup)
	assert.True(t, res.Steps[3].Success)

	_, exists := fake.Workload("web-canary")
	assert.False(t, exists)
	w, _ := fake.Workload("web")
	assert.Equal(t, 4, w.Replicas)
	assert.Equal(t, "app:v1", w.Image)
}

func TestDeploy_PanicBecomesInternalError(t *testing.T) {
	fake := drivertest.New()
	m, _ := newManager(t, fake, func(o *Options) {
		o.Executors = map[domain.Strategy]rollout.Executor{domain.StrategyRolling: panicExecutor{}}
	})

	res := m.Deploy(context.Background(), domain.NewDeploymentConfig("web", "app:v2"))

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Contains(t, res.Message, domain.ErrInternal.Error())
	assert.Contains(t, res.Message, "nil map write")
	assert.Len(t, m.History(), 1)
}

func TestDeploy_MissingExecutor(t *testing.T) {
	fake := drivertest.New()
	m, resolver := newManager(t, fake, func(o *Options) {
		o.Executors = map[domain.Strategy]rollout.Executor{}
	})

	res := m.Deploy(context.Background(), domain.NewDeploymentConfig("web", "app:v2"))

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Contains(t, res.Message, "no executor for strategy rolling")
	assert.Zero(t, resolver.calls)
}

func TestDeploy_ResolveError(t *testing.T) {
	m := New(Options{Resolver: &stubResolver{err: errors.New("kubeconfig not found")}})

	res := m.Deploy(context.Background(), domain.NewDeploymentConfig("web", "app:v2"))

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, "resolve driver: kubeconfig not found", res.Message)
	assert.Len(t, m.History(), 1)
}

func TestDeploy_WorkloadLocked(t *testing.T) {
	fake := drivertest.New().Seed("web", "app:v1", 3)
	locker := lock.NewLocal()
	m, _ := newManager(t, fake, func(o *Options) { o.Locker = locker })

	cfg := domain.NewDeploymentConfig("web", "app:v2")
	unlock, err := locker.Lock(context.Background(), cfg.Ref().Key(), time.Minute)
	require.NoError(t, err)

	res := m.Deploy(context.Background(), cfg)
	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, domain.ErrDeploymentInProgress.Error(), res.Message)
	assert.Empty(t, fake.Calls())

	require.NoError(t, unlock(context.Background()))

	other := domain.NewDeploymentConfig("api", "api:v2")
	fake.Seed("api", "api:v1", 1)
	assert.Equal(t, domain.StatusSuccess, m.Deploy(context.Background(), other).Status)
	assert.Equal(t, domain.StatusSuccess, m.Deploy(context.Background(), cfg).Status, "lock is released after the run")
}

func TestDeploy_ConcurrentDryRuns(t *testing.T) {
	registry := driver.NewRegistry(driver.DefaultRetryConfig(), nil)
	m := New(Options{Resolver: registry, Rollout: rollout.Options{Sleep: noSleep}})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg := domain.NewDeploymentConfig(fmt.Sprintf("web-%d", i), "app:v2")
			cfg.DryRun = true
			res := m.Deploy(context.Background(), cfg)
			assert.Equal(t, domain.StatusSuccess, res.Status, res.Message)
			assert.True(t, res.DryRun)
		}(i)
	}
	wg.Wait()

	history := m.History()
	assert.Len(t, history, 10)
	seen := make(map[string]bool)
	for _, e := range history {
		assert.NotEmpty(t, e.RunID)
		assert.False(t, seen[e.RunID], "run ids are unique")
		seen[e.RunID] = true
	}
}

func TestDeploy_RecordsMetrics(t *testing.T) {
	fake := drivertest.New().Seed("web", "app:v1", 3)
	rec := metrics.New(nil)
	m, _ := newManager(t, fake, func(o *Options) { o.Metrics = rec })

	m.Deploy(context.Background(), domain.NewDeploymentConfig("web", "app:v2"))

	n, err := testutil.GatherAndCount(rec.Registry(), "rollout_deployments_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = testutil.GatherAndCount(rec.Registry(), "rollout_steps_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "update_image and rollout_status")
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestValidate_DoesNotApplyDefaults(t *testing.T) {
	m, _ := newManager(t, drivertest.New(), nil)

	assert.NoError(t, m.Validate(domain.NewDeploymentConfig("web", "app:v2")))

	err := m.Validate(domain.DeploymentConfig{Name: "web", Image: "app:v2", Strategy: domain.StrategyRolling})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "port", cfgErr.Field)
}

// =============================================================================
// Status and Rollback Tests
// =============================================================================

func TestStatus(t *testing.T) {
	fake := drivertest.New().Seed("web", "app:v1", 3)
	m, _ := newManager(t, fake, nil)

	desc, err := m.Status(context.Background(), domain.WorkloadRef{Name: "web"})
	require.NoError(t, err)
	assert.Equal(t, "app:v1", desc.Image)
	assert.Equal(t, 3, desc.Replicas)
	assert.Equal(t, domain.DefaultNamespace, desc.Namespace)

	_, err = m.Status(context.Background(), domain.WorkloadRef{Name: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = m.Status(context.Background(), domain.WorkloadRef{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = m.Status(context.Background(), domain.WorkloadRef{Name: "web", Platform: "mainframe"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestRollback(t *testing.T) {
	fake := drivertest.New().Seed("web", "app:v1", 3)
	m, _ := newManager(t, fake, nil)
	ref := domain.WorkloadRef{Name: "web", Namespace: "default"}

	res := m.Rollback(context.Background(), ref)
	assert.Equal(t, domain.StatusError, res.Status)
	assert.Contains(t, res.Message, "no previous rollout")

	require.Equal(t, domain.StatusSuccess, m.Deploy(context.Background(), domain.NewDeploymentConfig("web", "app:v2")).Status)

	res = m.Rollback(context.Background(), ref)
	assert.Equal(t, domain.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, "rolled back default/web", res.Message)

	w, _ := fake.Workload("web")
	assert.Equal(t, "app:v1", w.Image)
	assert.Len(t, fake.CallsTo(driver.OpUndo), 2)
}

func TestRollback_RefusedWhileDeploying(t *testing.T) {
	fake := drivertest.New().Seed("web", "app:v1", 3)
	locker := lock.NewLocal()
	m, _ := newManager(t, fake, func(o *Options) { o.Locker = locker })

	ref := domain.WorkloadRef{Name: "web", Namespace: "default", Platform: domain.PlatformClusterOrchestrator}
	_, err := locker.Lock(context.Background(), ref.Key(), time.Minute)
	require.NoError(t, err)

	res := m.Rollback(context.Background(), ref)
	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, domain.ErrDeploymentInProgress.Error(), res.Message)
	assert.Empty(t, fake.CallsTo(driver.OpUndo))
}
