// Package manager is the facade over the deployment engine. It validates
// requests, resolves the platform driver, serialises runs per workload,
// dispatches to the strategy executor and keeps the run history.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/driver"
	"github.com/artpar/rollout/internal/shell/health"
	"github.com/artpar/rollout/internal/shell/lock"
	"github.com/artpar/rollout/internal/shell/metrics"
	"github.com/artpar/rollout/internal/shell/rollout"
)

// =============================================================================
// Options
// =============================================================================

// Options configures a Manager. Only Resolver is required.
type Options struct {
	Resolver driver.Resolver

	// Executors maps strategies to executors.
	// Default: rollout.All(Rollout) with the metrics recorder as observer.
	Executors map[domain.Strategy]rollout.Executor
	Rollout   rollout.Options

	Health health.CheckerConfig

	// History receives one entry per executed run. Default: MemoryHistory.
	History History

	// Locker serialises runs of the same workload. Default: lock.NewLocal().
	Locker lock.Locker

	// LockTTL bounds how long a crashed holder keeps a workload locked.
	// Default: 30 minutes.
	LockTTL time.Duration

	// LockWait is how long a run waits for a busy workload before failing
	// with ErrDeploymentInProgress. Default: 0, a single attempt.
	LockWait time.Duration

	// Metrics is optional.
	Metrics *metrics.Recorder

	Now      func() time.Time
	NewRunID func() string
	Logger   *slog.Logger
}

// DefaultLockTTL outlasts the longest built-in readiness bound plus cleanup.
const DefaultLockTTL = 30 * time.Minute

// unlockTimeout bounds the lock release after a run.
const unlockTimeout = 5 * time.Second

// =============================================================================
// Manager
// =============================================================================

// Manager runs deployments and answers status and rollback queries.
// It is safe for concurrent use; runs of different workloads proceed in
// parallel.
type Manager struct {
	resolver  driver.Resolver
	executors map[domain.Strategy]rollout.Executor
	health    health.CheckerConfig
	history   History
	locker    lock.Locker
	lockTTL   time.Duration
	lockWait  time.Duration
	metrics   *metrics.Recorder
	now       func() time.Time
	newRunID  func() string
	logger    *slog.Logger
}

// New creates a Manager.
func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Executors == nil {
		ro := opts.Rollout
		if ro.Logger == nil {
			ro.Logger = opts.Logger
		}
		if ro.Observer == nil && opts.Metrics != nil {
			ro.Observer = opts.Metrics
		}
		opts.Executors = rollout.All(ro)
	}
	if opts.History == nil {
		opts.History = NewMemoryHistory()
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}

	return &Manager{
		resolver:  opts.Resolver,
		executors: opts.Executors,
		health:    opts.Health,
		history:   opts.History,
		locker:    opts.Locker,
		lockTTL:   opts.LockTTL,
		lockWait:  opts.LockWait,
		metrics:   opts.Metrics,
		now:       opts.Now,
		newRunID:  opts.NewRunID,
		logger:    opts.Logger.With("component", "manager"),
	}
}

// Validate checks cfg as given, without applying defaults.
func (m *Manager) Validate(cfg domain.DeploymentConfig) error {
	return domain.ValidateConfig(cfg)
}

// Deploy runs one deployment and always returns a result. Empty optional
// fields take their defaults first. A config error returns an Error result
// before any driver is touched and is not added to history; every other
// outcome is.
func (m *Manager) Deploy(ctx context.Context, cfg domain.DeploymentConfig) domain.DeploymentResult {
	started := m.now()
	cfg = cfg.WithDefaults()

	if err := m.Validate(cfg); err != nil {
		m.logger.Warn("deployment rejected", "name", cfg.Name, "error", err)
		res := domain.ErrorResult(cfg, err.Error(), nil)
		res.DryRun = cfg.DryRun
		res.StartedAt, res.FinishedAt = started.UTC(), m.now().UTC()
		return res
	}

	runID := m.newRunID()
	logger := m.logger.With(
		"run_id", runID,
		"name", cfg.Name,
		"namespace", cfg.Namespace,
		"platform", cfg.Platform,
		"strategy", cfg.Strategy,
		"dry_run", cfg.DryRun,
	)
	logger.Info("deployment started", "image", cfg.Image, "replicas", cfg.Replicas)

	if m.metrics != nil {
		done := m.metrics.Started(cfg.Strategy)
		defer done()
	}

	res := m.run(ctx, cfg, logger)

	res.RunID = runID
	res.DryRun = cfg.DryRun
	res.StartedAt, res.FinishedAt = started.UTC(), m.now().UTC()

	m.history.Append(domain.NewHistoryEntry(res, res.FinishedAt))
	if m.metrics != nil {
		m.metrics.ObserveResult(res)
	}

	if res.Succeeded() {
		logger.Info("deployment succeeded", "message", res.Message, "steps", len(res.Steps))
	} else {
		logger.Error("deployment failed", "message", res.Message, "steps", len(res.Steps))
	}
	return res
}

// run resolves, locks and dispatches. Failures before the executor starts
// are reported as Error results with an empty trace.
func (m *Manager) run(ctx context.Context, cfg domain.DeploymentConfig, logger *slog.Logger) domain.DeploymentResult {
	exec, ok := m.executors[cfg.Strategy]
	if !ok {
		err := fmt.Errorf("%w: no executor for strategy %s", domain.ErrInternal, cfg.Strategy)
		return domain.ErrorResult(cfg, err.Error(), nil)
	}

	d, err := m.resolver.Resolve(ctx, cfg.Platform, cfg.Namespace, cfg.DryRun)
	if err != nil {
		return domain.ErrorResult(cfg, fmt.Sprintf("resolve driver: %v", err), nil)
	}

	unlock, err := m.acquire(ctx, cfg.Ref())
	if err != nil {
		return domain.ErrorResult(cfg, err.Error(), nil)
	}
	defer m.release(ctx, unlock, cfg.Ref(), logger)

	hc := health.NewChecker(d, m.health, logger)
	return m.execute(ctx, exec, cfg, d, hc, logger)
}

// execute converts an executor panic into an Error result so no raw failure
// escapes the manager.
func (m *Manager) execute(ctx context.Context, exec rollout.Executor, cfg domain.DeploymentConfig,
	d driver.Driver, hc rollout.HealthChecker, logger *slog.Logger) (res domain.DeploymentResult) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("executor panicked", "panic", p, "stack", string(debug.Stack()))
			err := fmt.Errorf("%w: executor panicked: %v", domain.ErrInternal, p)
			res = domain.ErrorResult(cfg, err.Error(), nil)
		}
	}()
	return exec.Run(ctx, cfg, d, hc)
}

// =============================================================================
// Queries
// =============================================================================

// Status describes the workload ref points at.
func (m *Manager) Status(ctx context.Context, ref domain.WorkloadRef) (*domain.WorkloadDescription, error) {
	ref, err := normalizeRef(ref)
	if err != nil {
		return nil, err
	}

	d, err := m.resolver.Resolve(ctx, ref.Platform, ref.Namespace, ref.DryRun)
	if err != nil {
		return nil, fmt.Errorf("resolve driver: %w", err)
	}

	desc, err := d.Describe(ctx, ref.Name)
	if err != nil {
		return nil, err
	}
	if desc.Namespace == "" {
		desc.Namespace = ref.Namespace
	}
	return desc, nil
}

// Rollback undoes the last rollout of the workload ref points at. It takes
// the same lock as Deploy, so it never races a running deployment.
func (m *Manager) Rollback(ctx context.Context, ref domain.WorkloadRef) domain.RollbackResult {
	ref, err := normalizeRef(ref)
	if err != nil {
		return domain.RollbackResult{Status: domain.StatusError, Name: ref.Name, Namespace: ref.Namespace, Message: err.Error()}
	}

	logger := m.logger.With("name", ref.Name, "namespace", ref.Namespace, "platform", ref.Platform)
	res := m.rollback(ctx, ref, logger)

	if m.metrics != nil {
		m.metrics.ObserveRollback(ref.Platform, res)
	}
	if res.Status == domain.StatusSuccess {
		logger.Info("rollback succeeded")
	} else {
		logger.Error("rollback failed", "message", res.Message)
	}
	return res
}

func (m *Manager) rollback(ctx context.Context, ref domain.WorkloadRef, logger *slog.Logger) domain.RollbackResult {
	res := domain.RollbackResult{Status: domain.StatusError, Name: ref.Name, Namespace: ref.Namespace}

	d, err := m.resolver.Resolve(ctx, ref.Platform, ref.Namespace, ref.DryRun)
	if err != nil {
		res.Message = fmt.Sprintf("resolve driver: %v", err)
		return res
	}

	unlock, err := m.acquire(ctx, ref)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	defer m.release(ctx, unlock, ref, logger)

	if err := d.Undo(ctx, ref.Name); err != nil {
		res.Message = fmt.Sprintf("rollback failed: %v", err)
		return res
	}

	res.Status = domain.StatusSuccess
	res.Message = fmt.Sprintf("rolled back %s", ref)
	return res
}

// History returns a copy of the run history in append order.
func (m *Manager) History() []domain.HistoryEntry {
	return m.history.Entries()
}

// =============================================================================
// Helpers
// =============================================================================

func (m *Manager) acquire(ctx context.Context, ref domain.WorkloadRef) (lock.UnlockFunc, error) {
	lockCtx, cancel := context.WithTimeout(ctx, m.lockWait)
	defer cancel()

	unlock, err := m.locker.Lock(lockCtx, ref.Key(), m.lockTTL)
	if errors.Is(err, lock.ErrHeld) {
		return nil, domain.ErrDeploymentInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return unlock, nil
}

func (m *Manager) release(ctx context.Context, unlock lock.UnlockFunc, ref domain.WorkloadRef, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
	defer cancel()
	if err := unlock(ctx); err != nil {
		logger.Warn("failed to release lock", "key", ref.Key(), "error", err)
	}
}

func normalizeRef(ref domain.WorkloadRef) (domain.WorkloadRef, error) {
	if ref.Namespace == "" {
		ref.Namespace = domain.DefaultNamespace
	}
	if ref.Platform == "" {
		ref.Platform = domain.DefaultPlatform
	}
	if ref.Name == "" {
		return ref, domain.NewConfigError("name", "deployment name is required")
	}
	if !ref.Platform.IsValid() {
		return ref, domain.NewConfigError("platform", fmt.Sprintf("invalid platform %q", ref.Platform))
	}
	return ref, nil
}
