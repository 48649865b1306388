package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/driver"
)

// =============================================================================
// Step Names
// =============================================================================

const (
	StepCancelled = "cancelled"

	StepDescribe      = "describe"
	StepUpdateImage   = "update_image"
	StepRolloutStatus = "rollout_status"
	StepRollback      = "rollback"

	StepDeployGreen    = "deploy_green"
	StepWaitGreenReady = "wait_green_ready"
	StepHealthCheck    = "health_check"
	StepSwitchTraffic  = "switch_traffic"
	StepRestoreTraffic = "restore_traffic"
	StepCleanupGreen   = "cleanup_green"

	StepDeployCanary  = "deploy_canary"
	StepPromoteStable = "promote_stable"
	StepScaleStable   = "scale_stable"
	StepRemoveCanary  = "remove_canary"
	StepCleanupCanary = "cleanup_canary"
	StepRestoreStable = "restore_stable"
)

// CanaryStepName names the step that shifts traffic to percent.
func CanaryStepName(percent int) string {
	return fmt.Sprintf("canary_%d%%", percent)
}

// MessageCancelled is the result message of a cancelled run.
const MessageCancelled = "deployment cancelled"

// =============================================================================
// Run State
// =============================================================================

// run carries the state of one executor invocation.
type run struct {
	ctx      context.Context
	cfg      domain.DeploymentConfig
	d        driver.Driver
	strategy domain.Strategy
	opts     Options
	trace    *domain.Trace
	logger   *slog.Logger
}

func newRun(ctx context.Context, strategy domain.Strategy, cfg domain.DeploymentConfig, d driver.Driver, opts Options) *run {
	return &run{
		ctx:      ctx,
		cfg:      cfg,
		d:        d,
		strategy: strategy,
		opts:     opts,
		trace:    domain.NewTrace(opts.Now),
		logger: opts.Logger.With(
			"component", "rollout",
			"strategy", strategy,
			"name", cfg.Name,
			"namespace", cfg.Namespace,
		),
	}
}

// record appends a step, logs it and notifies the observer.
func (r *run) record(name string, success, cleanup bool, detail map[string]any) {
	step := r.trace.Append(domain.ExecutionStep{
		Name:    name,
		Success: success,
		Cleanup: cleanup,
		Detail:  detail,
	})

	switch {
	case success:
		r.logger.Info("step completed", "step", name, "cleanup", cleanup)
	case cleanup:
		r.logger.Warn("cleanup step failed", "step", name, "detail", detail)
	default:
		r.logger.Error("step failed", "step", name, "detail", detail)
	}

	if r.opts.Observer != nil {
		r.opts.Observer.ObserveStep(r.strategy, step)
	}
}

func (r *run) ok(name string, detail map[string]any) {
	r.record(name, true, false, detail)
}

func (r *run) failed(name string, err error, detail map[string]any) {
	r.record(name, false, false, withError(detail, err))
}

// proceed is the cooperative cancellation checkpoint taken before every
// driver call. A cancelled run records a failed step and must compensate.
func (r *run) proceed() bool {
	if err := r.ctx.Err(); err != nil {
		r.record(StepCancelled, false, false, map[string]any{"error": err.Error()})
		return false
	}
	return true
}

// compensate runs fn on a context that survives cancellation of the run but
// is bounded by the cleanup timeout, recording the outcome as a cleanup step.
// Cleanup failures are recorded but never change the result message.
func (r *run) compensate(name string, detail map[string]any, fn func(ctx context.Context) error) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.opts.CleanupTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		r.record(name, false, true, withError(detail, err))
		return false
	}
	r.record(name, true, true, detail)
	return true
}

// waitReady waits for name and folds a timeout into a HealthTimeoutError so
// callers handle one failure shape.
func (r *run) waitReady(name string, timeout time.Duration) error {
	ready, err := r.d.WaitReady(r.ctx, name, timeout)
	if err != nil {
		return err
	}
	if !ready {
		return &domain.HealthTimeoutError{Name: name, Timeout: timeout}
	}
	return nil
}

// healthy checks name and turns an unhealthy answer into an error.
func (r *run) healthy(hc HealthChecker, name string) error {
	ok, err := hc.IsHealthy(r.ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s is not healthy", name)
	}
	return nil
}

func (r *run) fail(message string) domain.DeploymentResult {
	return domain.ErrorResult(r.cfg, message, r.trace.Steps())
}

func (r *run) succeed(message string) domain.DeploymentResult {
	res := domain.SuccessResult(r.cfg, r.trace.Steps())
	res.Message = message
	return res
}

// cancelled reports whether the run's context ended, so the result message
// names cancellation rather than the failure it caused.
func (r *run) cancelled() bool {
	return r.ctx.Err() != nil
}

func withError(detail map[string]any, err error) map[string]any {
	out := make(map[string]any, len(detail)+2)
	for k, v := range detail {
		out[k] = v
	}
	if err != nil {
		out["error"] = err.Error()
		var timeout *domain.HealthTimeoutError
		if errors.As(err, &timeout) {
			out["timeout"] = timeout.Timeout.String()
		}
	}
	return out
}
