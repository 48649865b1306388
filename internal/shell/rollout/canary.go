package rollout

import (
	"context"
	"fmt"

	"github.com/artpar/rollout/internal/core/deployment"
	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/driver"
)

// =============================================================================
// Canary Executor
// =============================================================================

// Canary shifts traffic to a single-replica canary workload in the configured
// percentage steps, then promotes the new image onto the stable workload.
//
// States: Idle → CanaryDeployed → Step(p) for each p → Promoted, with a
// failure edge from any step to RolledBack → Failed. The step list is used in
// the caller's order; it is validated, never re-sorted.
type Canary struct {
	opts Options
}

// NewCanary creates the canary executor.
func NewCanary(opts Options) *Canary {
	return &Canary{opts: opts.withDefaults()}
}

func (e *Canary) Strategy() domain.Strategy { return domain.StrategyCanary }

func (e *Canary) Run(ctx context.Context, cfg domain.DeploymentConfig, d driver.Driver, hc HealthChecker) domain.DeploymentResult {
	// Misordered or incomplete steps are a caller error; reject before any
	// driver call.
	if err := domain.ValidateCanarySteps(cfg.CanarySteps); err != nil {
		return domain.ErrorResult(cfg, err.Error(), nil)
	}

	r := newRun(ctx, domain.StrategyCanary, cfg, d, e.opts)
	stable := cfg.Name
	canary := deployment.CanaryName(cfg.Name)
	total := cfg.Replicas

	// Idle → CanaryDeployed
	if !r.proceed() {
		return r.fail(MessageCancelled)
	}
	detail := map[string]any{"workload": canary, "image": cfg.Image, "replicas": 1}
	if err := d.ApplyWorkload(ctx, cfg.WorkloadSpec(canary, cfg.Image, 1)); err != nil {
		r.failed(StepDeployCanary, err, detail)
		return e.rollback(r, canary, stable, total, fmt.Sprintf("canary deployment failed: %v", err))
	}
	r.ok(StepDeployCanary, detail)

	// CanaryDeployed → Step(p)...
	for _, p := range cfg.CanarySteps {
		if err := e.step(r, hc, canary, stable, total, p); err != nil {
			message := fmt.Sprintf("canary failed at %d%%", p)
			if r.cancelled() {
				message = MessageCancelled
			}
			return e.rollback(r, canary, stable, total, message)
		}

		if p < 100 {
			r.logger.Info("observing canary", "percent", p, "interval", cfg.CanaryInterval)
			if err := e.opts.Sleep(ctx, cfg.CanaryInterval); err != nil {
				r.proceed()
				return e.rollback(r, canary, stable, total, MessageCancelled)
			}
		}
	}

	// Step(100) → Promoted
	if !r.proceed() {
		return e.rollback(r, canary, stable, total, MessageCancelled)
	}
	if err := d.SetImage(ctx, stable, cfg.Image); err != nil {
		r.failed(StepPromoteStable, err, map[string]any{"workload": stable, "image": cfg.Image})
		return e.rollback(r, canary, stable, total, fmt.Sprintf("promotion failed: %v", err))
	}
	r.ok(StepPromoteStable, map[string]any{"workload": stable, "image": cfg.Image})

	if !r.proceed() {
		return e.restorePromoted(r, canary, stable, total, MessageCancelled)
	}
	if err := d.Scale(ctx, stable, total); err != nil {
		r.failed(StepScaleStable, err, map[string]any{"workload": stable, "replicas": total})
		return e.restorePromoted(r, canary, stable, total, fmt.Sprintf("scaling promoted workload failed: %v", err))
	}
	r.ok(StepScaleStable, map[string]any{"workload": stable, "replicas": total})

	// The stable workload now serves the new image at full scale; a failed
	// canary removal leaves a surplus replica, not a broken rollout.
	message := fmt.Sprintf("%s promoted to %s", stable, cfg.Image)
	removed := r.compensate(StepRemoveCanary, map[string]any{"workload": canary}, func(ctx context.Context) error {
		return d.DeleteWorkload(ctx, canary)
	})
	if !removed {
		message += fmt.Sprintf(", %s could not be removed", canary)
	}
	return r.succeed(message)
}

// step performs one traffic percentage: scale canary, scale stable, verify
// the canary. The replica split is computed once per step.
func (e *Canary) step(r *run, hc HealthChecker, canary, stable string, total, p int) error {
	canaryReplicas, stableReplicas := deployment.CanarySplit(total, p)
	name := CanaryStepName(p)
	detail := map[string]any{
		"percent":         p,
		"canary_replicas": canaryReplicas,
		"stable_replicas": stableReplicas,
	}

	if !r.proceed() {
		return r.ctx.Err()
	}
	if err := r.d.Scale(r.ctx, canary, canaryReplicas); err != nil {
		r.failed(name, err, detail)
		return err
	}

	if !r.proceed() {
		return r.ctx.Err()
	}
	if err := r.d.Scale(r.ctx, stable, stableReplicas); err != nil {
		r.failed(name, err, detail)
		return err
	}

	if !r.proceed() {
		return r.ctx.Err()
	}
	if err := r.healthy(hc, canary); err != nil {
		r.failed(name, err, detail)
		return err
	}

	r.ok(name, detail)
	return nil
}

// rollback deletes the canary and restores the stable replica count.
func (e *Canary) rollback(r *run, canary, stable string, total int, message string) domain.DeploymentResult {
	r.compensate(StepCleanupCanary, map[string]any{"workload": canary}, func(ctx context.Context) error {
		return r.d.DeleteWorkload(ctx, canary)
	})
	return e.restore(r, stable, total, message)
}

// restore scales stable back to the full replica count.
func (e *Canary) restore(r *run, stable string, total int, message string) domain.DeploymentResult {
	r.compensate(StepRestoreStable, map[string]any{"workload": stable, "replicas": total}, func(ctx context.Context) error {
		return r.d.Scale(ctx, stable, total)
	})
	return r.fail(message)
}

// restorePromoted handles a failure after promotion. Stable may still be at
// zero replicas, so the canary is removed only once stable is back at full
// scale; otherwise it stays up as the only serving workload.
func (e *Canary) restorePromoted(r *run, canary, stable string, total int, message string) domain.DeploymentResult {
	restored := r.compensate(StepRestoreStable, map[string]any{"workload": stable, "replicas": total}, func(ctx context.Context) error {
		return r.d.Scale(ctx, stable, total)
	})
	if !restored {
		return r.fail(fmt.Sprintf("%s; %s kept serving", message, canary))
	}
	r.compensate(StepCleanupCanary, map[string]any{"workload": canary}, func(ctx context.Context) error {
		return r.d.DeleteWorkload(ctx, canary)
	})
	return r.fail(message)
}
