package rollout

import (
	"context"
	"fmt"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/driver"
)

// =============================================================================
// Rolling Executor
// =============================================================================

// MessageRolledBack is the result message of a failed rolling update whose
// compensation succeeded.
const MessageRolledBack = "rollout failed, rolled back"

// Rolling replaces the image of the workload in place and waits for the
// platform's rollout to complete.
//
// States: Idle → ImageUpdated → RolloutWaiting → {Ready | Failed}.
// On failure the previous image is set back exactly once.
type Rolling struct {
	opts Options
}

// NewRolling creates the rolling executor.
func NewRolling(opts Options) *Rolling {
	return &Rolling{opts: opts.withDefaults()}
}

func (e *Rolling) Strategy() domain.Strategy { return domain.StrategyRolling }

func (e *Rolling) Run(ctx context.Context, cfg domain.DeploymentConfig, d driver.Driver, hc HealthChecker) domain.DeploymentResult {
	r := newRun(ctx, domain.StrategyRolling, cfg, d, e.opts)
	name := cfg.Name

	// Idle: capture what to roll back to.
	if !r.proceed() {
		return r.fail(MessageCancelled)
	}
	current, err := d.Describe(ctx, name)
	if err != nil {
		r.failed(StepDescribe, err, nil)
		return r.fail(fmt.Sprintf("describe %s: %v", name, err))
	}
	previous := current.Image

	// Idle → ImageUpdated
	if !r.proceed() {
		return r.fail(MessageCancelled)
	}
	detail := map[string]any{"image": cfg.Image, "previous_image": previous}
	if err := d.SetImage(ctx, name, cfg.Image); err != nil {
		r.failed(StepUpdateImage, err, detail)
		return e.rollback(r, previous)
	}
	r.ok(StepUpdateImage, detail)

	// ImageUpdated → RolloutWaiting → Ready
	if !r.proceed() {
		return e.rollback(r, previous)
	}
	timeout := e.opts.RollingTimeout
	if err := r.waitReady(name, timeout); err != nil {
		r.failed(StepRolloutStatus, err, map[string]any{"timeout": timeout.String()})
		return e.rollback(r, previous)
	}
	r.ok(StepRolloutStatus, map[string]any{"timeout": timeout.String()})

	return r.succeed(fmt.Sprintf("%s updated to %s", name, cfg.Image))
}

// rollback issues the single compensating SetImage back to previous.
func (e *Rolling) rollback(r *run, previous string) domain.DeploymentResult {
	name := r.cfg.Name
	detail := map[string]any{"image": previous}

	if previous == "" {
		r.record(StepRollback, false, true, map[string]any{"error": "previous image unknown"})
		return r.fail("rollout failed, previous image unknown")
	}

	rolledBack := r.compensate(StepRollback, detail, func(ctx context.Context) error {
		return r.d.SetImage(ctx, name, previous)
	})

	switch {
	case r.cancelled():
		return r.fail(MessageCancelled)
	case rolledBack:
		return r.fail(MessageRolledBack)
	default:
		return r.fail(fmt.Sprintf("rollout failed, rollback to %s failed", previous))
	}
}
