package rollout

import (
	"context"
	"fmt"

	"github.com/artpar/rollout/internal/core/deployment"
	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/driver"
)

// =============================================================================
// Blue-Green Executor
// =============================================================================

// BlueGreen deploys the new version beside the stable one and switches the
// service selector once the new version is verified.
//
// States: Idle → GreenDeployed → GreenReady → HealthVerified →
// TrafficSwitched → Complete. Any failure deletes green; blue is never
// touched, so switching the selector back stays possible after success.
type BlueGreen struct {
	opts Options
}

// NewBlueGreen creates the blue-green executor.
func NewBlueGreen(opts Options) *BlueGreen {
	return &BlueGreen{opts: opts.withDefaults()}
}

func (e *BlueGreen) Strategy() domain.Strategy { return domain.StrategyBlueGreen }

func (e *BlueGreen) Run(ctx context.Context, cfg domain.DeploymentConfig, d driver.Driver, hc HealthChecker) domain.DeploymentResult {
	r := newRun(ctx, domain.StrategyBlueGreen, cfg, d, e.opts)
	blue := deployment.BlueName(cfg.Name)
	green := deployment.GreenName(cfg.Name)

	// Idle → GreenDeployed
	if !r.proceed() {
		return r.fail(MessageCancelled)
	}
	spec := cfg.WorkloadSpec(green, cfg.Image, cfg.Replicas)
	detail := map[string]any{"workload": green, "image": cfg.Image, "replicas": cfg.Replicas}
	if err := d.ApplyWorkload(ctx, spec); err != nil {
		r.failed(StepDeployGreen, err, detail)
		return e.cleanup(r, green, fmt.Sprintf("green deployment failed: %v", err))
	}
	r.ok(StepDeployGreen, detail)

	// GreenDeployed → GreenReady
	if !r.proceed() {
		return e.cleanup(r, green, MessageCancelled)
	}
	timeout := e.opts.BlueGreenTimeout
	if err := r.waitReady(green, timeout); err != nil {
		r.failed(StepWaitGreenReady, err, map[string]any{"workload": green, "timeout": timeout.String()})
		return e.cleanup(r, green, fmt.Sprintf("green not ready: %v", err))
	}
	r.ok(StepWaitGreenReady, map[string]any{"workload": green, "timeout": timeout.String()})

	// GreenReady → HealthVerified
	if !r.proceed() {
		return e.cleanup(r, green, MessageCancelled)
	}
	if err := r.healthy(hc, green); err != nil {
		r.failed(StepHealthCheck, err, map[string]any{"workload": green})
		return e.cleanup(r, green, fmt.Sprintf("green health check failed: %v", err))
	}
	r.ok(StepHealthCheck, map[string]any{"workload": green})

	// HealthVerified → TrafficSwitched
	if !r.proceed() {
		return e.cleanup(r, green, MessageCancelled)
	}
	switchDetail := map[string]any{"service": cfg.Name, "version": deployment.VersionGreen}
	if err := d.PatchTrafficSelector(ctx, cfg.Name, deployment.VersionGreen); err != nil {
		r.failed(StepSwitchTraffic, err, switchDetail)
		// A failed patch may still have landed; point back at blue before
		// green disappears.
		r.compensate(StepRestoreTraffic, map[string]any{"service": cfg.Name, "version": deployment.VersionBlue},
			func(ctx context.Context) error {
				return d.PatchTrafficSelector(ctx, cfg.Name, deployment.VersionBlue)
			})
		return e.cleanup(r, green, fmt.Sprintf("traffic switch failed: %v", err))
	}
	r.ok(StepSwitchTraffic, switchDetail)

	res := r.succeed(fmt.Sprintf("traffic switched to %s, %s kept as standby", green, blue))
	res.Active = green
	res.Standby = blue
	return res
}

// cleanup deletes green and terminates Failed with active and standby unset.
func (e *BlueGreen) cleanup(r *run, green, message string) domain.DeploymentResult {
	r.compensate(StepCleanupGreen, map[string]any{"workload": green}, func(ctx context.Context) error {
		return r.d.DeleteWorkload(ctx, green)
	})
	if r.cancelled() {
		message = MessageCancelled
	}
	return r.fail(message)
}
