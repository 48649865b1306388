package driver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Dry-Run Driver
// =============================================================================

// DryRun simulates a platform in memory. Mutating calls are logged and
// succeed, readiness waits and instance queries report success, and no
// platform is ever contacted. Applied workloads are remembered so a simulated
// run describes coherently afterwards.
type DryRun struct {
	platform  domain.Platform
	namespace string
	logger    *slog.Logger

	mu        sync.Mutex
	workloads map[string]*dryWorkload
}

type dryWorkload struct {
	image    string
	previous string
	replicas int
}

// NewDryRun creates a dry-run driver for platform and namespace.
func NewDryRun(platform domain.Platform, namespace string, logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{
		platform:  platform,
		namespace: namespace,
		logger:    logger.With("component", "dry_run_driver", "platform", platform, "namespace", namespace),
		workloads: make(map[string]*dryWorkload),
	}
}

// Platform returns the simulated platform.
func (d *DryRun) Platform() domain.Platform { return d.platform }

func (d *DryRun) ApplyWorkload(ctx context.Context, spec domain.WorkloadSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.workloads[spec.Name]
	if !ok {
		w = &dryWorkload{}
		d.workloads[spec.Name] = w
	}
	if w.image != spec.Image {
		w.previous = w.image
	}
	w.image = spec.Image
	w.replicas = spec.Replicas

	d.logger.Info("[dry-run] apply workload", "name", spec.Name, "image", spec.Image, "replicas", spec.Replicas, "port", spec.Port)
	return nil
}

func (d *DryRun) Scale(ctx context.Context, name string, replicas int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.workload(name).replicas = replicas
	d.logger.Info("[dry-run] scale", "name", name, "replicas", replicas)
	return nil
}

func (d *DryRun) SetImage(ctx context.Context, name, image string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := d.workload(name)
	if w.image != image {
		w.previous = w.image
	}
	w.image = image
	d.logger.Info("[dry-run] set image", "name", name, "image", image)
	return nil
}

// WaitReady always reports the rollout complete.
func (d *DryRun) WaitReady(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	d.logger.Info("[dry-run] wait ready", "name", name, "timeout", timeout)
	return true, nil
}

// InstanceStatuses reports a single Running, ready instance so health checks
// pass.
func (d *DryRun) InstanceStatuses(ctx context.Context, name string) ([]domain.InstanceStatus, error) {
	return []domain.InstanceStatus{{ID: name + "-dry-run", Phase: domain.PhaseRunning, Ready: true}}, nil
}

func (d *DryRun) PatchTrafficSelector(ctx context.Context, service, label string) error {
	d.logger.Info("[dry-run] patch traffic selector", "service", service, "version", label)
	return nil
}

func (d *DryRun) DeleteWorkload(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.workloads, name)
	d.logger.Info("[dry-run] delete workload", "name", name)
	return nil
}

// Describe reports the simulated state. Unknown workloads describe as empty
// rather than failing, since nothing real is being queried.
func (d *DryRun) Describe(ctx context.Context, name string) (*domain.WorkloadDescription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	desc := &domain.WorkloadDescription{
		Name:       name,
		Namespace:  d.namespace,
		Conditions: []domain.Condition{{Type: "DryRun", Status: "True", Reason: "Simulated"}},
	}
	if w, ok := d.workloads[name]; ok {
		desc.Replicas = w.replicas
		desc.ReadyReplicas = w.replicas
		desc.AvailableReplicas = w.replicas
		desc.Image = w.image
	}
	return desc, nil
}

func (d *DryRun) Undo(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if w, ok := d.workloads[name]; ok && w.previous != "" {
		w.image, w.previous = w.previous, w.image
	}
	d.logger.Info("[dry-run] undo rollout", "name", name)
	return nil
}

// workload returns the simulated workload, creating it on first touch.
// Must be called with d.mu held.
func (d *DryRun) workload(name string) *dryWorkload {
	w, ok := d.workloads[name]
	if !ok {
		w = &dryWorkload{}
		d.workloads[name] = w
	}
	return w
}
