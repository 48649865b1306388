// Package driver defines the ClusterDriver capability interface and the
// decorators every platform driver is wrapped in: dry-run simulation,
// transient-error retry and a per-namespace registry.
package driver

import (
	"context"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Driver Interface
// =============================================================================

// Driver abstracts one orchestration platform, bound to one namespace.
//
// Every operation touches only the named workload, and every mutating
// operation is idempotent so the retry decorator can repeat it. Failures are
// *domain.DriverError values.
type Driver interface {
	// Platform reports which platform the driver talks to.
	Platform() domain.Platform

	// ApplyWorkload creates or updates the named workload.
	ApplyWorkload(ctx context.Context, spec domain.WorkloadSpec) error

	// Scale sets the replica count.
	Scale(ctx context.Context, name string, replicas int) error

	// SetImage updates the running image without changing the replica count.
	SetImage(ctx context.Context, name, image string) error

	// WaitReady polls until the rollout of name completes or timeout
	// elapses. A timeout returns false with a nil error; an error is only
	// returned when the platform itself fails.
	WaitReady(ctx context.Context, name string, timeout time.Duration) (bool, error)

	// InstanceStatuses lists the readiness of every instance of name.
	// An unknown workload has no instances.
	InstanceStatuses(ctx context.Context, name string) ([]domain.InstanceStatus, error)

	// PatchTrafficSelector points the stable entry point service at the
	// workloads carrying version label.
	PatchTrafficSelector(ctx context.Context, service, label string) error

	// DeleteWorkload removes name. A missing workload is not an error.
	DeleteWorkload(ctx context.Context, name string) error

	// Describe reports the current state of name.
	Describe(ctx context.Context, name string) (*domain.WorkloadDescription, error)

	// Undo reverts name to its previous rollout.
	Undo(ctx context.Context, name string) error
}

// Driver operation names, used in errors, logs and call records.
const (
	OpApplyWorkload        = "ApplyWorkload"
	OpScale                = "Scale"
	OpSetImage             = "SetImage"
	OpWaitReady            = "WaitReady"
	OpInstanceStatuses     = "InstanceStatuses"
	OpPatchTrafficSelector = "PatchTrafficSelector"
	OpDeleteWorkload       = "DeleteWorkload"
	OpDescribe             = "Describe"
	OpUndo                 = "Undo"
)

// Resolver hands out the driver for a platform and namespace.
type Resolver interface {
	Resolve(ctx context.Context, platform domain.Platform, namespace string, dryRun bool) (Driver, error)
}
