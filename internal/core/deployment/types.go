package deployment

import (
	"time"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents one planned replica on the container engine.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Name          string
	Image         string
	Env           map[string]string
	Labels        map[string]string
	Port          int
	Network       string
	Aliases       []string
	RestartPolicy RestartPolicyPlan
	Resources     ResourcePlan
	HealthCheck   *HealthCheckPlan
}

// RestartPolicyPlan represents a restart policy.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// ResourcePlan represents resource limits.
type ResourcePlan struct {
	CPULimit    float64
	MemoryLimit int64
}

// HealthCheckPlan represents a health check configuration.
type HealthCheckPlan struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Builder Parameter Types
// =============================================================================

// BuildContainerPlanParams contains all inputs for building a container plan.
type BuildContainerPlanParams struct {
	Namespace     string
	Spec          domain.WorkloadSpec
	Index         int
	PreviousImage string
	// ServiceAlias attaches the service DNS name, making the replica receive
	// service traffic.
	ServiceAlias bool
}

// =============================================================================
// Workload Labels
// =============================================================================

// Label keys used for container identification on the container engine.
const (
	LabelManaged       = "io.rollout.managed"
	LabelNamespace     = "io.rollout.namespace"
	LabelWorkload      = "io.rollout.workload"
	LabelService       = "io.rollout.service"
	LabelVersion       = "io.rollout.version"
	LabelIndex         = "io.rollout.index"
	LabelPort          = "io.rollout.port"
	LabelHealthPath    = "io.rollout.health-path"
	LabelPreviousImage = "io.rollout.previous-image"
)

// Kubernetes label keys set on pods and used by service selectors.
const (
	KubeLabelApp       = "app"
	KubeLabelName      = "app.kubernetes.io/name"
	KubeLabelManagedBy = "app.kubernetes.io/managed-by"
	KubeLabelVersion   = "version"
	ManagedBy          = "rollout"
)

// Resource defaults shared by every platform.
const (
	CPURequest    = "100m"
	MemoryRequest = "128Mi"
	CPULimit      = "500m"
	MemoryLimit   = "512Mi"

	cpuLimitCores    = 0.5
	memoryLimitBytes = 512 * 1024 * 1024
)
