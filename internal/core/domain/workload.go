package domain

// =============================================================================
// Instance Status
// =============================================================================

// Instance phases reported by drivers. Drivers map their native states onto
// this vocabulary.
const (
	PhasePending   = "Pending"
	PhaseRunning   = "Running"
	PhaseSucceeded = "Succeeded"
	PhaseFailed    = "Failed"
	PhaseUnknown   = "Unknown"
)

// InstanceStatus is the readiness of one pod, task or container.
type InstanceStatus struct {
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Phase string `json:"phase" yaml:"phase"`
	Ready bool   `json:"ready" yaml:"ready"`
}

// =============================================================================
// Workload Description
// =============================================================================

// Condition is a platform-reported status condition of a workload.
type Condition struct {
	Type    string `json:"type" yaml:"type"`
	Status  string `json:"status" yaml:"status"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// WorkloadDescription answers status queries.
type WorkloadDescription struct {
	Name              string      `json:"name" yaml:"name"`
	Namespace         string      `json:"namespace" yaml:"namespace"`
	Replicas          int         `json:"replicas" yaml:"replicas"`
	ReadyReplicas     int         `json:"ready_replicas" yaml:"ready_replicas"`
	AvailableReplicas int         `json:"available_replicas" yaml:"available_replicas"`
	Image             string      `json:"image" yaml:"image"`
	Conditions        []Condition `json:"conditions" yaml:"conditions"`
}

// =============================================================================
// Workload Spec
// =============================================================================

// WorkloadSpec is the desired state handed to a driver's ApplyWorkload.
type WorkloadSpec struct {
	Name       string
	Image      string
	Replicas   int
	Port       int
	HealthPath string
}

// WorkloadSpec derives the spec of workload name running image at replicas,
// taking port and health path from the config.
func (c DeploymentConfig) WorkloadSpec(name, image string, replicas int) WorkloadSpec {
	return WorkloadSpec{
		Name:       name,
		Image:      image,
		Replicas:   replicas,
		Port:       c.Port,
		HealthPath: c.HealthPath,
	}
}
