package deployment

import (
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// Container Plan Building Functions
// =============================================================================

// BuildContainerPlan builds the ContainerPlan of one replica of a workload.
//
// The function:
//   - Generates the container name using ContainerName()
//   - Labels the container with its namespace, workload, service and version
//   - Attaches the namespace network with the workload alias and, when
//     ServiceAlias is set, the service alias
//   - Derives an HTTP health check from the port and health path
//
// Example:
//
//	plan := BuildContainerPlan(BuildContainerPlanParams{
//	    Namespace: "prod",
//	    Spec:      domain.WorkloadSpec{Name: "web-green", Image: "app:v2", Port: 8080, HealthPath: "/health"},
//	    Index:     0,
//	})
//	// plan.Name == "web-green-0", plan.Aliases == ["web-green"]
func BuildContainerPlan(params BuildContainerPlanParams) ContainerPlan {
	spec := params.Spec
	service, version := SplitWorkloadName(spec.Name)

	plan := ContainerPlan{
		Name:  ContainerName(spec.Name, params.Index),
		Image: spec.Image,
		Env: map[string]string{
			"PORT": strconv.Itoa(spec.Port),
		},
		Labels: map[string]string{
			LabelManaged:    "true",
			LabelNamespace:  params.Namespace,
			LabelWorkload:   spec.Name,
			LabelService:    service,
			LabelVersion:    version,
			LabelIndex:      strconv.Itoa(params.Index),
			LabelPort:       strconv.Itoa(spec.Port),
			LabelHealthPath: spec.HealthPath,
		},
		Port:          spec.Port,
		Network:       NetworkName(params.Namespace),
		Aliases:       []string{spec.Name},
		RestartPolicy: RestartPolicyPlan{Name: "unless-stopped"},
		Resources: ResourcePlan{
			CPULimit:    cpuLimitCores,
			MemoryLimit: memoryLimitBytes,
		},
		HealthCheck: HTTPHealthCheck(spec.Port, spec.HealthPath),
	}

	if params.PreviousImage != "" && params.PreviousImage != spec.Image {
		plan.Labels[LabelPreviousImage] = params.PreviousImage
	}
	if params.ServiceAlias && service != spec.Name {
		plan.Aliases = append(plan.Aliases, service)
	}

	return plan
}

// HTTPHealthCheck returns the in-container probe for an HTTP endpoint,
// mirroring the readiness probe cadence used on Kubernetes.
func HTTPHealthCheck(port int, path string) *HealthCheckPlan {
	return &HealthCheckPlan{
		Test:        []string{"CMD-SHELL", fmt.Sprintf("curl -f http://localhost:%d%s || exit 1", port, path)},
		Interval:    5 * time.Second,
		Timeout:     3 * time.Second,
		Retries:     3,
		StartPeriod: 10 * time.Second,
	}
}

// ReceivesServiceTraffic decides whether a new replica of version should
// carry the service alias, given the version currently holding it ("" when
// no replica holds it). Stable and canary replicas always share traffic;
// blue and green replicas only when their version is selected.
func ReceivesServiceTraffic(version, selected string) bool {
	switch {
	case selected == "":
		return true
	case version == VersionStable, version == VersionCanary:
		return true
	default:
		return version == selected
	}
}
