package deployment

import (
	"fmt"
	"strings"
)

// =============================================================================
// Version Labels
// =============================================================================

// Version labels carried by every workload. Blue-green traffic switches by
// selecting one of VersionBlue or VersionGreen; canary traffic is weighted by
// replica count across VersionStable and VersionCanary.
const (
	VersionBlue   = "blue"
	VersionGreen  = "green"
	VersionCanary = "canary"
	VersionStable = "stable"
)

// =============================================================================
// Workload Naming Functions
// =============================================================================

// BlueName returns the stable workload of a blue-green pair.
//
// Example:
//
//	BlueName("web") // returns "web-blue"
func BlueName(name string) string {
	return name + "-" + VersionBlue
}

// GreenName returns the new workload of a blue-green pair.
//
// Example:
//
//	GreenName("web") // returns "web-green"
func GreenName(name string) string {
	return name + "-" + VersionGreen
}

// CanaryName returns the canary workload for name.
//
// Example:
//
//	CanaryName("web") // returns "web-canary"
func CanaryName(name string) string {
	return name + "-" + VersionCanary
}

// SplitWorkloadName recovers the service name and version label of a
// workload. Names without a known suffix are the stable workload itself.
//
// Example:
//
//	SplitWorkloadName("web-green") // returns "web", "green"
//	SplitWorkloadName("web")       // returns "web", "stable"
func SplitWorkloadName(workload string) (service, version string) {
	for _, v := range []string{VersionBlue, VersionGreen, VersionCanary} {
		if base, ok := strings.CutSuffix(workload, "-"+v); ok && base != "" {
			return base, v
		}
	}
	return workload, VersionStable
}

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates the container network of a namespace.
// Pattern: rollout_{namespace}
//
// Example:
//
//	NetworkName("prod") // returns "rollout_prod"
func NetworkName(namespace string) string {
	return fmt.Sprintf("rollout_%s", namespace)
}

// ContainerName generates the name of one replica of a workload.
// Pattern: {workload}-{index}
//
// Example:
//
//	ContainerName("web-green", 0) // returns "web-green-0"
func ContainerName(workload string, index int) string {
	return fmt.Sprintf("%s-%d", workload, index)
}

// TargetGroupName generates the load balancer target group that serves the
// given version of a service.
// Pattern: {service}-{version}
func TargetGroupName(service, version string) string {
	return fmt.Sprintf("%s-%s", service, version)
}
