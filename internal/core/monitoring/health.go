// Package monitoring provides pure functions for rollout health logic.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
package monitoring

import (
	"fmt"
	"strings"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Health Aggregation (Pure Functions)
// =============================================================================

// AllReady reduces per-instance readiness to one boolean. It is true only when
// statuses is non-empty and every instance is Running and ready. An empty
// list means nothing is scheduled yet, which is unhealthy but not an error.
func AllReady(statuses []domain.InstanceStatus) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if s.Phase != domain.PhaseRunning || !s.Ready {
			return false
		}
	}
	return true
}

// Summary counts instances by readiness.
type Summary struct {
	Total   int
	Running int
	Ready   int
}

// Summarize counts statuses for logging and step details.
func Summarize(statuses []domain.InstanceStatus) Summary {
	s := Summary{Total: len(statuses)}
	for _, st := range statuses {
		if st.Phase == domain.PhaseRunning {
			s.Running++
			if st.Ready {
				s.Ready++
			}
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%d/%d ready", s.Ready, s.Total)
}

// =============================================================================
// Platform State Mapping (Pure Functions)
// =============================================================================

// ContainerPhase maps a Docker container state onto the instance phase
// vocabulary.
func ContainerPhase(state string) string {
	switch state {
	case "running":
		return domain.PhaseRunning
	case "created", "restarting", "paused":
		return domain.PhasePending
	case "exited", "dead", "removing":
		return domain.PhaseFailed
	default:
		return domain.PhaseUnknown
	}
}

// ContainerReady reports whether a container serves traffic. Containers
// without a health check ("") count as ready once running.
//
// Parameters:
// - state: Container state (running, exited, ...)
// - health: Docker health check result (healthy, unhealthy, starting, "")
func ContainerReady(state, health string) bool {
	if state != "running" {
		return false
	}
	return health == "" || health == "healthy"
}

// TaskPhase maps an ECS task lastStatus onto the instance phase vocabulary.
func TaskPhase(lastStatus string) string {
	switch strings.ToUpper(lastStatus) {
	case "RUNNING":
		return domain.PhaseRunning
	case "PROVISIONING", "PENDING", "ACTIVATING":
		return domain.PhasePending
	case "DEACTIVATING", "STOPPING", "DEPROVISIONING":
		return domain.PhaseRunning
	case "STOPPED", "DELETED":
		return domain.PhaseFailed
	default:
		return domain.PhaseUnknown
	}
}

// TaskReady reports whether an ECS task is running and passes its container
// health check. Tasks without a health check report UNKNOWN and count as
// ready once running.
func TaskReady(lastStatus, healthStatus string) bool {
	if strings.ToUpper(lastStatus) != "RUNNING" {
		return false
	}
	switch strings.ToUpper(healthStatus) {
	case "HEALTHY", "UNKNOWN", "":
		return true
	}
	return false
}

// =============================================================================
// Rollout Progress (Pure Functions)
// =============================================================================

// Progress is a platform-neutral snapshot of a workload rollout.
type Progress struct {
	Desired   int
	Updated   int
	Ready     int
	Available int
	// Total counts every instance, including old ones still draining.
	Total int
	// Observed is false while the platform has not yet seen the latest spec.
	Observed bool
}

// RolloutComplete reports whether every desired instance runs the new spec
// and no old instance remains. Scaling to zero completes as soon as the
// platform observes it and the old instances are gone.
func RolloutComplete(p Progress) bool {
	if !p.Observed {
		return false
	}
	if p.Total > p.Desired {
		return false
	}
	return p.Updated >= p.Desired && p.Ready >= p.Desired && p.Available >= p.Desired
}
