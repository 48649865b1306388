package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Workload Naming Tests
// =============================================================================

func TestBlueGreenCanaryNames(t *testing.T) {
	assert.Equal(t, "web-blue", BlueName("web"))
	assert.Equal(t, "web-green", GreenName("web"))
	assert.Equal(t, "web-canary", CanaryName("web"))
}

func TestSplitWorkloadName(t *testing.T) {
	tests := []struct {
		workload string
		service  string
		version  string
	}{
		{"web", "web", VersionStable},
		{"web-blue", "web", VersionBlue},
		{"web-green", "web", VersionGreen},
		{"web-canary", "web", VersionCanary},
		{"my-api-green", "my-api", VersionGreen},
		{"green", "green", VersionStable},
		{"-green", "-green", VersionStable},
	}

	for _, tt := range tests {
		t.Run(tt.workload, func(t *testing.T) {
			service, version := SplitWorkloadName(tt.workload)
			assert.Equal(t, tt.service, service)
			assert.Equal(t, tt.version, version)
		})
	}
}

func TestSplitWorkloadName_RoundTrip(t *testing.T) {
	for _, name := range []string{BlueName("web"), GreenName("web"), CanaryName("web")} {
		service, _ := SplitWorkloadName(name)
		assert.Equal(t, "web", service)
	}
}

// =============================================================================
// Resource Naming Tests
// =============================================================================

func TestNetworkName(t *testing.T) {
	assert.Equal(t, "rollout_prod", NetworkName("prod"))
	assert.Equal(t, "rollout_", NetworkName(""))
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "web-green-0", ContainerName("web-green", 0))
	assert.Equal(t, "web-12", ContainerName("web", 12))
}

func TestTargetGroupName(t *testing.T) {
	assert.Equal(t, "web-green", TargetGroupName("web", VersionGreen))
}
