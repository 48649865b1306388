package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Parsing Tests
// =============================================================================

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"rolling", StrategyRolling, false},
		{"blue_green", StrategyBlueGreen, false},
		{"blue-green", StrategyBlueGreen, false},
		{" Canary ", StrategyCanary, false},
		{"recreate", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		want    Platform
		wantErr bool
	}{
		{"cluster_orchestrator", PlatformClusterOrchestrator, false},
		{"kubernetes", PlatformClusterOrchestrator, false},
		{"k8s", PlatformClusterOrchestrator, false},
		{"managed-container-service", PlatformManagedContainerService, false},
		{"ECS", PlatformManagedContainerService, false},
		{"docker", PlatformContainerEngine, false},
		{"nomad", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlatform(tt.in)
			if tt.wantErr {
				var cfgErr *ConfigError
				require.True(t, errors.As(err, &cfgErr))
				assert.Equal(t, "platform", cfgErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Defaults Tests
// =============================================================================

func TestNewDeploymentConfig_Defaults(t *testing.T) {
	cfg := NewDeploymentConfig("web", "app:v2")

	assert.Equal(t, "web", cfg.Name)
	assert.Equal(t, "app:v2", cfg.Image)
	assert.Equal(t, "default", cfg.Namespace)
	assert.Equal(t, 3, cfg.Replicas)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/health", cfg.HealthPath)
	assert.Equal(t, StrategyRolling, cfg.Strategy)
	assert.Equal(t, PlatformClusterOrchestrator, cfg.Platform)
	assert.Equal(t, []int{10, 25, 50, 100}, cfg.CanarySteps)
	assert.Equal(t, 30*time.Second, cfg.CanaryInterval)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestWithDefaults_KeepsZeroReplicas(t *testing.T) {
	cfg := DeploymentConfig{Name: "web", Image: "app:v2"}.WithDefaults()

	assert.Equal(t, 0, cfg.Replicas)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestWithDefaults_CopiesCanarySteps(t *testing.T) {
	steps := []int{50, 100}
	cfg := DeploymentConfig{Name: "web", Image: "app:v2", CanarySteps: steps}.WithDefaults()

	steps[0] = 99
	assert.Equal(t, []int{50, 100}, cfg.CanarySteps)
}

func TestDefaultCanarySteps_FreshCopy(t *testing.T) {
	a := DefaultCanarySteps()
	a[0] = 1
	assert.Equal(t, 10, DefaultCanarySteps()[0])
}

func TestWorkloadRef(t *testing.T) {
	cfg := NewDeploymentConfig("web", "app:v2")
	cfg.Namespace = "prod"

	ref := cfg.Ref()
	assert.Equal(t, "cluster_orchestrator/prod/web", ref.Key())
	assert.Equal(t, "prod/web", ref.String())
}

func TestWorkloadRef_DryRunKey(t *testing.T) {
	cfg := NewDeploymentConfig("web", "app:v2")
	cfg.DryRun = true

	assert.Equal(t, "dry-run/cluster_orchestrator/default/web", cfg.Ref().Key())
}
