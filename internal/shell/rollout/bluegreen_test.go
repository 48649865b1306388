package rollout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/driver"
	"github.com/artpar/rollout/internal/shell/driver/drivertest"
)

func blueGreenConfig() domain.DeploymentConfig {
	cfg := domain.NewDeploymentConfig("web", "app:v2")
	cfg.Strategy = domain.StrategyBlueGreen
	cfg.Replicas = 4
	return cfg
}

// blueUntouched asserts no driver call named the blue workload.
func blueUntouched(t *testing.T, fake *drivertest.Fake) {
	t.Helper()
	for _, c := range fake.Calls() {
		assert.NotEqual(t, "web-blue", c.Name, "unexpected call %s", c)
	}
	w, ok := fake.Workload("web-blue")
	require.True(t, ok, "blue workload must still exist")
	assert.Equal(t, "app:v1", w.Image)
	assert.Equal(t, 4, w.Replicas)
}

func TestBlueGreen_Success(t *testing.T) {
	fake := drivertest.New().Seed("web-blue", "app:v1", 4)

	res := NewBlueGreen(testOptions(nil)).Run(context.Background(), blueGreenConfig(), fake, checkerFor(fake))

	require.Equal(t, domain.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, []string{StepDeployGreen, StepWaitGreenReady, StepHealthCheck, StepSwitchTraffic}, stepNames(res.Steps))
	assert.Equal(t, "web-green", res.Active)
	assert.Equal(t, "web-blue", res.Standby)
	assert.Equal(t, "green", fake.Selector("web"))

	green, ok := fake.Workload("web-green")
	require.True(t, ok)
	assert.Equal(t, "app:v2", green.Image)
	assert.Equal(t, 4, green.Replicas)

	blueUntouched(t, fake)
	assert.Empty(t, fake.CallsTo(driver.OpDeleteWorkload))
}

func TestBlueGreen_UsesGreenTimeout(t *testing.T) {
	fake := drivertest.New().Seed("web-blue", "app:v1", 4)
	var got time.Duration
	fake.WaitReadyFunc = func(name string, timeout time.Duration) (bool, error) {
		assert.Equal(t, "web-green", name)
		got = timeout
		return true, nil
	}

	NewBlueGreen(testOptions(nil)).Run(context.Background(), blueGreenConfig(), fake, checkerFor(fake))
	assert.Equal(t, 300*time.Second, got)
}

func TestBlueGreen_HealthFailureDeletesGreenOnly(t *testing.T) {
	fake := drivertest.New().Seed("web-blue", "app:v1", 4)
	fake.StatusesFunc = func(name string) ([]domain.InstanceStatus, error) {
		return []domain.InstanceStatus{
			{Phase: domain.PhaseRunning, Ready: true},
			{Phase: domain.PhaseRunning, Ready: false},
		}, nil
	}

	res := NewBlueGreen(testOptions(nil)).Run(context.Background(), blueGreenConfig(), fake, checkerFor(fake))

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Empty(t, res.Active)
	assert.Empty(t, res.Standby)
	assert.Equal(t, []string{StepDeployGreen, StepWaitGreenReady, StepHealthCheck, StepCleanupGreen}, stepNames(res.Steps))
	assert.True(t, findStep(t, res.Steps, StepCleanupGreen).Cleanup)
	assertMonotonic(t, res.Steps)

	_, greenExists := fake.Workload("web-green")
	assert.False(t, greenExists)
	assert.Empty(t, fake.CallsTo(driver.OpPatchTrafficSelector))
	blueUntouched(t, fake)
}

func TestBlueGreen_WaitTimeout(t *testing.T) {
	fake := drivertest.New().Seed("web-blue", "app:v1", 4)
	fake.WaitReadyFunc = func(name string, timeout time.Duration) (bool, error) { return false, nil }

	res := NewBlueGreen(testOptions(nil)).Run(context.Background(), blueGreenConfig(), fake, checkerFor(fake))

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Contains(t, res.Message, "green not ready")
	assert.Equal(t, []string{StepDeployGreen, StepWaitGreenReady, StepCleanupGreen}, stepNames(res.Steps))
	assert.Empty(t, fake.CallsTo(driver.OpInstanceStatuses))
	blueUntouched(t, fake)
}

func TestBlueGreen_ApplyFailure(t *testing.T) {
	fake := drivertest.New().Seed("web-blue", "app:v1", 4)
	fake.ApplyFunc = func(spec domain.WorkloadSpec) error {
		return domain.NewDriverError(domain.KindPermanent, driver.OpApplyWorkload, spec.Name, "quota exceeded", nil)
	}

	res := NewBlueGreen(testOptions(nil)).Run(context.Background(), blueGreenConfig(), fake, checkerFor(fake))

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Contains(t, res.Message, "quota exceeded")
	assert.Equal(t, []string{StepDeployGreen, StepCleanupGreen}, stepNames(res.Steps))
	blueUntouched(t, fake)
}

func TestBlueGreen_SwitchFailureRestoresSelector(t *testing.T) {
	fake := drivertest.New().Seed("web-blue", "app:v1", 4)
	fake.PatchFunc = func(service, label string) error {
		if label == "green" {
			return errors.New("conflict")
		}
		return nil
	}

	res := NewBlueGreen(testOptions(nil)).Run(context.Background(), blueGreenConfig(), fake, checkerFor(fake))

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, []string{StepDeployGreen, StepWaitGreenReady, StepHealthCheck, StepSwitchTraffic, StepRestoreTraffic, StepCleanupGreen},
		stepNames(res.Steps))
	assert.Equal(t, "blue", fake.Selector("web"))
	assertMonotonic(t, res.Steps)
}

func TestBlueGreen_CleanupFailureKeepsMessage(t *testing.T) {
	fake := drivertest.New().Seed("web-blue", "app:v1", 4)
	fake.WaitReadyFunc = func(name string, timeout time.Duration) (bool, error) { return false, nil }
	fake.DeleteFunc = func(name string) error { return errors.New("api down") }

	res := NewBlueGreen(testOptions(nil)).Run(context.Background(), blueGreenConfig(), fake, checkerFor(fake))

	assert.Contains(t, res.Message, "green not ready")
	cleanup := findStep(t, res.Steps, StepCleanupGreen)
	assert.False(t, cleanup.Success)
	assert.Equal(t, "api down", cleanup.Detail["error"])
}

func TestBlueGreen_CancelledBeforeSwitch(t *testing.T) {
	fake := drivertest.New().Seed("web-blue", "app:v1", 4)
	ctx, cancel := context.WithCancel(context.Background())
	hc := healthFunc(func(name string) (bool, error) {
		cancel()
		return true, nil
	})

	res := NewBlueGreen(testOptions(nil)).Run(ctx, blueGreenConfig(), fake, hc)

	assert.Equal(t, MessageCancelled, res.Message)
	assert.Equal(t, []string{StepDeployGreen, StepWaitGreenReady, StepHealthCheck, StepCancelled, StepCleanupGreen}, stepNames(res.Steps))
	assert.Empty(t, fake.CallsTo(driver.OpPatchTrafficSelector))
	_, greenExists := fake.Workload("web-green")
	assert.False(t, greenExists)
}
