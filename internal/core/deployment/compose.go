package deployment

import (
	"fmt"
	"time"

	"github.com/compose-spec/compose-go/v2/types"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Compose Project Builder
// =============================================================================

// BuildComposeProject describes cfg on the container engine as a compose
// project: one service per workload, attached to the namespace network.
func BuildComposeProject(cfg domain.DeploymentConfig) *types.Project {
	workload := cfg.Name
	if cfg.Strategy == domain.StrategyBlueGreen {
		workload = BlueName(cfg.Name)
	}
	spec := cfg.WorkloadSpec(workload, cfg.Image, cfg.Replicas)
	plan := BuildContainerPlan(BuildContainerPlanParams{
		Namespace:    cfg.Namespace,
		Spec:         spec,
		ServiceAlias: true,
	})

	network := NetworkName(cfg.Namespace)
	replicas := spec.Replicas

	labels := types.Labels{}
	for k, v := range plan.Labels {
		if k == LabelIndex {
			continue
		}
		labels[k] = v
	}

	env := types.MappingWithEquals{}
	for k, v := range plan.Env {
		value := v
		env[k] = &value
	}

	svc := types.ServiceConfig{
		Name:        workload,
		Image:       plan.Image,
		Environment: env,
		Labels:      labels,
		Restart:     plan.RestartPolicy.Name,
		Networks: map[string]*types.ServiceNetworkConfig{
			network: {Aliases: plan.Aliases},
		},
		HealthCheck: &types.HealthCheckConfig{
			Test:        types.HealthCheckTest(plan.HealthCheck.Test),
			Interval:    composeDuration(plan.HealthCheck.Interval),
			Timeout:     composeDuration(plan.HealthCheck.Timeout),
			StartPeriod: composeDuration(plan.HealthCheck.StartPeriod),
			Retries:     composeRetries(plan.HealthCheck.Retries),
		},
		Deploy: &types.DeployConfig{
			Replicas: &replicas,
			Resources: types.Resources{
				Limits: &types.Resource{
					NanoCPUs:    cpuLimitCores,
					MemoryBytes: types.UnitBytes(plan.Resources.MemoryLimit),
				},
			},
		},
	}

	return &types.Project{
		Name:     cfg.Name,
		Services: types.Services{workload: svc},
		Networks: types.Networks{
			network: types.NetworkConfig{Name: network, Driver: "bridge"},
		},
	}
}

// RenderComposeProject renders p as a compose file.
func RenderComposeProject(p *types.Project) ([]byte, error) {
	out, err := p.MarshalYAML()
	if err != nil {
		return nil, fmt.Errorf("render compose project %s: %w", p.Name, err)
	}
	return out, nil
}

func composeDuration(d time.Duration) *types.Duration {
	v := types.Duration(d)
	return &v
}

func composeRetries(n int) *uint64 {
	v := uint64(n)
	return &v
}
