package deployment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Kubernetes Manifest Tests
// =============================================================================

func TestBuildDeployment(t *testing.T) {
	dep := BuildDeployment("prod", greenSpec())

	assert.Equal(t, "web-green", dep.Name)
	assert.Equal(t, "prod", dep.Namespace)
	require.NotNil(t, dep.Spec.Replicas)
	assert.Equal(t, int32(3), *dep.Spec.Replicas)
	assert.Equal(t, map[string]string{"app": "web-green"}, dep.Spec.Selector.MatchLabels)

	labels := dep.Spec.Template.Labels
	assert.Equal(t, "web-green", labels[KubeLabelApp])
	assert.Equal(t, "web", labels[KubeLabelName])
	assert.Equal(t, VersionGreen, labels[KubeLabelVersion])

	require.Len(t, dep.Spec.Template.Spec.Containers, 1)
	c := dep.Spec.Template.Spec.Containers[0]
	assert.Equal(t, AppContainer, c.Name)
	assert.Equal(t, "app:v2", c.Image)
	assert.Equal(t, int32(8080), c.Ports[0].ContainerPort)

	require.NotNil(t, c.ReadinessProbe)
	assert.Equal(t, "/healthz", c.ReadinessProbe.HTTPGet.Path)
	assert.Equal(t, int32(10), c.ReadinessProbe.InitialDelaySeconds)
	assert.Equal(t, int32(5), c.ReadinessProbe.PeriodSeconds)
	require.NotNil(t, c.LivenessProbe)
	assert.Equal(t, int32(30), c.LivenessProbe.InitialDelaySeconds)
	assert.Equal(t, int32(10), c.LivenessProbe.PeriodSeconds)

	assert.Equal(t, "100m", c.Resources.Requests.Cpu().String())
	assert.Equal(t, "128Mi", c.Resources.Requests.Memory().String())
	assert.Equal(t, "500m", c.Resources.Limits.Cpu().String())
	assert.Equal(t, "512Mi", c.Resources.Limits.Memory().String())
}

func TestBuildService(t *testing.T) {
	svc := BuildService("prod", "web", 8080, VersionBlue)

	assert.Equal(t, "web", svc.Name)
	assert.Equal(t, map[string]string{KubeLabelName: "web", KubeLabelVersion: VersionBlue}, svc.Spec.Selector)
	require.Len(t, svc.Spec.Ports, 1)
	assert.Equal(t, int32(8080), svc.Spec.Ports[0].TargetPort.IntVal)
	assert.Equal(t, corev1.ProtocolTCP, svc.Spec.Ports[0].Protocol)

	open := BuildService("prod", "web", 8080, "")
	assert.NotContains(t, open.Spec.Selector, KubeLabelVersion)
}

func TestBuildManifests_BlueGreenStartsBlue(t *testing.T) {
	cfg := domain.NewDeploymentConfig("web", "app:v1")
	cfg.Strategy = domain.StrategyBlueGreen

	dep, svc := BuildManifests(cfg)
	assert.Equal(t, "web-blue", dep.Name)
	assert.Equal(t, VersionBlue, svc.Spec.Selector[KubeLabelVersion])
}

func TestRenderManifests(t *testing.T) {
	cfg := domain.NewDeploymentConfig("web", "app:v1")
	dep, svc := BuildManifests(cfg)

	out, err := RenderManifests(dep, svc)
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "kind: Deployment")
	assert.Contains(t, text, "kind: Service")
	assert.Contains(t, text, "image: app:v1")
	assert.Equal(t, 1, strings.Count(text, "---\n"))
}

// =============================================================================
// Compose Project Tests
// =============================================================================

func TestBuildComposeProject(t *testing.T) {
	cfg := domain.NewDeploymentConfig("web", "app:v1")
	cfg.Namespace = "prod"

	p := BuildComposeProject(cfg)
	require.Contains(t, p.Services, "web")

	svc := p.Services["web"]
	assert.Equal(t, "app:v1", svc.Image)
	require.NotNil(t, svc.Deploy)
	require.NotNil(t, svc.Deploy.Replicas)
	assert.Equal(t, 3, *svc.Deploy.Replicas)
	require.Contains(t, svc.Networks, "rollout_prod")
	assert.Equal(t, []string{"web"}, svc.Networks["rollout_prod"].Aliases)
	assert.Contains(t, p.Networks, "rollout_prod")

	out, err := RenderComposeProject(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), "app:v1")
}
