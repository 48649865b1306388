package ecs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

const listenerARN = "arn:aws:elasticloadbalancing:us-east-1:123456789012:listener/app/web/1/1"

func newTestDriver(t *testing.T, elb *fakeELB) (*Driver, *fakeECS) {
	t.Helper()
	api := newFakeECS()
	cfg := Config{PollInterval: time.Millisecond}
	var lb LoadBalancerAPI
	if elb != nil {
		cfg.ListenerARN = listenerARN
		lb = elb
	}
	return NewDriver(api, lb, "prod", cfg, nil), api
}

func spec(name, image string, replicas int) domain.WorkloadSpec {
	return domain.WorkloadSpec{Name: name, Image: image, Replicas: replicas, Port: 8080, HealthPath: "/health"}
}

func (f *fakeECS) image(t *testing.T, service string) string {
	t.Helper()
	svc := f.get(service)
	require.NotNil(t, svc)
	f.mu.Lock()
	defer f.mu.Unlock()
	td := f.taskDefs[aws.ToString(svc.TaskDefinition)]
	require.NotNil(t, td)
	return aws.ToString(td.ContainerDefinitions[0].Image)
}

// =============================================================================
// Apply Tests
// =============================================================================

func TestDriver_ApplyCreatesService(t *testing.T) {
	d, api := newTestDriver(t, nil)

	require.NoError(t, d.ApplyWorkload(context.Background(), spec("web", "app:v1", 3)))

	svc := api.get("web")
	require.NotNil(t, svc)
	assert.Equal(t, int32(3), svc.DesiredCount)
	assert.Equal(t, taskDefinitionARN("web", 1), aws.ToString(svc.TaskDefinition))
	assert.Equal(t, ecstypes.LaunchTypeFargate, svc.LaunchType)
	assert.Empty(t, svc.LoadBalancers)

	td := api.taskDefs[taskDefinitionARN("web", 1)]
	container := td.ContainerDefinitions[0]
	assert.Equal(t, "app", aws.ToString(container.Name))
	assert.Equal(t, "app:v1", aws.ToString(container.Image))
	assert.Equal(t, int32(8080), aws.ToInt32(container.PortMappings[0].ContainerPort))
	require.NotNil(t, container.HealthCheck)
	assert.Contains(t, container.HealthCheck.Command[1], "curl -f http://localhost:8080/health")
	assert.Equal(t, ecstypes.NetworkModeAwsvpc, td.NetworkMode)
}

func TestDriver_ApplyIsIdempotent(t *testing.T) {
	d, api := newTestDriver(t, nil)
	ctx := context.Background()

	require.NoError(t, d.ApplyWorkload(ctx, spec("web", "app:v1", 3)))
	require.NoError(t, d.ApplyWorkload(ctx, spec("web", "app:v1", 3)))

	assert.Equal(t, 1, api.count("RegisterTaskDefinition"))
	assert.Equal(t, 1, api.count("CreateService"))
	assert.Equal(t, int32(3), api.get("web").DesiredCount)
}

func TestDriver_ApplyUpdatesImageAndReplicas(t *testing.T) {
	d, api := newTestDriver(t, nil)
	ctx := context.Background()

	require.NoError(t, d.ApplyWorkload(ctx, spec("web", "app:v1", 3)))
	require.NoError(t, d.ApplyWorkload(ctx, spec("web", "app:v2", 5)))

	svc := api.get("web")
	assert.Equal(t, taskDefinitionARN("web", 2), aws.ToString(svc.TaskDefinition))
	assert.Equal(t, int32(5), svc.DesiredCount)
	assert.Equal(t, "app:v2", api.image(t, "web"))
}

func TestDriver_ApplyAttachesTargetGroup(t *testing.T) {
	elb := newFakeELB("web-blue", "web-green", "web-stable")
	d, api := newTestDriver(t, elb)
	ctx := context.Background()

	require.NoError(t, d.ApplyWorkload(ctx, spec("web-green", "app:v2", 2)))
	require.NoError(t, d.ApplyWorkload(ctx, spec("web-canary", "app:v2", 1)))
	require.NoError(t, d.ApplyWorkload(ctx, spec("api", "api:v1", 1)))

	green := api.get("web-green").LoadBalancers
	require.Len(t, green, 1)
	assert.Equal(t, elb.targetGroups["web-green"], aws.ToString(green[0].TargetGroupArn))
	assert.Equal(t, "app", aws.ToString(green[0].ContainerName))

	canary := api.get("web-canary").LoadBalancers
	require.Len(t, canary, 1)
	assert.Equal(t, elb.targetGroups["web-stable"], aws.ToString(canary[0].TargetGroupArn))

	assert.Empty(t, api.get("api").LoadBalancers, "workloads without a target group run unattached")
}

// =============================================================================
// Scale, Image and Undo Tests
// =============================================================================

func TestDriver_ScaleAndSetImage(t *testing.T) {
	d, api := newTestDriver(t, nil)
	ctx := context.Background()
	require.NoError(t, d.ApplyWorkload(ctx, spec("web", "app:v1", 3)))

	require.NoError(t, d.Scale(ctx, "web", 1))
	assert.Equal(t, int32(1), api.get("web").DesiredCount)

	require.NoError(t, d.SetImage(ctx, "web", "app:v2"))
	assert.Equal(t, "app:v2", api.image(t, "web"))
	assert.Equal(t, int32(1), api.get("web").DesiredCount, "image changes keep the replica count")

	td := api.taskDefs[taskDefinitionARN("web", 2)]
	assert.Equal(t, "256", aws.ToString(td.Cpu), "the clone keeps the task size")

	require.NoError(t, d.SetImage(ctx, "web", "app:v2"))
	assert.Equal(t, 2, api.count("RegisterTaskDefinition"), "setting the current image registers nothing")
}

func TestDriver_MissingService(t *testing.T) {
	d, _ := newTestDriver(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, d.Scale(ctx, "ghost", 1), domain.ErrNotFound)
	assert.ErrorIs(t, d.SetImage(ctx, "ghost", "app:v2"), domain.ErrNotFound)
	assert.ErrorIs(t, d.Undo(ctx, "ghost"), domain.ErrNotFound)
	_, err := d.Describe(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, d.DeleteWorkload(ctx, "ghost"))
}

func TestDriver_Undo(t *testing.T) {
	d, api := newTestDriver(t, nil)
	ctx := context.Background()

	require.NoError(t, d.ApplyWorkload(ctx, spec("web", "app:v1", 2)))
	err := d.Undo(ctx, "web")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no previous revision")

	require.NoError(t, d.SetImage(ctx, "web", "app:v2"))
	require.NoError(t, d.SetImage(ctx, "web", "app:v3"))
	require.NoError(t, d.Undo(ctx, "web"))

	assert.Equal(t, taskDefinitionARN("web", 2), aws.ToString(api.get("web").TaskDefinition))
	assert.Equal(t, "app:v2", api.image(t, "web"))
}

// =============================================================================
// Readiness Tests
// =============================================================================

func TestDriver_WaitReady(t *testing.T) {
	tests := []struct {
		name        string
		deployments []ecstypes.Deployment
		want        bool
	}{
		{
			name: "completed",
			deployments: []ecstypes.Deployment{
				{Status: aws.String("PRIMARY"), RolloutState: ecstypes.DeploymentRolloutStateCompleted, DesiredCount: 2, RunningCount: 2},
			},
			want: true,
		},
		{
			name: "running equals desired",
			deployments: []ecstypes.Deployment{
				{Status: aws.String("PRIMARY"), DesiredCount: 2, RunningCount: 2},
			},
			want: true,
		},
		{
			name: "old deployment draining",
			deployments: []ecstypes.Deployment{
				{Status: aws.String("PRIMARY"), RolloutState: ecstypes.DeploymentRolloutStateInProgress, DesiredCount: 2, RunningCount: 2},
				{Status: aws.String("ACTIVE"), RolloutState: ecstypes.DeploymentRolloutStateCompleted, DesiredCount: 2, RunningCount: 1},
			},
			want: false,
		},
		{
			name: "failed",
			deployments: []ecstypes.Deployment{
				{Status: aws.String("PRIMARY"), RolloutState: ecstypes.DeploymentRolloutStateFailed, DesiredCount: 2},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, api := newTestDriver(t, nil)
			require.NoError(t, d.ApplyWorkload(context.Background(), spec("web", "app:v1", 2)))
			api.get("web").Deployments = tt.deployments

			ready, err := d.WaitReady(context.Background(), "web", 30*time.Millisecond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ready)
		})
	}
}

func TestDriver_WaitReadyMissingService(t *testing.T) {
	d, _ := newTestDriver(t, nil)

	ready, err := d.WaitReady(context.Background(), "ghost", time.Second)
	assert.False(t, ready)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDriver_InstanceStatuses(t *testing.T) {
	d, api := newTestDriver(t, nil)
	require.NoError(t, d.ApplyWorkload(context.Background(), spec("web", "app:v1", 3)))
	api.tasks["web"] = []ecstypes.Task{
		{TaskArn: aws.String("task/1"), LastStatus: aws.String("RUNNING"), HealthStatus: ecstypes.HealthStatusHealthy},
		{TaskArn: aws.String("task/2"), LastStatus: aws.String("RUNNING"), HealthStatus: ecstypes.HealthStatusUnhealthy},
		{TaskArn: aws.String("task/3"), LastStatus: aws.String("PROVISIONING")},
		{TaskArn: aws.String("task/4"), LastStatus: aws.String("STOPPED")},
	}

	statuses, err := d.InstanceStatuses(context.Background(), "web")
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.InstanceStatus{
		{ID: "task/1", Phase: domain.PhaseRunning, Ready: true},
		{ID: "task/2", Phase: domain.PhaseRunning, Ready: false},
		{ID: "task/3", Phase: domain.PhasePending, Ready: false},
		{ID: "task/4", Phase: domain.PhaseFailed, Ready: false},
	}, statuses)

	none, err := d.InstanceStatuses(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// Traffic Tests
// =============================================================================

func TestDriver_PatchTrafficSelector(t *testing.T) {
	elb := newFakeELB("web-blue", "web-green")
	d, _ := newTestDriver(t, elb)

	require.NoError(t, d.PatchTrafficSelector(context.Background(), "web", "green"))
	assert.Equal(t, elb.targetGroups["web-green"], elb.forwarded())

	err := d.PatchTrafficSelector(context.Background(), "api", "green")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, elb.targetGroups["web-green"], elb.forwarded())
}

func TestDriver_PatchTrafficSelectorWithoutListener(t *testing.T) {
	d, _ := newTestDriver(t, nil)

	err := d.PatchTrafficSelector(context.Background(), "web", "green")
	assert.ErrorIs(t, err, domain.ErrUnsupported)
	assert.False(t, domain.IsTransient(err))
}

// =============================================================================
// Delete and Describe Tests
// =============================================================================

func TestDriver_DeleteWorkload(t *testing.T) {
	d, api := newTestDriver(t, nil)
	ctx := context.Background()
	require.NoError(t, d.ApplyWorkload(ctx, spec("web-green", "app:v2", 2)))

	require.NoError(t, d.DeleteWorkload(ctx, "web-green"))
	assert.Equal(t, "INACTIVE", aws.ToString(api.get("web-green").Status))
	assert.Equal(t, int32(0), api.get("web-green").DesiredCount)

	_, err := d.Describe(ctx, "web-green")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, d.DeleteWorkload(ctx, "web-green"), "deleting an inactive service succeeds")
}

func TestDriver_Describe(t *testing.T) {
	d, api := newTestDriver(t, nil)
	require.NoError(t, d.ApplyWorkload(context.Background(), spec("web", "app:v1", 3)))
	svc := api.get("web")
	svc.RunningCount = 2
	svc.Deployments = []ecstypes.Deployment{{
		Status:             aws.String("PRIMARY"),
		RolloutState:       ecstypes.DeploymentRolloutStateInProgress,
		RolloutStateReason: aws.String("ECS deployment in progress."),
		DesiredCount:       3,
		RunningCount:       2,
	}}

	desc, err := d.Describe(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, "web", desc.Name)
	assert.Equal(t, "prod", desc.Namespace)
	assert.Equal(t, 3, desc.Replicas)
	assert.Equal(t, 2, desc.ReadyReplicas)
	assert.Equal(t, "app:v1", desc.Image)
	assert.Equal(t, []domain.Condition{{
		Type:    "PRIMARY",
		Status:  "IN_PROGRESS",
		Reason:  "ECS deployment in progress.",
		Message: "2/3 tasks running",
	}}, desc.Conditions)
}

// =============================================================================
// Error Mapping Tests
// =============================================================================

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.DriverErrorKind
	}{
		{"service not found", &ecstypes.ServiceNotFoundException{}, domain.KindNotFound},
		{"service not active", &ecstypes.ServiceNotActiveException{}, domain.KindNotFound},
		{"throttled", &smithy.GenericAPIError{Code: "ThrottlingException"}, domain.KindTransient},
		{"server exception", &ecstypes.ServerException{}, domain.KindTransient},
		{"server fault", &smithy.GenericAPIError{Code: "Whatever", Fault: smithy.FaultServer}, domain.KindTransient},
		{"client exception", &ecstypes.ClientException{}, domain.KindPermanent},
		{"unsupported", &ecstypes.UnsupportedFeatureException{}, domain.KindUnsupported},
		{"deadline", context.DeadlineExceeded, domain.KindTimeout},
		{"plain", errors.New("boom"), domain.KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kindOf(tt.err))
		})
	}
}

func TestParseTaskDefinitionARN(t *testing.T) {
	family, rev, ok := parseTaskDefinitionARN(taskDefinitionARN("web-green", 12))
	require.True(t, ok)
	assert.Equal(t, "web-green", family)
	assert.Equal(t, int32(12), rev)

	_, _, ok = parseTaskDefinitionARN("arn:aws:ecs:us-east-1:123456789012:task-definition/web")
	assert.False(t, ok)
}
