package ecs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/artpar/rollout/internal/core/deployment"
	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/monitoring"
	"github.com/artpar/rollout/internal/shell/driver"
)

// serviceActive is the DescribeServices status of a live service.
const serviceActive = "ACTIVE"

// describeTasksBatch is the DescribeTasks request limit.
const describeTasksBatch = 100

// =============================================================================
// Driver
// =============================================================================

// Driver implements driver.Driver for one ECS cluster.
type Driver struct {
	ecs     ServiceAPI
	elb     LoadBalancerAPI
	cluster string
	config  Config
	logger  *slog.Logger
}

var _ driver.Driver = (*Driver)(nil)

// NewDriver creates an ECS driver for cluster. elb may be nil when no
// listener is configured.
func NewDriver(ecsClient ServiceAPI, elb LoadBalancerAPI, cluster string, config Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		ecs:     ecsClient,
		elb:     elb,
		cluster: cluster,
		config:  config.withDefaults(),
		logger:  logger.With("component", "ecs_driver", "cluster", cluster),
	}
}

func (d *Driver) Platform() domain.Platform { return domain.PlatformManagedContainerService }

// service describes the service called name. Missing, draining and inactive
// services are not found.
func (d *Driver) service(ctx context.Context, op, name string) (*ecstypes.Service, error) {
	out, err := d.ecs.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(d.cluster),
		Services: []string{name},
	})
	if err != nil {
		return nil, driverError(op, name, err)
	}
	for i := range out.Services {
		svc := &out.Services[i]
		if aws.ToString(svc.ServiceName) == name && aws.ToString(svc.Status) == serviceActive {
			return svc, nil
		}
	}
	return nil, notFound(op, name, "service not found")
}

func (d *Driver) taskDefinition(ctx context.Context, op, name, arn string) (*ecstypes.TaskDefinition, error) {
	out, err := d.ecs.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{TaskDefinition: aws.String(arn)})
	if err != nil {
		return nil, driverError(op, name, err)
	}
	if out.TaskDefinition == nil {
		return nil, notFound(op, name, "task definition not found")
	}
	return out.TaskDefinition, nil
}

// =============================================================================
// Apply
// =============================================================================

// ApplyWorkload registers a task definition for spec when the service's
// current one differs, then creates or updates the service.
func (d *Driver) ApplyWorkload(ctx context.Context, spec domain.WorkloadSpec) error {
	op := driver.OpApplyWorkload

	svc, err := d.service(ctx, op, spec.Name)
	switch {
	case isNotFound(err):
		return d.create(ctx, spec)
	case err != nil:
		return err
	}

	taskDef := aws.ToString(svc.TaskDefinition)
	current, err := d.taskDefinition(ctx, op, spec.Name, taskDef)
	if err != nil {
		return err
	}
	if !matchesSpec(current, spec) {
		registered, err := d.register(ctx, newTaskDefinition(spec, d.config))
		if err != nil {
			return driverError(op, spec.Name, err)
		}
		taskDef = aws.ToString(registered.TaskDefinitionArn)
	}

	_, err = d.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:        aws.String(d.cluster),
		Service:        aws.String(spec.Name),
		TaskDefinition: aws.String(taskDef),
		DesiredCount:   aws.Int32(int32(spec.Replicas)),
	})
	if err != nil {
		return driverError(op, spec.Name, err)
	}
	d.logger.Info("service updated", "workload", spec.Name, "image", spec.Image, "replicas", spec.Replicas)
	return nil
}

func (d *Driver) create(ctx context.Context, spec domain.WorkloadSpec) error {
	op := driver.OpApplyWorkload

	registered, err := d.register(ctx, newTaskDefinition(spec, d.config))
	if err != nil {
		return driverError(op, spec.Name, err)
	}

	input := &ecs.CreateServiceInput{
		Cluster:        aws.String(d.cluster),
		ServiceName:    aws.String(spec.Name),
		TaskDefinition: registered.TaskDefinitionArn,
		DesiredCount:   aws.Int32(int32(spec.Replicas)),
		LaunchType:     ecstypes.LaunchType(d.config.LaunchType),
	}
	if len(d.config.Subnets) > 0 {
		assign := ecstypes.AssignPublicIpDisabled
		if d.config.AssignPublicIP {
			assign = ecstypes.AssignPublicIpEnabled
		}
		input.NetworkConfiguration = &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        d.config.Subnets,
				SecurityGroups: d.config.SecurityGroups,
				AssignPublicIp: assign,
			},
		}
	}

	targetGroup, err := d.targetGroupFor(ctx, spec.Name)
	if err != nil {
		return driverError(op, spec.Name, err)
	}
	if targetGroup != "" {
		input.LoadBalancers = []ecstypes.LoadBalancer{{
			TargetGroupArn: aws.String(targetGroup),
			ContainerName:  aws.String(deployment.AppContainer),
			ContainerPort:  aws.Int32(int32(spec.Port)),
		}}
	}

	if _, err := d.ecs.CreateService(ctx, input); err != nil {
		return driverError(op, spec.Name, err)
	}
	d.logger.Info("service created", "workload", spec.Name, "image", spec.Image, "replicas", spec.Replicas, "target_group", targetGroup)
	return nil
}

func (d *Driver) register(ctx context.Context, input *ecs.RegisterTaskDefinitionInput) (*ecstypes.TaskDefinition, error) {
	out, err := d.ecs.RegisterTaskDefinition(ctx, input)
	if err != nil {
		return nil, err
	}
	if out.TaskDefinition == nil {
		return nil, fmt.Errorf("register task definition %s: empty response", aws.ToString(input.Family))
	}
	d.logger.Debug("task definition registered",
		"family", aws.ToString(out.TaskDefinition.Family),
		"revision", out.TaskDefinition.Revision)
	return out.TaskDefinition, nil
}

// newTaskDefinition builds the task definition of spec: one essential
// container named after deployment.AppContainer with a curl health check.
func newTaskDefinition(spec domain.WorkloadSpec, cfg Config) *ecs.RegisterTaskDefinitionInput {
	hc := deployment.HTTPHealthCheck(spec.Port, spec.HealthPath)
	input := &ecs.RegisterTaskDefinitionInput{
		Family: aws.String(spec.Name),
		ContainerDefinitions: []ecstypes.ContainerDefinition{{
			Name:      aws.String(deployment.AppContainer),
			Image:     aws.String(spec.Image),
			Essential: aws.Bool(true),
			PortMappings: []ecstypes.PortMapping{{
				ContainerPort: aws.Int32(int32(spec.Port)),
				Protocol:      ecstypes.TransportProtocolTcp,
			}},
			HealthCheck: &ecstypes.HealthCheck{
				Command:     hc.Test,
				Interval:    aws.Int32(int32(hc.Interval / time.Second)),
				Timeout:     aws.Int32(int32(hc.Timeout / time.Second)),
				Retries:     aws.Int32(int32(hc.Retries)),
				StartPeriod: aws.Int32(int32(hc.StartPeriod / time.Second)),
			},
		}},
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.Compatibility(cfg.LaunchType)},
		Cpu:                     aws.String(cfg.CPU),
		Memory:                  aws.String(cfg.Memory),
	}
	if cfg.ExecutionRoleARN != "" {
		input.ExecutionRoleArn = aws.String(cfg.ExecutionRoleARN)
	}
	return input
}

// cloneTaskDefinition copies td into a registration request running image.
func cloneTaskDefinition(td *ecstypes.TaskDefinition, image string) *ecs.RegisterTaskDefinitionInput {
	containers := make([]ecstypes.ContainerDefinition, len(td.ContainerDefinitions))
	copy(containers, td.ContainerDefinitions)
	if c := appContainer(containers); c != nil {
		c.Image = aws.String(image)
	}
	return &ecs.RegisterTaskDefinitionInput{
		Family:                  td.Family,
		ContainerDefinitions:    containers,
		Cpu:                     td.Cpu,
		Memory:                  td.Memory,
		NetworkMode:             td.NetworkMode,
		RequiresCompatibilities: td.RequiresCompatibilities,
		ExecutionRoleArn:        td.ExecutionRoleArn,
		TaskRoleArn:             td.TaskRoleArn,
		Volumes:                 td.Volumes,
	}
}

// matchesSpec reports whether td already runs spec's image on spec's port.
func matchesSpec(td *ecstypes.TaskDefinition, spec domain.WorkloadSpec) bool {
	c := appContainer(td.ContainerDefinitions)
	if c == nil || aws.ToString(c.Image) != spec.Image {
		return false
	}
	for _, pm := range c.PortMappings {
		if aws.ToInt32(pm.ContainerPort) == int32(spec.Port) {
			return true
		}
	}
	return false
}

// appContainer returns the application container, falling back to the first
// container for task definitions registered by other tools.
func appContainer(containers []ecstypes.ContainerDefinition) *ecstypes.ContainerDefinition {
	for i := range containers {
		if aws.ToString(containers[i].Name) == deployment.AppContainer {
			return &containers[i]
		}
	}
	if len(containers) > 0 {
		return &containers[0]
	}
	return nil
}

// targetGroupFor returns the ARN of the target group a new service for
// workload registers with, or "" when traffic switching is off or the group
// does not exist. Canary tasks join the stable group so traffic follows the
// task count.
func (d *Driver) targetGroupFor(ctx context.Context, workload string) (string, error) {
	if d.elb == nil || d.config.ListenerARN == "" {
		return "", nil
	}
	service, version := deployment.SplitWorkloadName(workload)
	if version == deployment.VersionCanary {
		version = deployment.VersionStable
	}
	arn, err := d.lookupTargetGroup(ctx, deployment.TargetGroupName(service, version))
	if isNotFound(err) {
		d.logger.Debug("no target group for workload", "workload", workload)
		return "", nil
	}
	return arn, err
}

func (d *Driver) lookupTargetGroup(ctx context.Context, name string) (string, error) {
	out, err := d.elb.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{Names: []string{name}})
	if err != nil {
		return "", err
	}
	for _, tg := range out.TargetGroups {
		if arn := aws.ToString(tg.TargetGroupArn); arn != "" {
			return arn, nil
		}
	}
	return "", notFound(driver.OpPatchTrafficSelector, name, "target group not found")
}

// =============================================================================
// Scale and Image
// =============================================================================

func (d *Driver) Scale(ctx context.Context, name string, replicas int) error {
	_, err := d.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(d.cluster),
		Service:      aws.String(name),
		DesiredCount: aws.Int32(int32(replicas)),
	})
	if err != nil {
		return driverError(driver.OpScale, name, err)
	}
	d.logger.Info("service scaled", "workload", name, "replicas", replicas)
	return nil
}

// SetImage registers a copy of the service's task definition running image
// and points the service at it.
func (d *Driver) SetImage(ctx context.Context, name, image string) error {
	op := driver.OpSetImage

	svc, err := d.service(ctx, op, name)
	if err != nil {
		return err
	}
	current, err := d.taskDefinition(ctx, op, name, aws.ToString(svc.TaskDefinition))
	if err != nil {
		return err
	}
	c := appContainer(current.ContainerDefinitions)
	if c == nil {
		return domain.NewDriverError(domain.KindPermanent, op, name, "task definition has no containers", nil)
	}

	taskDef := aws.ToString(current.TaskDefinitionArn)
	if aws.ToString(c.Image) != image {
		registered, err := d.register(ctx, cloneTaskDefinition(current, image))
		if err != nil {
			return driverError(op, name, err)
		}
		taskDef = aws.ToString(registered.TaskDefinitionArn)
	}

	_, err = d.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:        aws.String(d.cluster),
		Service:        aws.String(name),
		TaskDefinition: aws.String(taskDef),
	})
	if err != nil {
		return driverError(op, name, err)
	}
	d.logger.Info("service image set", "workload", name, "image", image, "task_definition", taskDef)
	return nil
}

// Undo points the service at the highest active revision of its family
// below the current one.
func (d *Driver) Undo(ctx context.Context, name string) error {
	op := driver.OpUndo

	svc, err := d.service(ctx, op, name)
	if err != nil {
		return err
	}
	current, err := d.taskDefinition(ctx, op, name, aws.ToString(svc.TaskDefinition))
	if err != nil {
		return err
	}

	previous, err := d.previousRevision(ctx, aws.ToString(current.Family), current.Revision)
	if err != nil {
		return driverError(op, name, err)
	}
	if previous == "" {
		return domain.NewDriverError(domain.KindPermanent, op, name, "no previous revision", nil)
	}

	_, err = d.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:        aws.String(d.cluster),
		Service:        aws.String(name),
		TaskDefinition: aws.String(previous),
	})
	if err != nil {
		return driverError(op, name, err)
	}
	d.logger.Info("service rolled back", "workload", name, "task_definition", previous)
	return nil
}

func (d *Driver) previousRevision(ctx context.Context, family string, current int32) (string, error) {
	var (
		best    string
		bestRev int32 = -1
		token   *string
	)
	for {
		out, err := d.ecs.ListTaskDefinitions(ctx, &ecs.ListTaskDefinitionsInput{
			FamilyPrefix: aws.String(family),
			Status:       ecstypes.TaskDefinitionStatusActive,
			Sort:         ecstypes.SortOrderDesc,
			NextToken:    token,
		})
		if err != nil {
			return "", err
		}
		for _, arn := range out.TaskDefinitionArns {
			fam, rev, ok := parseTaskDefinitionARN(arn)
			if !ok || fam != family {
				continue
			}
			if rev < current && rev > bestRev {
				best, bestRev = arn, rev
			}
		}
		if out.NextToken == nil {
			return best, nil
		}
		token = out.NextToken
	}
}

// parseTaskDefinitionARN splits ".../task-definition/<family>:<revision>".
func parseTaskDefinitionARN(arn string) (family string, revision int32, ok bool) {
	_, ref, found := strings.Cut(arn, "task-definition/")
	if !found {
		ref = arn
	}
	family, rev, found := strings.Cut(ref, ":")
	if !found {
		return "", 0, false
	}
	n, err := strconv.ParseInt(rev, 10, 32)
	if err != nil {
		return "", 0, false
	}
	return family, int32(n), true
}

// =============================================================================
// Readiness
// =============================================================================

// WaitReady polls DescribeServices until a single deployment remains and its
// rollout completed. A FAILED rollout or the timeout end the wait with false.
func (d *Driver) WaitReady(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	d.logger.Info("waiting for service deployment", "workload", name, "timeout", timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		state, err := d.rolloutState(ctx, name)
		switch {
		case err != nil && ctx.Err() != nil:
			return false, nil
		case err != nil && domain.IsTransient(err):
			d.logger.Debug("service poll failed, retrying", "workload", name, "error", err)
		case err != nil:
			return false, err
		case state == rolloutComplete:
			d.logger.Info("service deployment complete", "workload", name)
			return true, nil
		case state == rolloutFailed:
			d.logger.Warn("service deployment failed", "workload", name)
			return false, nil
		}

		select {
		case <-ctx.Done():
			d.logger.Warn("service deployment not complete before timeout", "workload", name, "timeout", timeout)
			return false, nil
		case <-ticker.C:
		}
	}
}

type rolloutPhase int

const (
	rolloutInProgress rolloutPhase = iota
	rolloutComplete
	rolloutFailed
)

func (d *Driver) rolloutState(ctx context.Context, name string) (rolloutPhase, error) {
	svc, err := d.service(ctx, driver.OpWaitReady, name)
	if err != nil {
		return rolloutInProgress, err
	}
	return serviceRollout(svc), nil
}

// serviceRollout derives the rollout phase of svc from its deployments.
func serviceRollout(svc *ecstypes.Service) rolloutPhase {
	for _, dep := range svc.Deployments {
		if dep.RolloutState == ecstypes.DeploymentRolloutStateFailed {
			return rolloutFailed
		}
	}
	if len(svc.Deployments) != 1 {
		return rolloutInProgress
	}

	dep := svc.Deployments[0]
	if dep.RolloutState == ecstypes.DeploymentRolloutStateCompleted {
		return rolloutComplete
	}
	complete := monitoring.RolloutComplete(monitoring.Progress{
		Desired:   int(svc.DesiredCount),
		Updated:   int(dep.RunningCount),
		Ready:     int(dep.RunningCount),
		Available: int(dep.RunningCount),
		Total:     int(svc.RunningCount),
		Observed:  dep.DesiredCount == svc.DesiredCount,
	})
	if complete {
		return rolloutComplete
	}
	return rolloutInProgress
}

// InstanceStatuses lists the tasks of name. An unknown service has none.
func (d *Driver) InstanceStatuses(ctx context.Context, name string) ([]domain.InstanceStatus, error) {
	op := driver.OpInstanceStatuses

	var (
		arns  []string
		token *string
	)
	for {
		out, err := d.ecs.ListTasks(ctx, &ecs.ListTasksInput{
			Cluster:     aws.String(d.cluster),
			ServiceName: aws.String(name),
			NextToken:   token,
		})
		if isNotFound(err) {
			return []domain.InstanceStatus{}, nil
		}
		if err != nil {
			return nil, driverError(op, name, err)
		}
		arns = append(arns, out.TaskArns...)
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}

	statuses := make([]domain.InstanceStatus, 0, len(arns))
	for start := 0; start < len(arns); start += describeTasksBatch {
		end := min(start+describeTasksBatch, len(arns))
		out, err := d.ecs.DescribeTasks(ctx, &ecs.DescribeTasksInput{
			Cluster: aws.String(d.cluster),
			Tasks:   arns[start:end],
		})
		if err != nil {
			return nil, driverError(op, name, err)
		}
		for _, task := range out.Tasks {
			last := aws.ToString(task.LastStatus)
			statuses = append(statuses, domain.InstanceStatus{
				ID:    aws.ToString(task.TaskArn),
				Phase: monitoring.TaskPhase(last),
				Ready: monitoring.TaskReady(last, string(task.HealthStatus)),
			})
		}
	}
	return statuses, nil
}

// =============================================================================
// Traffic
// =============================================================================

// PatchTrafficSelector forwards the configured listener to the target group
// of service's label version.
func (d *Driver) PatchTrafficSelector(ctx context.Context, service, label string) error {
	op := driver.OpPatchTrafficSelector
	if d.elb == nil || d.config.ListenerARN == "" {
		return domain.NewDriverError(domain.KindUnsupported, op, service, "no load balancer listener configured", nil)
	}

	name := deployment.TargetGroupName(service, label)
	arn, err := d.lookupTargetGroup(ctx, name)
	if err != nil {
		return driverError(op, name, err)
	}

	_, err = d.elb.ModifyListener(ctx, &elbv2.ModifyListenerInput{
		ListenerArn: aws.String(d.config.ListenerARN),
		DefaultActions: []elbtypes.Action{{
			Type:           elbtypes.ActionTypeEnumForward,
			TargetGroupArn: aws.String(arn),
		}},
	})
	if err != nil {
		return driverError(op, service, err)
	}
	d.logger.Info("listener switched", "service", service, "version", label, "target_group", name)
	return nil
}

// =============================================================================
// Delete and Describe
// =============================================================================

// DeleteWorkload drains the service and force-deletes it.
func (d *Driver) DeleteWorkload(ctx context.Context, name string) error {
	op := driver.OpDeleteWorkload

	if err := d.Scale(ctx, name, 0); err != nil {
		if isNotFound(err) {
			return nil
		}
		return driverError(op, name, err)
	}

	_, err := d.ecs.DeleteService(ctx, &ecs.DeleteServiceInput{
		Cluster: aws.String(d.cluster),
		Service: aws.String(name),
		Force:   aws.Bool(true),
	})
	if err != nil && !isNotFound(err) {
		return driverError(op, name, err)
	}
	d.logger.Info("service deleted", "workload", name)
	return nil
}

func (d *Driver) Describe(ctx context.Context, name string) (*domain.WorkloadDescription, error) {
	op := driver.OpDescribe

	svc, err := d.service(ctx, op, name)
	if err != nil {
		return nil, err
	}

	desc := &domain.WorkloadDescription{
		Name:              name,
		Namespace:         d.cluster,
		Replicas:          int(svc.DesiredCount),
		ReadyReplicas:     int(svc.RunningCount),
		AvailableReplicas: int(svc.RunningCount),
		Conditions:        []domain.Condition{},
	}
	if svc.TaskDefinition != nil {
		td, err := d.taskDefinition(ctx, op, name, aws.ToString(svc.TaskDefinition))
		if err != nil {
			return nil, err
		}
		if c := appContainer(td.ContainerDefinitions); c != nil {
			desc.Image = aws.ToString(c.Image)
		}
	}
	for _, dep := range svc.Deployments {
		desc.Conditions = append(desc.Conditions, domain.Condition{
			Type:    aws.ToString(dep.Status),
			Status:  string(dep.RolloutState),
			Reason:  aws.ToString(dep.RolloutStateReason),
			Message: fmt.Sprintf("%d/%d tasks running", dep.RunningCount, dep.DesiredCount),
		})
	}
	return desc, nil
}
