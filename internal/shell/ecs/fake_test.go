package ecs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
)

// =============================================================================
// In-memory ECS
// =============================================================================

type fakeECS struct {
	mu        sync.Mutex
	services  map[string]*ecstypes.Service
	taskDefs  map[string]*ecstypes.TaskDefinition
	revisions map[string]int32
	tasks     map[string][]ecstypes.Task
	calls     []string

	updateErr error
}

func newFakeECS() *fakeECS {
	return &fakeECS{
		services:  make(map[string]*ecstypes.Service),
		taskDefs:  make(map[string]*ecstypes.TaskDefinition),
		revisions: make(map[string]int32),
		tasks:     make(map[string][]ecstypes.Task),
	}
}

func taskDefinitionARN(family string, revision int32) string {
	return fmt.Sprintf("arn:aws:ecs:us-east-1:123456789012:task-definition/%s:%d", family, revision)
}

func (f *fakeECS) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeECS) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeECS) serviceNotFound() error {
	return &ecstypes.ServiceNotFoundException{Message: aws.String("Service not found.")}
}

func (f *fakeECS) get(name string) *ecstypes.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.services[name]
}

func (f *fakeECS) RegisterTaskDefinition(_ context.Context, in *ecs.RegisterTaskDefinitionInput, _ ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RegisterTaskDefinition")

	family := aws.ToString(in.Family)
	f.revisions[family]++
	rev := f.revisions[family]
	td := &ecstypes.TaskDefinition{
		TaskDefinitionArn:       aws.String(taskDefinitionARN(family, rev)),
		Family:                  in.Family,
		Revision:                rev,
		ContainerDefinitions:    in.ContainerDefinitions,
		Cpu:                     in.Cpu,
		Memory:                  in.Memory,
		NetworkMode:             in.NetworkMode,
		RequiresCompatibilities: in.RequiresCompatibilities,
		ExecutionRoleArn:        in.ExecutionRoleArn,
	}
	f.taskDefs[*td.TaskDefinitionArn] = td
	return &ecs.RegisterTaskDefinitionOutput{TaskDefinition: td}, nil
}

func (f *fakeECS) DescribeTaskDefinition(_ context.Context, in *ecs.DescribeTaskDefinitionInput, _ ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	td, ok := f.taskDefs[aws.ToString(in.TaskDefinition)]
	if !ok {
		return nil, &ecstypes.ClientException{Message: aws.String("Unable to describe task definition.")}
	}
	return &ecs.DescribeTaskDefinitionOutput{TaskDefinition: td}, nil
}

func (f *fakeECS) ListTaskDefinitions(_ context.Context, in *ecs.ListTaskDefinitionsInput, _ ...func(*ecs.Options)) (*ecs.ListTaskDefinitionsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var arns []string
	for arn, td := range f.taskDefs {
		if aws.ToString(td.Family) == aws.ToString(in.FamilyPrefix) {
			arns = append(arns, arn)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(arns)))
	return &ecs.ListTaskDefinitionsOutput{TaskDefinitionArns: arns}, nil
}

func (f *fakeECS) CreateService(_ context.Context, in *ecs.CreateServiceInput, _ ...func(*ecs.Options)) (*ecs.CreateServiceOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateService")

	desired := aws.ToInt32(in.DesiredCount)
	svc := &ecstypes.Service{
		ServiceName:    in.ServiceName,
		Status:         aws.String(serviceActive),
		DesiredCount:   desired,
		RunningCount:   desired,
		TaskDefinition: in.TaskDefinition,
		LaunchType:     in.LaunchType,
		LoadBalancers:  in.LoadBalancers,
		Deployments: []ecstypes.Deployment{{
			Status:         aws.String("PRIMARY"),
			RolloutState:   ecstypes.DeploymentRolloutStateCompleted,
			DesiredCount:   desired,
			RunningCount:   desired,
			TaskDefinition: in.TaskDefinition,
		}},
	}
	f.services[aws.ToString(in.ServiceName)] = svc
	return &ecs.CreateServiceOutput{Service: svc}, nil
}

func (f *fakeECS) UpdateService(_ context.Context, in *ecs.UpdateServiceInput, _ ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateService")

	if f.updateErr != nil {
		return nil, f.updateErr
	}
	svc, ok := f.services[aws.ToString(in.Service)]
	if !ok {
		return nil, f.serviceNotFound()
	}
	if aws.ToString(svc.Status) != serviceActive {
		return nil, &ecstypes.ServiceNotActiveException{Message: aws.String("Service was not ACTIVE.")}
	}
	if in.DesiredCount != nil {
		svc.DesiredCount = *in.DesiredCount
		svc.RunningCount = *in.DesiredCount
	}
	if in.TaskDefinition != nil {
		svc.TaskDefinition = in.TaskDefinition
	}
	return &ecs.UpdateServiceOutput{Service: svc}, nil
}

func (f *fakeECS) DescribeServices(_ context.Context, in *ecs.DescribeServicesInput, _ ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &ecs.DescribeServicesOutput{}
	for _, name := range in.Services {
		if svc, ok := f.services[name]; ok {
			out.Services = append(out.Services, *svc)
			continue
		}
		out.Failures = append(out.Failures, ecstypes.Failure{Arn: aws.String(name), Reason: aws.String("MISSING")})
	}
	return out, nil
}

func (f *fakeECS) DeleteService(_ context.Context, in *ecs.DeleteServiceInput, _ ...func(*ecs.Options)) (*ecs.DeleteServiceOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteService")

	svc, ok := f.services[aws.ToString(in.Service)]
	if !ok {
		return nil, f.serviceNotFound()
	}
	svc.Status = aws.String("INACTIVE")
	return &ecs.DeleteServiceOutput{Service: svc}, nil
}

func (f *fakeECS) ListTasks(_ context.Context, in *ecs.ListTasksInput, _ ...func(*ecs.Options)) (*ecs.ListTasksOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.ServiceName)
	if _, ok := f.services[name]; !ok {
		return nil, f.serviceNotFound()
	}
	out := &ecs.ListTasksOutput{}
	for _, t := range f.tasks[name] {
		out.TaskArns = append(out.TaskArns, aws.ToString(t.TaskArn))
	}
	return out, nil
}

func (f *fakeECS) DescribeTasks(_ context.Context, in *ecs.DescribeTasksInput, _ ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[string]bool, len(in.Tasks))
	for _, arn := range in.Tasks {
		wanted[arn] = true
	}
	out := &ecs.DescribeTasksOutput{}
	for _, tasks := range f.tasks {
		for _, t := range tasks {
			if wanted[aws.ToString(t.TaskArn)] {
				out.Tasks = append(out.Tasks, t)
			}
		}
	}
	return out, nil
}

// =============================================================================
// In-memory ELBv2
// =============================================================================

type fakeELB struct {
	mu           sync.Mutex
	targetGroups map[string]string
	forwardTo    string
}

func newFakeELB(groups ...string) *fakeELB {
	f := &fakeELB{targetGroups: make(map[string]string)}
	for _, name := range groups {
		f.targetGroups[name] = "arn:aws:elasticloadbalancing:us-east-1:123456789012:targetgroup/" + name
	}
	return f
}

func (f *fakeELB) DescribeTargetGroups(_ context.Context, in *elbv2.DescribeTargetGroupsInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeTargetGroupsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &elbv2.DescribeTargetGroupsOutput{}
	for _, name := range in.Names {
		arn, ok := f.targetGroups[name]
		if !ok {
			return nil, &elbtypes.TargetGroupNotFoundException{Message: aws.String("One or more target groups not found")}
		}
		out.TargetGroups = append(out.TargetGroups, elbtypes.TargetGroup{TargetGroupName: aws.String(name), TargetGroupArn: aws.String(arn)})
	}
	return out, nil
}

func (f *fakeELB) ModifyListener(_ context.Context, in *elbv2.ModifyListenerInput, _ ...func(*elbv2.Options)) (*elbv2.ModifyListenerOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range in.DefaultActions {
		if a.Type == elbtypes.ActionTypeEnumForward {
			f.forwardTo = aws.ToString(a.TargetGroupArn)
		}
	}
	return &elbv2.ModifyListenerOutput{}, nil
}

func (f *fakeELB) forwarded() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forwardTo
}
