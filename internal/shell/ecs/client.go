// Package ecs drives workloads on Amazon ECS. A namespace is an ECS cluster,
// a workload is an ECS service whose task definition family carries the same
// name, and blue-green traffic is switched on an ELBv2 listener.
package ecs

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the AWS account and service placement settings.
type Config struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// ListenerARN is the ELBv2 listener switched by blue-green deployments.
	// Empty disables traffic switching.
	ListenerARN string `mapstructure:"listener_arn"`

	// LaunchType is FARGATE or EC2. Default: FARGATE.
	LaunchType string `mapstructure:"launch_type"`

	Subnets        []string `mapstructure:"subnets"`
	SecurityGroups []string `mapstructure:"security_groups"`
	AssignPublicIP bool     `mapstructure:"assign_public_ip"`

	// Task size, in ECS units. Defaults: 256 CPU, 512 MiB.
	CPU    string `mapstructure:"cpu"`
	Memory string `mapstructure:"memory"`

	ExecutionRoleARN string `mapstructure:"execution_role_arn"`

	// PollInterval is the DescribeServices cadence while waiting. Default: 5 seconds.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		LaunchType:   "FARGATE",
		CPU:          "256",
		Memory:       "512",
		PollInterval: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.LaunchType == "" {
		c.LaunchType = def.LaunchType
	}
	if c.CPU == "" {
		c.CPU = def.CPU
	}
	if c.Memory == "" {
		c.Memory = def.Memory
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	return c
}

// =============================================================================
// API Interfaces
// =============================================================================

// ServiceAPI is the subset of the ECS client the driver calls.
type ServiceAPI interface {
	RegisterTaskDefinition(ctx context.Context, params *ecs.RegisterTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	DescribeTaskDefinition(ctx context.Context, params *ecs.DescribeTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error)
	ListTaskDefinitions(ctx context.Context, params *ecs.ListTaskDefinitionsInput, optFns ...func(*ecs.Options)) (*ecs.ListTaskDefinitionsOutput, error)
	CreateService(ctx context.Context, params *ecs.CreateServiceInput, optFns ...func(*ecs.Options)) (*ecs.CreateServiceOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	DeleteService(ctx context.Context, params *ecs.DeleteServiceInput, optFns ...func(*ecs.Options)) (*ecs.DeleteServiceOutput, error)
	ListTasks(ctx context.Context, params *ecs.ListTasksInput, optFns ...func(*ecs.Options)) (*ecs.ListTasksOutput, error)
	DescribeTasks(ctx context.Context, params *ecs.DescribeTasksInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTasksOutput, error)
}

// LoadBalancerAPI is the subset of the ELBv2 client the driver calls.
type LoadBalancerAPI interface {
	DescribeTargetGroups(ctx context.Context, params *elbv2.DescribeTargetGroupsInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetGroupsOutput, error)
	ModifyListener(ctx context.Context, params *elbv2.ModifyListenerInput, optFns ...func(*elbv2.Options)) (*elbv2.ModifyListenerOutput, error)
}

var (
	_ ServiceAPI      = (*ecs.Client)(nil)
	_ LoadBalancerAPI = (*elbv2.Client)(nil)
)

// NewClients creates the ECS and ELBv2 clients for cfg using static
// credentials.
func NewClients(cfg Config) (*ecs.Client, *elbv2.Client, error) {
	if cfg.Region == "" {
		return nil, nil, errors.New("ecs region is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, nil, errors.New("ecs access key id and secret access key are required")
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	ecsClient := ecs.New(ecs.Options{Region: cfg.Region, Credentials: creds})
	elbClient := elbv2.New(elbv2.Options{Region: cfg.Region, Credentials: creds})
	return ecsClient, elbClient, nil
}
