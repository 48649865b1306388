// Package domain holds the value types of the rollout engine: deployment
// configuration, execution traces, results and the error taxonomy.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Strategy
// =============================================================================

// Strategy selects the rollout state machine.
type Strategy string

const (
	StrategyRolling   Strategy = "rolling"
	StrategyBlueGreen Strategy = "blue_green"
	StrategyCanary    Strategy = "canary"
)

// Strategies lists every known strategy in display order.
var Strategies = []Strategy{StrategyRolling, StrategyBlueGreen, StrategyCanary}

// IsValid reports whether s is a known strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyRolling, StrategyBlueGreen, StrategyCanary:
		return true
	}
	return false
}

func (s Strategy) String() string { return string(s) }

// ParseStrategy parses a strategy name. The dashed spelling used by older
// tooling ("blue-green") is accepted.
func ParseStrategy(s string) (Strategy, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	st := Strategy(normalized)
	if !st.IsValid() {
		return "", NewConfigError("strategy", fmt.Sprintf("unknown strategy %q", s))
	}
	return st, nil
}

// =============================================================================
// Platform
// =============================================================================

// Platform selects the ClusterDriver implementation.
type Platform string

const (
	// PlatformClusterOrchestrator is a Kubernetes cluster.
	PlatformClusterOrchestrator Platform = "cluster_orchestrator"
	// PlatformManagedContainerService is AWS ECS.
	PlatformManagedContainerService Platform = "managed_container_service"
	// PlatformContainerEngine is a single Docker host.
	PlatformContainerEngine Platform = "container_engine"
)

// Platforms lists every known platform.
var Platforms = []Platform{PlatformClusterOrchestrator, PlatformManagedContainerService, PlatformContainerEngine}

// IsValid reports whether p is a known platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformClusterOrchestrator, PlatformManagedContainerService, PlatformContainerEngine:
		return true
	}
	return false
}

func (p Platform) String() string { return string(p) }

var platformAliases = map[string]Platform{
	"kubernetes": PlatformClusterOrchestrator,
	"k8s":        PlatformClusterOrchestrator,
	"ecs":        PlatformManagedContainerService,
	"docker":     PlatformContainerEngine,
}

// ParsePlatform parses a platform name or one of its aliases
// (kubernetes, k8s, ecs, docker).
func ParsePlatform(s string) (Platform, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if p, ok := platformAliases[normalized]; ok {
		return p, nil
	}
	p := Platform(normalized)
	if !p.IsValid() {
		return "", NewConfigError("platform", fmt.Sprintf("unknown platform %q", s))
	}
	return p, nil
}

// =============================================================================
// Deployment Config
// =============================================================================

// Defaults applied by NewDeploymentConfig and WithDefaults.
const (
	DefaultNamespace      = "default"
	DefaultReplicas       = 3
	DefaultPort           = 8080
	DefaultHealthPath     = "/health"
	DefaultStrategy       = StrategyRolling
	DefaultPlatform       = PlatformClusterOrchestrator
	DefaultCanaryInterval = 30 * time.Second
)

// DefaultCanarySteps returns a fresh copy of the default canary percentages.
func DefaultCanarySteps() []int {
	return []int{10, 25, 50, 100}
}

// DeploymentConfig describes one requested deployment. It is built once per
// deploy call and treated as immutable afterwards.
//
// CanarySteps is only meaningful for StrategyCanary and is validated when
// that strategy is selected, so one config type serves every strategy.
type DeploymentConfig struct {
	Name           string        `json:"name" yaml:"name"`
	Namespace      string        `json:"namespace" yaml:"namespace"`
	Image          string        `json:"image" yaml:"image"`
	Replicas       int           `json:"replicas" yaml:"replicas"`
	Port           int           `json:"port" yaml:"port"`
	HealthPath     string        `json:"health_path" yaml:"health_path"`
	Strategy       Strategy      `json:"strategy" yaml:"strategy"`
	CanarySteps    []int         `json:"canary_steps,omitempty" yaml:"canary_steps,omitempty"`
	CanaryInterval time.Duration `json:"canary_interval,omitempty" yaml:"canary_interval,omitempty"`
	Platform       Platform      `json:"platform" yaml:"platform"`
	// DryRun routes every driver call to a simulated platform.
	DryRun bool `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// NewDeploymentConfig returns a config for name and image with every other
// field at its default.
func NewDeploymentConfig(name, image string) DeploymentConfig {
	return DeploymentConfig{Name: name, Image: image, Replicas: DefaultReplicas}.WithDefaults()
}

// WithDefaults returns a copy of c with empty optional fields set to their
// defaults. Replicas is never touched: zero is a valid replica count.
func (c DeploymentConfig) WithDefaults() DeploymentConfig {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.Strategy == "" {
		c.Strategy = DefaultStrategy
	}
	if c.Platform == "" {
		c.Platform = DefaultPlatform
	}
	if len(c.CanarySteps) == 0 {
		c.CanarySteps = DefaultCanarySteps()
	} else {
		c.CanarySteps = append([]int(nil), c.CanarySteps...)
	}
	if c.CanaryInterval == 0 {
		c.CanaryInterval = DefaultCanaryInterval
	}
	return c
}

// Ref returns the workload reference this config deploys to.
func (c DeploymentConfig) Ref() WorkloadRef {
	return WorkloadRef{Name: c.Name, Namespace: c.Namespace, Platform: c.Platform, DryRun: c.DryRun}
}

// =============================================================================
// Workload Reference
// =============================================================================

// WorkloadRef addresses a workload for status and rollback queries.
type WorkloadRef struct {
	Name      string   `json:"name"`
	Namespace string   `json:"namespace"`
	Platform  Platform `json:"platform"`
	DryRun    bool     `json:"dry_run,omitempty"`
}

// Key returns the lock key of the workload, unique per platform and namespace.
// Simulated runs never contend with real ones.
func (r WorkloadRef) Key() string {
	key := fmt.Sprintf("%s/%s/%s", r.Platform, r.Namespace, r.Name)
	if r.DryRun {
		return "dry-run/" + key
	}
	return key
}

func (r WorkloadRef) String() string {
	return r.Namespace + "/" + r.Name
}
