// Package deployment provides pure functions for rollout planning.
//
// This package contains the functional core shared by the strategy executors
// and the platform drivers. All functions are pure (no I/O, no side effects).
//
// # Functions
//
//   - Naming: Derive workload names and version labels (BlueName, GreenName, CanaryName, SplitWorkloadName)
//   - Canary: Split a replica budget between canary and stable (CanarySplit)
//   - Container: Build container plans for the container engine (BuildContainerPlan)
//   - Manifests: Build Kubernetes objects and compose projects (BuildDeployment, BuildService, BuildComposeProject)
//
// # Usage
//
// The imperative shell (internal/shell/rollout and the platform drivers) uses
// these pure functions to plan each step, then executes it via a driver.
//
//	green := deployment.GreenName(cfg.Name)
//	canary, stable := deployment.CanarySplit(cfg.Replicas, 25)
//	obj := deployment.BuildDeployment(namespace, spec)
package deployment
