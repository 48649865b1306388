// Package kube drives workloads on a Kubernetes cluster through client-go.
// A workload is an apps/v1 Deployment; traffic flows through a Service named
// after the service whose selector may pin a version label.
package kube

import (
	"fmt"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Config selects the cluster and tunes the driver.
type Config struct {
	// Kubeconfig is the kubeconfig path. Empty uses the default loading
	// rules ($KUBECONFIG, ~/.kube/config) and falls back to the in-cluster
	// service account.
	Kubeconfig string `mapstructure:"kubeconfig"`

	// Context overrides the kubeconfig's current context.
	Context string `mapstructure:"context"`

	// PollInterval is the rollout status poll cadence. Default: 2 seconds.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second}
}

// RESTConfig resolves the client configuration for cfg.
func RESTConfig(cfg Config) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if cfg.Kubeconfig != "" {
		rules.ExplicitPath = cfg.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: cfg.Context}

	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err == nil {
		return restCfg, nil
	}
	if cfg.Kubeconfig != "" || cfg.Context != "" {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}

	inCluster, inErr := rest.InClusterConfig()
	if inErr != nil {
		return nil, fmt.Errorf("load kubeconfig: %w (in-cluster: %v)", err, inErr)
	}
	return inCluster, nil
}

// NewClientset builds a clientset for cfg.
func NewClientset(cfg Config) (kubernetes.Interface, error) {
	restCfg, err := RESTConfig(cfg)
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}
	return cs, nil
}
