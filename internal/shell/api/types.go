package api

import (
	"fmt"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/api/openapi"
)

// =============================================================================
// Request Types
// =============================================================================

// DeployRequest is the request body for starting a deployment. Omitted
// fields take the engine defaults; replicas defaults to 3.
type DeployRequest struct {
	Name           string `json:"name"`
	Namespace      string `json:"namespace,omitempty"`
	Image          string `json:"image"`
	Replicas       *int   `json:"replicas,omitempty"`
	Port           int    `json:"port,omitempty"`
	HealthPath     string `json:"health_path,omitempty"`
	Strategy       string `json:"strategy,omitempty"`
	CanarySteps    []int  `json:"canary_steps,omitempty"`
	CanaryInterval string `json:"canary_interval,omitempty"` // Go duration, e.g. "30s"
	Platform       string `json:"platform,omitempty"`
	DryRun         bool   `json:"dry_run,omitempty"`
}

// Config converts the request into a deployment config.
func (r DeployRequest) Config() (domain.DeploymentConfig, error) {
	cfg := domain.DeploymentConfig{
		Name:        r.Name,
		Namespace:   r.Namespace,
		Image:       r.Image,
		Replicas:    domain.DefaultReplicas,
		Port:        r.Port,
		HealthPath:  r.HealthPath,
		CanarySteps: r.CanarySteps,
		DryRun:      r.DryRun,
	}
	if r.Replicas != nil {
		cfg.Replicas = *r.Replicas
	}
	if r.Strategy != "" {
		s, err := domain.ParseStrategy(r.Strategy)
		if err != nil {
			return cfg, err
		}
		cfg.Strategy = s
	}
	if r.Platform != "" {
		p, err := domain.ParsePlatform(r.Platform)
		if err != nil {
			return cfg, err
		}
		cfg.Platform = p
	}
	if r.CanaryInterval != "" {
		d, err := time.ParseDuration(r.CanaryInterval)
		if err != nil {
			return cfg, domain.NewConfigError("canary_interval", fmt.Sprintf("invalid duration %q", r.CanaryInterval))
		}
		cfg.CanaryInterval = d
	}
	return cfg, nil
}

// =============================================================================
// Response Types
// =============================================================================

// HealthResponse is the response for health checks.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the error document of every endpoint.
type ErrorResponse = openapi.ErrorBody

// HistoryResponse lists finished runs, oldest first.
type HistoryResponse struct {
	Entries []domain.HistoryEntry `json:"entries"`
	Count   int                   `json:"count"`
}

// Error codes.
const (
	CodeValidation = "validation_error"
	CodeNotFound   = "not_found"
	CodeConflict   = "deployment_in_progress"
	CodeFailed     = "deployment_failed"
	CodeInternal   = "internal_error"
)
