package domain

import "fmt"

// =============================================================================
// Config Validation (Pure Functions)
// =============================================================================

// ValidateConfig checks a DeploymentConfig before any driver call.
// Canary steps are only checked when the canary strategy is selected.
// The first violation is returned as a *ConfigError.
func ValidateConfig(c DeploymentConfig) error {
	if c.Name == "" {
		return NewConfigError("name", "deployment name is required")
	}
	if c.Image == "" {
		return NewConfigError("image", "container image is required")
	}
	if !c.Strategy.IsValid() {
		return NewConfigError("strategy", fmt.Sprintf("invalid strategy %q", c.Strategy))
	}
	if c.Replicas < 0 {
		return NewConfigError("replicas", fmt.Sprintf("must be >= 0, got %d", c.Replicas))
	}
	if c.Port < 1 || c.Port > 65535 {
		return NewConfigError("port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Port))
	}
	if !c.Platform.IsValid() {
		return NewConfigError("platform", fmt.Sprintf("invalid platform %q", c.Platform))
	}
	if c.CanaryInterval < 0 {
		return NewConfigError("canary_interval", "must not be negative")
	}
	if c.Strategy == StrategyCanary {
		if err := ValidateCanarySteps(c.CanarySteps); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCanarySteps checks that steps are positive, strictly increasing and
// end at 100. A list lacking a final 100 is rejected, never completed.
func ValidateCanarySteps(steps []int) error {
	if len(steps) == 0 {
		return NewConfigError("canary_steps", "at least one step is required")
	}
	prev := 0
	for i, p := range steps {
		if p <= 0 || p > 100 {
			return NewConfigError("canary_steps", fmt.Sprintf("step %d: percentage %d out of range 1-100", i, p))
		}
		if p <= prev {
			return NewConfigError("canary_steps", fmt.Sprintf("step %d: percentage %d does not increase on %d", i, p, prev))
		}
		prev = p
	}
	if prev != 100 {
		return NewConfigError("canary_steps", fmt.Sprintf("last step must be 100, got %d", prev))
	}
	return nil
}
