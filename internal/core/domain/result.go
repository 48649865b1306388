package domain

import "time"

// =============================================================================
// Run Status
// =============================================================================

// Status is the terminal outcome of a deployment run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// =============================================================================
// Execution Trace
// =============================================================================

// ExecutionStep is one recorded outcome within a run. Steps are immutable
// once appended to a Trace.
type ExecutionStep struct {
	Name    string         `json:"step" yaml:"step"`
	Success bool           `json:"success" yaml:"success"`
	Cleanup bool           `json:"cleanup,omitempty" yaml:"cleanup,omitempty"`
	Detail  map[string]any `json:"detail,omitempty" yaml:"detail,omitempty"`
	At      time.Time      `json:"at" yaml:"at"`
}

// Trace is the causally ordered, append-only step log of one run.
// It is owned by a single executor and not safe for concurrent use.
type Trace struct {
	steps []ExecutionStep
	now   func() time.Time
}

// NewTrace creates an empty trace stamping steps with now.
// A nil now uses time.Now.
func NewTrace(now func() time.Time) *Trace {
	if now == nil {
		now = time.Now
	}
	return &Trace{now: now}
}

// Append records a step and returns the stored copy.
func (t *Trace) Append(step ExecutionStep) ExecutionStep {
	if step.At.IsZero() {
		step.At = t.now().UTC()
	}
	if len(step.Detail) > 0 {
		detail := make(map[string]any, len(step.Detail))
		for k, v := range step.Detail {
			detail[k] = v
		}
		step.Detail = detail
	}
	t.steps = append(t.steps, step)
	return step
}

// Steps returns a copy of the recorded steps in order.
func (t *Trace) Steps() []ExecutionStep {
	out := make([]ExecutionStep, len(t.steps))
	copy(out, t.steps)
	return out
}

// Len returns the number of recorded steps.
func (t *Trace) Len() int { return len(t.steps) }

// FirstFailure returns the index of the first failed step, or -1.
func FirstFailure(steps []ExecutionStep) int {
	for i, s := range steps {
		if !s.Success {
			return i
		}
	}
	return -1
}

// =============================================================================
// Deployment Result
// =============================================================================

// DeploymentResult is the terminal value of one deploy call.
// Active and Standby are only set by a successful blue-green run.
type DeploymentResult struct {
	RunID      string          `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Status     Status          `json:"status" yaml:"status"`
	Name       string          `json:"name,omitempty" yaml:"name,omitempty"`
	Namespace  string          `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Platform   Platform        `json:"platform,omitempty" yaml:"platform,omitempty"`
	Strategy   Strategy        `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Image      string          `json:"image,omitempty" yaml:"image,omitempty"`
	Steps      []ExecutionStep `json:"steps" yaml:"steps"`
	Message    string          `json:"message,omitempty" yaml:"message,omitempty"`
	Active     string          `json:"active,omitempty" yaml:"active,omitempty"`
	Standby    string          `json:"standby,omitempty" yaml:"standby,omitempty"`
	DryRun     bool            `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt time.Time       `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Succeeded reports whether the run ended in StatusSuccess.
func (r DeploymentResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// ErrorResult builds an Error result for cfg carrying message and steps.
func ErrorResult(cfg DeploymentConfig, message string, steps []ExecutionStep) DeploymentResult {
	if steps == nil {
		steps = []ExecutionStep{}
	}
	return DeploymentResult{
		Status:    StatusError,
		Name:      cfg.Name,
		Namespace: cfg.Namespace,
		Platform:  cfg.Platform,
		Strategy:  cfg.Strategy,
		Image:     cfg.Image,
		Steps:     steps,
		Message:   message,
	}
}

// SuccessResult builds a Success result for cfg carrying steps.
func SuccessResult(cfg DeploymentConfig, steps []ExecutionStep) DeploymentResult {
	r := ErrorResult(cfg, "", steps)
	r.Status = StatusSuccess
	return r
}

// =============================================================================
// History
// =============================================================================

// HistoryEntry records one finished run. Entries are never mutated.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	RunID     string    `json:"run_id" yaml:"run_id"`
	Name      string    `json:"name" yaml:"name"`
	Namespace string    `json:"namespace" yaml:"namespace"`
	Platform  Platform  `json:"platform" yaml:"platform"`
	Strategy  Strategy  `json:"strategy" yaml:"strategy"`
	Image     string    `json:"image" yaml:"image"`
	Outcome   Status    `json:"outcome_status" yaml:"outcome_status"`
	Message   string    `json:"message,omitempty" yaml:"message,omitempty"`
}

// NewHistoryEntry derives the history record of a finished run.
func NewHistoryEntry(r DeploymentResult, at time.Time) HistoryEntry {
	return HistoryEntry{
		Timestamp: at.UTC(),
		RunID:     r.RunID,
		Name:      r.Name,
		Namespace: r.Namespace,
		Platform:  r.Platform,
		Strategy:  r.Strategy,
		Image:     r.Image,
		Outcome:   r.Status,
		Message:   r.Message,
	}
}

// =============================================================================
// Rollback Result
// =============================================================================

// RollbackResult is the outcome of an operator-triggered undo.
type RollbackResult struct {
	Status    Status `json:"status" yaml:"status"`
	Name      string `json:"name" yaml:"name"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Message   string `json:"message" yaml:"message"`
}
