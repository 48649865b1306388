package domain

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrInvalidConfig is wrapped by every ConfigError.
	ErrInvalidConfig = errors.New("invalid deployment configuration")

	// ErrNotFound is wrapped by driver errors of kind not_found.
	ErrNotFound = errors.New("workload not found")

	// ErrTransient is wrapped by driver errors that may succeed on retry.
	ErrTransient = errors.New("transient platform error")

	// ErrUnsupported is wrapped by driver errors for operations the
	// platform cannot perform.
	ErrUnsupported = errors.New("operation not supported by platform")

	// ErrHealthTimeout is wrapped by HealthTimeoutError.
	ErrHealthTimeout = errors.New("health wait timed out")

	// ErrInternal marks a broken invariant inside the engine.
	ErrInternal = errors.New("internal error")

	// ErrDeploymentInProgress is returned when the workload is locked by
	// another run.
	ErrDeploymentInProgress = errors.New("deployment already in progress")
)

// =============================================================================
// Config Error
// =============================================================================

// ConfigError rejects a DeploymentConfig before any driver call is made.
// It is always recoverable by correcting the input.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// =============================================================================
// Driver Error
// =============================================================================

// DriverErrorKind classifies platform failures.
type DriverErrorKind string

const (
	KindTransient   DriverErrorKind = "transient"
	KindPermanent   DriverErrorKind = "permanent"
	KindNotFound    DriverErrorKind = "not_found"
	KindUnsupported DriverErrorKind = "unsupported"
	KindTimeout     DriverErrorKind = "timeout"
)

// DriverError reports a failed platform call.
type DriverError struct {
	Kind    DriverErrorKind
	Op      string // Driver operation (e.g., "SetImage")
	Name    string // Workload name if applicable
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Name, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is.
func (e *DriverError) Unwrap() []error {
	errs := make([]error, 0, 2)
	switch e.Kind {
	case KindNotFound:
		errs = append(errs, ErrNotFound)
	case KindTransient:
		errs = append(errs, ErrTransient)
	case KindUnsupported:
		errs = append(errs, ErrUnsupported)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewDriverError creates a new DriverError.
func NewDriverError(kind DriverErrorKind, op, name, message string, err error) *DriverError {
	return &DriverError{
		Kind:    kind,
		Op:      op,
		Name:    name,
		Message: message,
		Err:     err,
	}
}

// IsTransient reports whether err is a driver error worth retrying.
func IsTransient(err error) bool {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Kind == KindTransient
	}
	return false
}

// =============================================================================
// Health Timeout Error
// =============================================================================

// HealthTimeoutError reports a readiness wait that exceeded its bound.
// It always triggers cleanup and is never retried.
type HealthTimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *HealthTimeoutError) Error() string {
	return fmt.Sprintf("%s not ready after %s", e.Name, e.Timeout)
}

func (e *HealthTimeoutError) Unwrap() error {
	return ErrHealthTimeout
}
