package docker

import (
	"errors"
	"fmt"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")

	// Network errors
	ErrNetworkNotFound      = errors.New("network not found")
	ErrNetworkAlreadyExists = errors.New("network already exists")

	// Image errors
	ErrImageNotFound   = errors.New("image not found")
	ErrImagePullFailed = errors.New("image pull failed")

	// Connection errors
	ErrConnectionFailed = errors.New("docker connection failed")
	ErrTimeout          = errors.New("operation timed out")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, network, image)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// driverError classifies a client error for the engine. Lost connections
// and timeouts are worth retrying; a missing image or a conflicting name is
// not.
func driverError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.DriverError
	if errors.As(err, &de) {
		return err
	}

	kind := domain.KindPermanent
	switch {
	case errors.Is(err, ErrContainerNotFound), errors.Is(err, ErrNetworkNotFound):
		kind = domain.KindNotFound
	case errors.Is(err, ErrConnectionFailed), errors.Is(err, ErrTimeout):
		kind = domain.KindTransient
	}
	return domain.NewDriverError(kind, op, name, err.Error(), err)
}
