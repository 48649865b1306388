package driver

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Retry Decorator
// =============================================================================

// RetryConfig bounds the retry of transient driver failures.
type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// DefaultRetryConfig returns the retry bounds used when none are configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxTries == 0 {
		c.MaxTries = def.MaxTries
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	return c
}

// Retrying wraps a Driver and retries calls that fail with a transient
// DriverError. Permanent failures return immediately. WaitReady is passed
// through untouched because it already owns its timeout.
type Retrying struct {
	next   Driver
	cfg    RetryConfig
	logger *slog.Logger
}

// WithRetry decorates next with exponential-backoff retries.
func WithRetry(next Driver, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		next:   next,
		cfg:    cfg.normalized(),
		logger: logger.With("component", "driver_retry", "platform", next.Platform()),
	}
}

// Unwrap returns the decorated driver.
func (r *Retrying) Unwrap() Driver { return r.next }

func (r *Retrying) Platform() domain.Platform { return r.next.Platform() }

func (r *Retrying) ApplyWorkload(ctx context.Context, spec domain.WorkloadSpec) error {
	return r.do(ctx, OpApplyWorkload, spec.Name, func() error { return r.next.ApplyWorkload(ctx, spec) })
}

func (r *Retrying) Scale(ctx context.Context, name string, replicas int) error {
	return r.do(ctx, OpScale, name, func() error { return r.next.Scale(ctx, name, replicas) })
}

func (r *Retrying) SetImage(ctx context.Context, name, image string) error {
	return r.do(ctx, OpSetImage, name, func() error { return r.next.SetImage(ctx, name, image) })
}

func (r *Retrying) WaitReady(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	return r.next.WaitReady(ctx, name, timeout)
}

func (r *Retrying) InstanceStatuses(ctx context.Context, name string) ([]domain.InstanceStatus, error) {
	return retryValue(ctx, r, OpInstanceStatuses, name, func() ([]domain.InstanceStatus, error) {
		return r.next.InstanceStatuses(ctx, name)
	})
}

func (r *Retrying) PatchTrafficSelector(ctx context.Context, service, label string) error {
	return r.do(ctx, OpPatchTrafficSelector, service, func() error { return r.next.PatchTrafficSelector(ctx, service, label) })
}

func (r *Retrying) DeleteWorkload(ctx context.Context, name string) error {
	return r.do(ctx, OpDeleteWorkload, name, func() error { return r.next.DeleteWorkload(ctx, name) })
}

func (r *Retrying) Describe(ctx context.Context, name string) (*domain.WorkloadDescription, error) {
	return retryValue(ctx, r, OpDescribe, name, func() (*domain.WorkloadDescription, error) {
		return r.next.Describe(ctx, name)
	})
}

func (r *Retrying) Undo(ctx context.Context, name string) error {
	return r.do(ctx, OpUndo, name, func() error { return r.next.Undo(ctx, name) })
}

func (r *Retrying) do(ctx context.Context, op, name string, fn func() error) error {
	_, err := retryValue(ctx, r, op, name, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func retryValue[T any](ctx context.Context, r *Retrying, op, name string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil && !domain.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("transient driver error, retrying",
			"op", op,
			"name", name,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxTries),
		backoff.WithNotify(notify),
	)
}
