package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Registry
// =============================================================================

// Factory builds the live driver of one platform for namespace.
type Factory func(ctx context.Context, namespace string) (Driver, error)

// Registry resolves drivers per platform and namespace. Live drivers are built
// once through their platform factory, wrapped with retries and cached;
// dry-run drivers are cached the same way so a simulated session stays
// coherent.
type Registry struct {
	retry  RetryConfig
	logger *slog.Logger

	mu        sync.Mutex
	factories map[domain.Platform]Factory
	drivers   map[string]Driver
}

// NewRegistry creates an empty registry.
func NewRegistry(retry RetryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		retry:     retry,
		logger:    logger,
		factories: make(map[domain.Platform]Factory),
		drivers:   make(map[string]Driver),
	}
}

// Register installs the factory for platform, replacing any previous one.
func (r *Registry) Register(platform domain.Platform, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[platform] = factory
}

// Platforms lists the platforms with a registered factory.
func (r *Registry) Platforms() []domain.Platform {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Platform
	for _, p := range domain.Platforms {
		if _, ok := r.factories[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Resolve returns the driver for platform and namespace.
func (r *Registry) Resolve(ctx context.Context, platform domain.Platform, namespace string, dryRun bool) (Driver, error) {
	if !platform.IsValid() {
		return nil, domain.NewConfigError("platform", fmt.Sprintf("invalid platform %q", platform))
	}

	key := fmt.Sprintf("%s/%s", platform, namespace)
	if dryRun {
		key = "dry-run/" + key
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.drivers[key]; ok {
		return d, nil
	}

	if dryRun {
		d := NewDryRun(platform, namespace, r.logger)
		r.drivers[key] = d
		return d, nil
	}

	factory, ok := r.factories[platform]
	if !ok {
		return nil, domain.NewDriverError(domain.KindUnsupported, "Resolve", "",
			fmt.Sprintf("no driver configured for platform %s", platform), nil)
	}

	live, err := factory(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("create %s driver for namespace %s: %w", platform, namespace, err)
	}

	d := WithRetry(live, r.retry, r.logger)
	r.drivers[key] = d
	r.logger.Info("driver created", "platform", platform, "namespace", namespace)
	return d, nil
}

// Close releases every cached driver that holds a connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, d := range r.drivers {
		if rd, ok := d.(*Retrying); ok {
			d = rd.Unwrap()
		}
		if c, ok := d.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close driver %s: %w", key, err))
			}
		}
		delete(r.drivers, key)
	}
	return errors.Join(errs...)
}
