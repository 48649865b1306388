package driver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/driver"
	"github.com/artpar/rollout/internal/shell/driver/drivertest"
)

type closingFake struct {
	*drivertest.Fake
	closed bool
}

func (c *closingFake) Close() error {
	c.closed = true
	return nil
}

func TestRegistry_ResolveCachesPerNamespace(t *testing.T) {
	r := driver.NewRegistry(fastRetry(), nil)
	built := 0
	r.Register(domain.PlatformClusterOrchestrator, func(ctx context.Context, namespace string) (driver.Driver, error) {
		built++
		return drivertest.New(), nil
	})

	ctx := context.Background()
	a, err := r.Resolve(ctx, domain.PlatformClusterOrchestrator, "prod", false)
	require.NoError(t, err)
	b, err := r.Resolve(ctx, domain.PlatformClusterOrchestrator, "prod", false)
	require.NoError(t, err)
	c, err := r.Resolve(ctx, domain.PlatformClusterOrchestrator, "staging", false)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, built)
	assert.IsType(t, &driver.Retrying{}, a)
}

func TestRegistry_DryRunNeverBuildsLiveDriver(t *testing.T) {
	r := driver.NewRegistry(fastRetry(), nil)
	r.Register(domain.PlatformManagedContainerService, func(ctx context.Context, namespace string) (driver.Driver, error) {
		t.Fatal("factory must not be called in dry-run mode")
		return nil, nil
	})

	d, err := r.Resolve(context.Background(), domain.PlatformManagedContainerService, "cluster", true)
	require.NoError(t, err)
	assert.IsType(t, &driver.DryRun{}, d)
	assert.Equal(t, domain.PlatformManagedContainerService, d.Platform())
}

func TestRegistry_UnknownPlatform(t *testing.T) {
	r := driver.NewRegistry(fastRetry(), nil)

	_, err := r.Resolve(context.Background(), domain.PlatformContainerEngine, "default", false)
	assert.ErrorIs(t, err, domain.ErrUnsupported)

	_, err = r.Resolve(context.Background(), "nomad", "default", false)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestRegistry_FactoryError(t *testing.T) {
	r := driver.NewRegistry(fastRetry(), nil)
	boom := errors.New("no kubeconfig")
	r.Register(domain.PlatformClusterOrchestrator, func(ctx context.Context, namespace string) (driver.Driver, error) {
		return nil, boom
	})

	_, err := r.Resolve(context.Background(), domain.PlatformClusterOrchestrator, "default", false)
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_CloseClosesDrivers(t *testing.T) {
	r := driver.NewRegistry(fastRetry(), nil)
	cf := &closingFake{Fake: drivertest.New()}
	r.Register(domain.PlatformContainerEngine, func(ctx context.Context, namespace string) (driver.Driver, error) {
		return cf, nil
	})

	_, err := r.Resolve(context.Background(), domain.PlatformContainerEngine, "default", false)
	require.NoError(t, err)
	assert.Equal(t, []domain.Platform{domain.PlatformContainerEngine}, r.Platforms())

	require.NoError(t, r.Close())
	assert.True(t, cf.closed)
}
