package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/docker"
	"github.com/artpar/rollout/internal/shell/driver"
	"github.com/artpar/rollout/internal/shell/ecs"
	"github.com/artpar/rollout/internal/shell/kube"
	"github.com/artpar/rollout/internal/shell/lock"
	"github.com/artpar/rollout/internal/shell/manager"
	"github.com/artpar/rollout/internal/shell/metrics"
	"github.com/artpar/rollout/internal/shell/rollout"
)

// =============================================================================
// App
// =============================================================================

// App wires the deployment engine from configuration. Platform clients are
// created on first use, so a command that only touches one platform never
// needs credentials for the others.
type App struct {
	Manager  *manager.Manager
	Metrics  *metrics.Recorder
	Registry *driver.Registry

	redis  *redis.Client
	logger *slog.Logger
}

// NewApp builds the engine for cfg.
func NewApp(cfg *Config, logger *slog.Logger) (*App, error) {
	app := &App{logger: logger}

	app.Registry = driver.NewRegistry(cfg.Retry, logger)
	registerDrivers(app.Registry, cfg, logger)

	locker, err := app.newLocker(cfg.Lock)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		app.Metrics = metrics.New(reg)
	}

	app.Manager = manager.New(manager.Options{
		Resolver: app.Registry,
		Rollout: rollout.Options{
			RollingTimeout:   cfg.Deploy.RollingTimeout,
			BlueGreenTimeout: cfg.Deploy.BlueGreenTimeout,
			CleanupTimeout:   cfg.Deploy.CleanupTimeout,
		},
		Health:   cfg.Health,
		Locker:   locker,
		LockTTL:  cfg.Lock.TTL,
		LockWait: cfg.Deploy.LockWait,
		Metrics:  app.Metrics,
		Logger:   logger,
	})
	return app, nil
}

// Close releases driver connections and the lock backend.
func (a *App) Close() error {
	var errs []error
	if err := a.Registry.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) newLocker(cfg LockConfig) (lock.Locker, error) {
	switch cfg.Backend {
	case LockBackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.logger.Info("using redis lock backend", "addr", cfg.Redis.Addr)
		return lock.NewRedis(a.redis, cfg.Redis.Prefix), nil
	case LockBackendLocal, "":
		return lock.NewLocal(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// =============================================================================
// Driver Factories
// =============================================================================

// registerDrivers installs one factory per platform. The registry serialises
// factory calls, so the shared clients below need no locking of their own.
func registerDrivers(reg *driver.Registry, cfg *Config, logger *slog.Logger) {
	var clientset kubernetes.Interface
	reg.Register(domain.PlatformClusterOrchestrator, func(ctx context.Context, namespace string) (driver.Driver, error) {
		if clientset == nil {
			cs, err := kube.NewClientset(cfg.Kubernetes)
			if err != nil {
				return nil, err
			}
			clientset = cs
		}
		return kube.NewDriver(clientset, namespace, cfg.Kubernetes, logger), nil
	})

	var (
		ecsClient ecs.ServiceAPI
		elbClient ecs.LoadBalancerAPI
	)
	reg.Register(domain.PlatformManagedContainerService, func(ctx context.Context, cluster string) (driver.Driver, error) {
		if ecsClient == nil {
			svc, lb, err := ecs.NewClients(cfg.ECS)
			if err != nil {
				return nil, err
			}
			ecsClient, elbClient = svc, lb
		}
		return ecs.NewDriver(ecsClient, elbClient, cluster, cfg.ECS, logger), nil
	})

	// Each Docker driver owns its client; the registry closes it.
	reg.Register(domain.PlatformContainerEngine, func(ctx context.Context, namespace string) (driver.Driver, error) {
		client, err := docker.NewDockerClient(ctx, cfg.Docker.Host)
		if err != nil {
			return nil, err
		}
		return docker.NewDriver(client, namespace, cfg.Docker.DriverConfig, logger), nil
	})
}
