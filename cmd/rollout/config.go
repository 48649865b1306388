package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/docker"
	"github.com/artpar/rollout/internal/shell/driver"
	"github.com/artpar/rollout/internal/shell/ecs"
	"github.com/artpar/rollout/internal/shell/health"
	"github.com/artpar/rollout/internal/shell/kube"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Log        LogConfig            `mapstructure:"log"`
	Server     ServerConfig         `mapstructure:"server"`
	Deploy     DeployConfig         `mapstructure:"deploy"`
	Health     health.CheckerConfig `mapstructure:"health"`
	Retry      driver.RetryConfig   `mapstructure:"retry"`
	Kubernetes kube.Config          `mapstructure:"kubernetes"`
	ECS        ecs.Config           `mapstructure:"ecs"`
	Docker     DockerConfig         `mapstructure:"docker"`
	Lock       LockConfig           `mapstructure:"lock"`
	Metrics    MetricsConfig        `mapstructure:"metrics"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// URL returns the base URL clients use to reach the server. A wildcard host
// is reached through loopback.
func (c ServerConfig) URL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// DeployConfig holds the defaults and bounds applied to every deployment.
type DeployConfig struct {
	Namespace string `mapstructure:"namespace"`
	Platform  string `mapstructure:"platform"`

	RollingTimeout   time.Duration `mapstructure:"rolling_timeout"`
	BlueGreenTimeout time.Duration `mapstructure:"blue_green_timeout"`
	CanaryInterval   time.Duration `mapstructure:"canary_interval"`
	CleanupTimeout   time.Duration `mapstructure:"cleanup_timeout"`

	// LockWait is how long a run waits for a busy workload.
	LockWait time.Duration `mapstructure:"lock_wait"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	// Host is the daemon address. Empty uses DOCKER_HOST or the local socket.
	Host string `mapstructure:"host"`

	docker.DriverConfig `mapstructure:",squash"`
}

// LockConfig selects the workload lock backend.
type LockConfig struct {
	// Backend is "local" (one process) or "redis" (shared between processes).
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds the Redis connection for the redis lock backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Lock backends.
const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "15m") // synchronous deploys outlast the rolling bound
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("deploy.namespace", domain.DefaultNamespace)
	v.SetDefault("deploy.platform", string(domain.DefaultPlatform))
	v.SetDefault("deploy.rolling_timeout", "600s")
	v.SetDefault("deploy.blue_green_timeout", "300s")
	v.SetDefault("deploy.canary_interval", domain.DefaultCanaryInterval.String())
	v.SetDefault("deploy.cleanup_timeout", "2m")
	v.SetDefault("deploy.lock_wait", "0s")

	healthDefaults := health.DefaultCheckerConfig()
	v.SetDefault("health.attempts", healthDefaults.Attempts)
	v.SetDefault("health.interval", healthDefaults.Interval.String())

	retryDefaults := driver.DefaultRetryConfig()
	v.SetDefault("retry.max_tries", retryDefaults.MaxTries)
	v.SetDefault("retry.initial_interval", retryDefaults.InitialInterval.String())
	v.SetDefault("retry.max_interval", retryDefaults.MaxInterval.String())

	kubeDefaults := kube.DefaultConfig()
	v.SetDefault("kubernetes.kubeconfig", "")
	v.SetDefault("kubernetes.context", "")
	v.SetDefault("kubernetes.poll_interval", kubeDefaults.PollInterval.String())

	ecsDefaults := ecs.DefaultConfig()
	v.SetDefault("ecs.region", "")
	v.SetDefault("ecs.access_key_id", "")
	v.SetDefault("ecs.secret_access_key", "")
	v.SetDefault("ecs.listener_arn", "")
	v.SetDefault("ecs.launch_type", ecsDefaults.LaunchType)
	v.SetDefault("ecs.subnets", []string{})
	v.SetDefault("ecs.security_groups", []string{})
	v.SetDefault("ecs.assign_public_ip", false)
	v.SetDefault("ecs.cpu", ecsDefaults.CPU)
	v.SetDefault("ecs.memory", ecsDefaults.Memory)
	v.SetDefault("ecs.execution_role_arn", "")
	v.SetDefault("ecs.poll_interval", ecsDefaults.PollInterval.String())

	dockerDefaults := docker.DefaultDriverConfig()
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.poll_interval", dockerDefaults.PollInterval.String())
	v.SetDefault("docker.stop_timeout", dockerDefaults.StopTimeout.String())

	v.SetDefault("lock.backend", LockBackendLocal)
	v.SetDefault("lock.ttl", "30m")
	v.SetDefault("lock.redis.addr", "localhost:6379")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("lock.redis.prefix", "rollout:")

	v.SetDefault("metrics.enabled", true)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	v.SetEnvPrefix("ROLLOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	if _, err := domain.ParsePlatform(c.Deploy.Platform); err != nil {
		return fmt.Errorf("deploy.platform: %w", err)
	}
	switch c.Lock.Backend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return fmt.Errorf("lock.backend: unknown backend %q", c.Lock.Backend)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format writing
// to w. Commands log to stderr so their stdout stays machine readable.
func SetupLogger(cfg *Config, verbose bool, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
