package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/artpar/rollout/internal/core/deployment"
	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/api"
)

// Output formats.
const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// historyTimeout bounds the history request to a running server.
const historyTimeout = 30 * time.Second

// =============================================================================
// Flags
// =============================================================================

// workloadFlags address one workload.
type workloadFlags struct {
	name      string
	namespace string
	platform  string
	dryRun    bool
}

func (f *workloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "Workload name (required)")
	cmd.Flags().StringVar(&f.namespace, "namespace", "", "Namespace, ECS cluster or Docker network (default from config)")
	cmd.Flags().StringVar(&f.platform, "platform", "", "Platform: kubernetes, ecs or docker (default from config)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Simulate every platform call")
	_ = cmd.MarkFlagRequired("name")
}

// deployFlags describe one deployment.
type deployFlags struct {
	workloadFlags
	image          string
	replicas       int
	port           int
	healthPath     string
	strategy       string
	canarySteps    []int
	canaryInterval time.Duration
}

func (f *deployFlags) register(cmd *cobra.Command) {
	f.workloadFlags.register(cmd)
	cmd.Flags().StringVarP(&f.image, "image", "i", "", "Container image (required)")
	cmd.Flags().IntVarP(&f.replicas, "replicas", "r", domain.DefaultReplicas, "Desired replica count")
	cmd.Flags().IntVarP(&f.port, "port", "p", domain.DefaultPort, "Container port")
	cmd.Flags().StringVar(&f.healthPath, "health-path", domain.DefaultHealthPath, "HTTP health check path")
	cmd.Flags().StringVarP(&f.strategy, "strategy", "s", string(domain.DefaultStrategy), "Strategy: rolling, blue-green or canary")
	cmd.Flags().IntSliceVar(&f.canarySteps, "canary-steps", domain.DefaultCanarySteps(), "Canary traffic percentages, ending at 100")
	cmd.Flags().DurationVar(&f.canaryInterval, "canary-interval", domain.DefaultCanaryInterval, "Observation time between canary steps (default from config)")
	_ = cmd.MarkFlagRequired("image")
}

// ref resolves the workload reference, filling unset flags from config.
func (c *cli) ref(f workloadFlags) (domain.WorkloadRef, error) {
	platformName := f.platform
	if platformName == "" {
		platformName = c.cfg.Deploy.Platform
	}
	platform, err := domain.ParsePlatform(platformName)
	if err != nil {
		return domain.WorkloadRef{}, err
	}

	namespace := f.namespace
	if namespace == "" {
		namespace = c.cfg.Deploy.Namespace
	}
	return domain.WorkloadRef{Name: f.name, Namespace: namespace, Platform: platform, DryRun: f.dryRun}, nil
}

// deploymentConfig builds the request from flags and config defaults.
func (c *cli) deploymentConfig(cmd *cobra.Command, f deployFlags) (domain.DeploymentConfig, error) {
	ref, err := c.ref(f.workloadFlags)
	if err != nil {
		return domain.DeploymentConfig{}, err
	}
	strategy, err := domain.ParseStrategy(f.strategy)
	if err != nil {
		return domain.DeploymentConfig{}, err
	}

	interval := f.canaryInterval
	if !cmd.Flags().Changed("canary-interval") && c.cfg.Deploy.CanaryInterval > 0 {
		interval = c.cfg.Deploy.CanaryInterval
	}

	return domain.DeploymentConfig{
		Name:           ref.Name,
		Namespace:      ref.Namespace,
		Image:          f.image,
		Replicas:       f.replicas,
		Port:           f.port,
		HealthPath:     f.healthPath,
		Strategy:       strategy,
		CanarySteps:    f.canarySteps,
		CanaryInterval: interval,
		Platform:       ref.Platform,
		DryRun:         ref.DryRun,
	}, nil
}

// =============================================================================
// deploy
// =============================================================================

func (c *cli) newDeployCmd() *cobra.Command {
	var f deployFlags
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy an image with the chosen strategy",
		Long:  `Runs one deployment to completion and prints its result with the full execution trace. Exits non-zero when the deployment fails.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.deploymentConfig(cmd, f)
			if err != nil {
				return err
			}

			app, err := NewApp(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer c.closeApp(app)

			res := app.Manager.Deploy(cmd.Context(), cfg)
			if err := c.print(res); err != nil {
				return err
			}
			if !res.Succeeded() {
				return errReported
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

// =============================================================================
// status
// =============================================================================

func (c *cli) newStatusCmd() *cobra.Command {
	var f workloadFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Describe a workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.ref(f)
			if err != nil {
				return err
			}

			app, err := NewApp(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer c.closeApp(app)

			desc, err := app.Manager.Status(cmd.Context(), ref)
			if err != nil {
				return fmt.Errorf("status %s: %w", ref, err)
			}
			return c.print(desc)
		},
	}
	f.register(cmd)
	return cmd
}

// =============================================================================
// rollback
// =============================================================================

func (c *cli) newRollbackCmd() *cobra.Command {
	var f workloadFlags
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Return a workload to its previous revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := c.ref(f)
			if err != nil {
				return err
			}

			app, err := NewApp(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer c.closeApp(app)

			res := app.Manager.Rollback(cmd.Context(), ref)
			if err := c.print(res); err != nil {
				return err
			}
			if res.Status != domain.StatusSuccess {
				return errReported
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

// =============================================================================
// manifest
// =============================================================================

func (c *cli) newManifestCmd() *cobra.Command {
	var f deployFlags
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the manifest the first deployment would apply",
		Long:  `Prints the Kubernetes Deployment and Service, or the compose project for a Docker host, without contacting any platform. Manifests are always YAML.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.deploymentConfig(cmd, f)
			if err != nil {
				return err
			}
			cfg = cfg.WithDefaults()
			if err := domain.ValidateConfig(cfg); err != nil {
				return err
			}

			out, err := renderManifest(cfg)
			if err != nil {
				return err
			}
			_, err = c.stdout.Write(out)
			return err
		},
	}
	f.register(cmd)
	return cmd
}

func renderManifest(cfg domain.DeploymentConfig) ([]byte, error) {
	switch cfg.Platform {
	case domain.PlatformClusterOrchestrator:
		dep, svc := deployment.BuildManifests(cfg)
		return deployment.RenderManifests(dep, svc)
	case domain.PlatformContainerEngine:
		return deployment.RenderComposeProject(deployment.BuildComposeProject(cfg))
	default:
		return nil, fmt.Errorf("%w: no manifest rendering for platform %s", domain.ErrUnsupported, cfg.Platform)
	}
}

// =============================================================================
// history
// =============================================================================

func (c *cli) newHistoryCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the deployment history of a running server",
		Long:  `History is kept by the process that ran the deployments, so this command asks a server started with 'rollout serve'.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				server = c.cfg.Server.URL()
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, server+"/api/v1/history", nil)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: historyTimeout}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("fetch history: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				var body api.ErrorResponse
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
					return fmt.Errorf("fetch history: server returned %s", resp.Status)
				}
				return fmt.Errorf("fetch history: %s", body.Error)
			}

			var history api.HistoryResponse
			if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
				return fmt.Errorf("decode history: %w", err)
			}
			return c.print(history.Entries)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server base URL (default from server config)")
	return cmd
}

// =============================================================================
// Output
// =============================================================================

// print writes v to stdout in the selected output format.
func (c *cli) print(v any) error {
	return writeOutput(c.stdout, c.output, v)
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

func (c *cli) closeApp(app *App) {
	if err := app.Close(); err != nil {
		c.logger.Warn("failed to release platform clients", "error", err)
	}
}
