// Command rollout deploys containerised workloads with rolling, blue-green and
// canary strategies onto Kubernetes, ECS or a Docker host.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// errReported marks a failure whose details were already written as command
// output; run only turns it into the exit code.
var errReported = errors.New("command failed")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
		return ExitFailure
	}
	return ExitSuccess
}

// =============================================================================
// Root Command
// =============================================================================

// cli carries the state shared by every subcommand.
type cli struct {
	configPath string
	verbose    bool
	output     string

	stdout io.Writer
	stderr io.Writer

	cfg    *Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "rollout",
		Short:         "Deploy workloads with rolling, blue-green and canary strategies",
		Long:          `rollout drives a workload through a deployment strategy against Kubernetes, Amazon ECS or a Docker host, verifying health and rolling back on failure.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", outputJSON, "Output format (json|yaml)")

	root.AddCommand(
		c.newDeployCmd(),
		c.newStatusCmd(),
		c.newRollbackCmd(),
		c.newManifestCmd(),
		c.newHistoryCmd(),
		c.newServeCmd(),
	)
	return root
}

// setup loads configuration and the logger before any subcommand runs.
func (c *cli) setup() error {
	switch c.output {
	case outputJSON, outputYAML:
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", c.output)
	}

	cfg, err := LoadConfig(c.configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	c.cfg = cfg
	c.logger = SetupLogger(cfg, c.verbose, c.stderr)
	slog.SetDefault(c.logger)
	return nil
}
