// Command repospawn builds a Docker image from a user's Git repository and
// starts a container from it, reusing images and containers whenever the
// repository has not changed.
//
// Usage:
//
//	repospawn start --user <name> --repo <url> [--keep-checkout]
//	repospawn status --user <name> --repo <url>
//	repospawn forget --user <name> --repo <url> [--remove]
//	repospawn list
//	repospawn logs <key>
//	repospawn config init [path]
//
// Settings are read from repospawn.yaml; see `repospawn config init`.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/zoobzio/repospawn"
	"github.com/zoobzio/repospawn/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, newApp(os.Stdout, os.Stderr), os.Args[1:])
	stop()
	os.Exit(code)
}

// engine is what the CLI needs from a container engine.
type engine interface {
	repospawn.Builder
	repospawn.Runtime
	Preflight(ctx context.Context) error
	Close() error
}

// app holds the CLI's outputs and the factories tests replace.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool

	newEngine  func() (engine, error)
	newFetcher func(lane *repospawn.Lane, scratchDir string) repospawn.Fetcher
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		newEngine: func() (engine, error) {
			return repospawn.NewDockerEngine()
		},
		newFetcher: func(lane *repospawn.Lane, scratchDir string) repospawn.Fetcher {
			return repospawn.NewGitFetcher(lane, scratchDir)
		},
	}
}

// run executes args and returns the process exit code.
func run(ctx context.Context, a *app, args []string) int {
	root := newRootCommand(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(a.stderr, "repospawn: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "repospawn",
		Short:         "Build and run containers from Git repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: search repospawn.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newStartCommand(a),
		newStatusCommand(a),
		newForgetCommand(a),
		newListCommand(a),
		newLogsCommand(a),
		newConfigCommand(a),
	)
	return root
}

// load reads the configuration and builds the logger it describes.
func (a *app) load() (*config.Config, *log.Logger, error) {
	cfg, used, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if a.verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(a.stderr, log.Options{
		Level:           level,
		Prefix:          "repospawn",
		ReportTimestamp: true,
	})
	if used != "" {
		logger.Debug("loaded config", "path", used)
	}
	return cfg, logger, nil
}
