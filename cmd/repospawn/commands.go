package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/zoobzio/repospawn"
	"github.com/zoobzio/repospawn/internal/config"
	"github.com/zoobzio/repospawn/internal/logarchive"
	"github.com/zoobzio/repospawn/internal/store"
)

// sessionFlags binds the --user and --repo flags shared by several commands.
type sessionFlags struct {
	user string
	repo string
}

func (f *sessionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "user", "", "user name (required)")
	cmd.Flags().StringVar(&f.repo, "repo", "", "Git repository URL (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("repo")
}

func newStartCommand(a *app) *cobra.Command {
	var flags sessionFlags
	var keep bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Build the repository's image if needed and start its container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStart(cmd.Context(), flags, keep)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&keep, "keep-checkout", false, "keep the cloned repository after the attempt")
	return cmd
}

func (a *app) runStart(ctx context.Context, flags sessionFlags, keep bool) error {
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	storedID, err := st.ContainerID(ctx, flags.user, flags.repo)
	if err != nil {
		return err
	}

	eng, err := a.newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()
	if err := eng.Preflight(ctx); err != nil {
		return err
	}

	opts, err := a.orchestratorOptions(ctx, cfg, logger)
	if err != nil {
		return err
	}

	lane := repospawn.NewLane()
	defer lane.Close()

	o := repospawn.NewOrchestrator(a.newFetcher(lane, cfg.ScratchDir), eng, eng, opts...)
	s := &repospawn.Session{User: flags.user, RepoURL: flags.repo, ContainerID: storedID}

	res, startErr := o.Start(ctx, s)
	if res.Dir != "" {
		if keep {
			logger.Info("kept checkout", "dir", res.Dir)
		} else if err := os.RemoveAll(res.Dir); err != nil {
			logger.Warn("remove checkout", "dir", res.Dir, "err", err)
		}
	}

	// The attempt may have cleared a stale ID even when it failed.
	if s.ContainerID != storedID {
		if err := st.SaveContainerID(context.WithoutCancel(ctx), flags.user, flags.repo, s.ContainerID); err != nil {
			return errors.Join(startErr, err)
		}
	}
	if startErr != nil {
		return startErr
	}

	fmt.Fprintf(a.stdout, "%s\t%s\n", res.Container.ID, res.Tag)
	return nil
}

func (a *app) orchestratorOptions(ctx context.Context, cfg *config.Config, logger *log.Logger) ([]repospawn.Option, error) {
	env, err := config.ParsePairs(cfg.Env)
	if err != nil {
		return nil, err
	}
	buildArgs, err := config.ParsePairs(cfg.BuildArgs)
	if err != nil {
		return nil, err
	}

	opts := []repospawn.Option{
		repospawn.WithNamespace(cfg.Namespace),
		repospawn.WithDescriptors(cfg.Descriptors...),
		repospawn.WithContainerPrefix(cfg.ContainerPrefix),
		repospawn.WithEnv(env),
		repospawn.WithBuildArgs(buildArgs),
		repospawn.WithLogger(logger),
		repospawn.WithObserver(func(e repospawn.Event) {
			fmt.Fprintf(a.stderr, "%s %s\n", e.State, e.Data)
		}),
	}
	if len(cfg.Cmd) > 0 {
		opts = append(opts, repospawn.WithCmd(cfg.Cmd...))
	}
	if cfg.Archive.Enabled {
		archive, err := logarchive.New(cfg.Archive.Logarchive())
		if err != nil {
			return nil, err
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, repospawn.WithLogArchive(archive))
	}
	return opts, nil
}

func newStatusCommand(a *app) *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored container and whether it still exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runStatus(cmd.Context(), flags)
		},
	}
	flags.bind(cmd)
	return cmd
}

func (a *app) runStatus(ctx context.Context, flags sessionFlags) error {
	cfg, _, err := a.load()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.ContainerID(ctx, flags.user, flags.repo)
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Fprintln(a.stdout, "no container")
		return nil
	}

	eng, err := a.newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	c, found, err := eng.Inspect(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case !found:
		fmt.Fprintf(a.stdout, "%s\tgone\n", id)
	case c.Running:
		fmt.Fprintf(a.stdout, "%s\trunning\t%s\n", c.ID, c.Image)
	default:
		fmt.Fprintf(a.stdout, "%s\tstopped\t%s\n", c.ID, c.Image)
	}
	return nil
}

func newForgetCommand(a *app) *cobra.Command {
	var flags sessionFlags
	var remove bool
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Drop the stored container ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runForget(cmd.Context(), flags, remove)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&remove, "remove", false, "also remove the container")
	return cmd
}

func (a *app) runForget(ctx context.Context, flags sessionFlags, remove bool) error {
	cfg, logger, err := a.load()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if remove {
		id, err := st.ContainerID(ctx, flags.user, flags.repo)
		if err != nil {
			return err
		}
		if id != "" {
			eng, err := a.newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			if err := eng.Remove(ctx, id); err != nil {
				return err
			}
			logger.Info("removed container", "container", id)
		}
	}
	return st.Forget(ctx, flags.user, flags.repo)
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tREPOSITORY\tCONTAINER\tUPDATED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.User, r.RepoURL, r.ContainerID, r.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newLogsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <key>",
		Short: "Print an archived build log",
		Long: `Print an archived build log.

Keys have the form builds/<escaped tag>/<attempt>.log and are logged
when a build log is archived.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			if !cfg.Archive.Enabled {
				return errors.New("build log archive is not enabled")
			}
			archive, err := logarchive.New(cfg.Archive.Logarchive())
			if err != nil {
				return err
			}
			lines, err := archive.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintln(a.stdout, line)
			}
			return nil
		},
	}
}

func newConfigCommand(a *app) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage repospawn configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				dir, err := config.Dir()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, config.FileName+".yaml")
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg.Redacted())
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	})

	return cfgCmd
}

// openStore opens and initializes the configured session store.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg.Store.Driver == store.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
