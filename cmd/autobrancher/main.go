// Package main provides the autobrancher binary entry point.
// Autobrancher resolves the reference graph of a protocol document and
// renders it as a git branch, a Mongo upsert script, a plan listing or a
// JetStream KV publication.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/autobrancher/config"
	"github.com/c360studio/autobrancher/render"
	"github.com/c360studio/autobrancher/watch"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "autobrancher"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	root       string
	configPath string
	logLevel   string
	store      string
	natsURL    string
	looseRefs  bool
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Materialize protocol reference graphs",
		Long: `Autobrancher reads a protocol document, follows every @TABLE.<collection>.<document>
reference it contains, resolves model routing and matching resource profiles,
and renders the resulting set.

Selections are either a commandName or "*" for every protocol.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.root, "root", ".", "Document tree root (also the git work tree for branch output)")
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML), applied after user and project config")
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.store, "store", "", "Document store backend (file, kv, sqlite)")
	pf.StringVar(&flags.natsURL, "nats-url", "", "NATS server URL for the kv backend and publish")
	pf.BoolVar(&flags.looseRefs, "loose-refs", false, "Capture everything after the collection in reference tokens")

	cmd.AddCommand(
		branchCmd(flags),
		scriptCmd(flags),
		scriptRefCmd(flags),
		planCmd(flags),
		publishCmd(flags),
		watchCmd(flags),
		configCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

func branchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "branch <commandName|*>",
		Short: "Create a branch from the template holding every resolved document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, app *App) error {
				_, err := app.Generate(ctx, args[0], app.BranchRenderer())
				return err
			})
		},
	}
}

func scriptCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "script <commandName|*>",
		Short: "Write a Mongo upsert script per protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, app *App) error {
				_, err := app.Generate(ctx, args[0], app.ScriptRenderer())
				return err
			})
		},
	}
}

func scriptRefCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "script-ref <@TABLE.collection.document>",
		Short: "Write the upsert script of a single document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, app *App) error {
				_, err := app.TokenScript().Generate(ctx, args[0])
				return err
			})
		},
	}
}

func planCmd(flags *globalFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "plan <commandName|*>",
		Short: "Print the resolution set without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), flags, func(ctx context.Context, app *App) error {
				_, err := app.Generate(ctx, args[0], app.PlanRenderer(cmd.OutOrStdout(), f))
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "yaml", "Output format (yaml, json)")
	return cmd
}

func publishCmd(flags *globalFlags) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "publish <commandName|*>",
		Short: "Upsert every resolved document into JetStream KV buckets or a sqlite database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, app *App) error {
				r, err := app.PublishRenderer(ctx, target)
				if err != nil {
					return err
				}
				_, err = app.Generate(ctx, args[0], r)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", PublishKV, "Publish target (kv, sqlite)")
	return cmd
}

func watchCmd(flags *globalFlags) *cobra.Command {
	var (
		backend     string
		format      string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-render protocols whenever they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(ctx context.Context, app *App) error {
				if app.cfg.Store.Backend != config.BackendFile {
					return fmt.Errorf("watch requires the file store backend")
				}
				if metricsAddr != "" {
					app.cfg.Metrics.Addr = metricsAddr
				}

				var r render.Renderer
				switch backend {
				case "script":
					r = app.ScriptRenderer()
				case "plan":
					f, err := render.ParseFormat(format)
					if err != nil {
						return err
					}
					r = app.PlanRenderer(cmd.OutOrStdout(), f)
				default:
					return fmt.Errorf("watch backend must be script or plan, got %q", backend)
				}
				return runWatch(ctx, app, r)
			})
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "script", "Renderer for changed protocols (script, plan)")
	cmd.Flags().StringVarP(&format, "format", "o", "yaml", "Plan output format (yaml, json)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func runWatch(ctx context.Context, app *App, r render.Renderer) error {
	dir := filepath.Join(app.cfg.Store.Root, app.cfg.Store.ProtocolCollection)
	w, err := watch.NewWatcher(watch.Config{
		Dir:      dir,
		Debounce: app.cfg.Watch.Debounce,
		Logger:   app.logger,
	}, func(ctx context.Context, document string) {
		app.generator.RunDocument(ctx, document, r)
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})

	if addr := app.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.metrics.Handler())
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			app.logger.Info("Serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(flags, newLogger(flags.logLevel))
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(cfg); err != nil {
					return err
				}
				return enc.Close()
			},
		},
		configInitCmd(flags),
	)
	return cmd
}

func configInitCmd(flags *globalFlags) *cobra.Command {
	var user bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the defaults to <root>/" + config.ProjectConfigFile,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(newLogger(flags.logLevel))
			if user {
				return loader.EnsureUserConfig()
			}
			root, err := filepath.Abs(flags.root)
			if err != nil {
				return fmt.Errorf("resolve root: %w", err)
			}
			path, err := loader.EnsureProjectConfig(root)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config file instead")
	return cmd
}

// withApp loads configuration, builds the App and runs fn under a context
// cancelled on SIGINT or SIGTERM.
func withApp(ctx context.Context, flags *globalFlags, fn func(context.Context, *App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(flags.logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(flags, logger)
	if err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := NewApp(signalCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(signalCtx, app)
}

// loadConfig layers defaults, user, project and explicit config, then
// applies command line overrides.
func loadConfig(flags *globalFlags, logger *slog.Logger) (*config.Config, error) {
	root, err := filepath.Abs(flags.root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	cfg, err := config.NewLoader(logger).WithConfigFile(flags.configPath).Load(root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, flags)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, flags *globalFlags) {
	if flags.store != "" {
		cfg.Store.Backend = flags.store
	}
	if flags.natsURL != "" {
		cfg.NATS.URL = flags.natsURL
	}
	if flags.looseRefs {
		cfg.Reference.Mode = "loose"
	}
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
