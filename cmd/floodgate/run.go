package main

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/spf13/cobra"

	"mercator-hq/floodgate/pkg/cli"
	"mercator-hq/floodgate/pkg/config"
	"mercator-hq/floodgate/pkg/limits"
	"mercator-hq/floodgate/pkg/limits/eviction"
	"mercator-hq/floodgate/pkg/limits/ratelimit"
	"mercator-hq/floodgate/pkg/limits/storage"
	"mercator-hq/floodgate/pkg/server"
	"mercator-hq/floodgate/pkg/telemetry/health"
	"mercator-hq/floodgate/pkg/telemetry/logging"
	"mercator-hq/floodgate/pkg/telemetry/metrics"
	"mercator-hq/floodgate/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	upstream      string
	logLevel      string
	watch         bool
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the admission gateway",
	Long: `Start the admission gateway with the specified configuration.

Every configured route is admitted through its policy; admitted requests are
forwarded to server.upstream, or answered by a built-in echo handler when no
upstream is set.

Examples:
  # Start with default config
  floodgate run

  # Start with custom config
  floodgate run --config /etc/floodgate/config.yaml

  # Override listen address and upstream
  floodgate run --listen 0.0.0.0:8080 --upstream http://localhost:9000

  # Validate config without starting server
  floodgate run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.upstream, "upstream", "", "override upstream URL")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload the log level when the config file changes")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.upstream != "" {
		cfg.Server.Upstream = runFlags.upstream
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := newLogger(cfg.Telemetry.Logging)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	log := logger.Slog()
	slog.SetDefault(log)

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	fmt.Fprintf(out, "Floodgate v%s\n", Version)
	fmt.Fprintf(out, "✓ Configuration loaded from %s (%d policies, %d routes)\n",
		cfgFile, len(cfg.Policies), len(cfg.Routes))

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, tracing.WithServiceVersion(Version))
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to initialize tracing: %w", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Tracing.OTLP.Timeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	registry := metrics.NewRegistry()
	limitMetrics := limits.NewMetrics(registry)
	collector := metrics.NewCollector(registry)

	// Decision statistics
	var backend storage.Backend
	var recorder *limits.Recorder
	if cfg.Storage.Enabled {
		backend, err = storage.New(ctx, storageConfig(cfg.Storage))
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err))
		}
		defer backend.Close()

		recorder = limits.NewRecorder(backend, recorderConfig(cfg.Storage.Recorder), log, limitMetrics)
		defer recorder.Close()
		fmt.Fprintf(out, "✓ Decision statistics enabled (%s)\n", cfg.Storage.Backend)
	}

	manager, err := limits.NewManager(limits.Config{
		Policies: policyConfigs(cfg.Policies),
		Logger:   log,
		Metrics:  limitMetrics,
		Recorder: recorder,
		Tracer:   tracer.Tracer(),
		SchedulerOptions: []ratelimit.SchedulerOption{
			ratelimit.WithStopTimeout(cfg.Server.StopTimeout),
		},
	})
	if err != nil {
		return cli.NewConfigError("policies", err.Error())
	}
	defer manager.Close()

	// Schedulers outlive the signal context; the server stops them after
	// the graceful drain.
	if err := manager.Start(context.Background()); err != nil {
		return cli.NewCommandError("run", err)
	}

	if !cfg.Eviction.Disabled {
		sweeper := eviction.NewSweeper(manager, backend, cfg.Storage.Retention, log)
		evictor := eviction.NewScheduler(sweeper, cfg.Eviction.Schedule, log)
		if err := evictor.Start(ctx); err != nil {
			return cli.NewConfigError("eviction.schedule", err.Error())
		}
		defer evictor.Stop()
	}

	if runFlags.watch {
		stopWatch, err := watchConfig(ctx, cfg, logger)
		if err != nil {
			log.Warn("Config hot reload disabled", "error", err)
		} else {
			defer stopWatch()
		}
	}

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	checker.RegisterCheck("scheduler", health.SchedulerCheck(manager.SchedulersRunning))
	if backend != nil {
		checker.RegisterCheck("storage", health.StorageCheck(backend))
	}

	deps := server.Deps{
		Manager:   manager,
		Checker:   checker,
		Metrics:   collector,
		Logger:    log,
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	}
	if tracer.Enabled() {
		deps.Tracer = tracer.Tracer()
	}

	srv, err := server.New(cfg, deps)
	if err != nil {
		return cli.NewConfigError("routes", err.Error())
	}

	fmt.Fprintf(out, "✓ Listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "✓ Health endpoint: %s\n", cfg.Telemetry.Health.LivenessPath)
	if !cfg.Telemetry.Metrics.Disabled {
		fmt.Fprintf(out, "✓ Metrics endpoint: %s\n", cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

// watchConfig reloads the log level when the config file changes. Limiter
// settings need a restart; changes to them are logged and ignored.
func watchConfig(ctx context.Context, current *config.Config, logger *logging.Logger) (func(), error) {
	log := logger.Slog()
	levelOverridden := runFlags.logLevel != ""

	onReload := func(next *config.Config) {
		if !levelOverridden {
			if err := logger.SetLevel(next.Telemetry.Logging.Level); err != nil {
				log.Warn("Ignoring reloaded log level", "error", err)
			} else {
				log.Info("Log level reloaded", "level", next.Telemetry.Logging.Level)
			}
		}
		if !reflect.DeepEqual(current.Policies, next.Policies) || !reflect.DeepEqual(current.Routes, next.Routes) {
			log.Warn("Policy or route changes require a restart to take effect")
		}
	}

	w, err := config.NewWatcher(cfgFile, 0, onReload, log)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := w.Watch(ctx); err != nil {
			log.Error("Config watcher stopped", "error", err)
		}
	}()

	return func() { _ = w.Stop() }, nil
}
