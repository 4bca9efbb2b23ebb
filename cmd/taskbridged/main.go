// Command taskbridged runs the task synchronization daemon: it serves
// the flow API over HTTP and fires the scheduled sync flows.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taskbridge/taskbridge"
	"github.com/taskbridge/taskbridge/internal/capabilities"
	"github.com/taskbridge/taskbridge/internal/config"
	"github.com/taskbridge/taskbridge/internal/engine"
	"github.com/taskbridge/taskbridge/internal/enrich"
	"github.com/taskbridge/taskbridge/internal/logging"
	"github.com/taskbridge/taskbridge/internal/metrics"
	"github.com/taskbridge/taskbridge/internal/persistence"
	"github.com/taskbridge/taskbridge/internal/remote"
	"github.com/taskbridge/taskbridge/internal/scheduler"
	"github.com/taskbridge/taskbridge/internal/server"
	"github.com/taskbridge/taskbridge/internal/staging"
	tbsync "github.com/taskbridge/taskbridge/internal/sync"
	"github.com/taskbridge/taskbridge/pkg/api"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "taskbridged",
		Short:         "Task synchronization and promotion daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.AddCommand(serve)

	return root
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("taskbridged starting",
		zap.String("version", version),
		zap.String("database", cfg.Database.Path),
		zap.String("direction", cfg.Sync.Direction))

	db, err := persistence.OpenDatabase(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}

	remoteClient, err := remote.NewClient(remote.Config{
		BaseURL:   cfg.Remote.BaseURL,
		Token:     cfg.Remote.Token.Value(),
		Timeout:   cfg.Remote.Timeout.Duration(),
		PageSize:  cfg.Remote.PageSize,
		RateLimit: cfg.Remote.RateLimit,
	}, logger.Named("remote"))
	if err != nil {
		return fmt.Errorf("building remote client: %w", err)
	}

	strategy := enrich.NewKeywordStrategy()
	manager := staging.NewManager(store, strategy, logger.Named("staging"))
	coordinator := tbsync.NewCoordinator(remoteClient, store, store,
		tbsync.LastWriteWins{}, logger.Named("sync"))

	registry := taskbridge.NewRegistry()
	for _, cap := range []api.Capability{
		capabilities.NewSyncCapability(coordinator),
		capabilities.NewStagingCapability(manager),
		capabilities.NewEnrichmentCapability(manager, strategy),
	} {
		if err := registry.Register(cap); err != nil {
			return fmt.Errorf("registering capability: %w", err)
		}
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())

	observer := api.NewCompositeObserver(
		api.NewLoggingObserver(logger.Named("flows")),
		metrics.NewObserver(promReg),
	)
	executor := engine.NewExecutor(registry, store, logger.Named("engine"),
		engine.WithObserver(observer))

	direction := tbsync.Direction(cfg.Sync.Direction)
	if err := taskbridge.RegisterBuiltinFlows(executor, direction, cfg.Sync.BatchSize); err != nil {
		return fmt.Errorf("registering flows: %w", err)
	}

	sched := scheduler.New(executor, logger.Named("scheduler"),
		scheduler.Trigger{FlowName: taskbridge.FlowFullSync, Interval: cfg.Sync.FullInterval.Duration()},
		scheduler.Trigger{FlowName: taskbridge.FlowPullSync, Interval: cfg.Sync.PullInterval.Duration()},
	)

	srv, err := server.New(executor, registry, store, store, promReg, logger.Named("http"), server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("building http server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown did not finish cleanly", zap.Error(err))
	}

	logger.Info("taskbridged stopped")
	return nil
}
