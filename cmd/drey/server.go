package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreyhq/drey/pkg/audit"
	"github.com/dreyhq/drey/pkg/backup"
	"github.com/dreyhq/drey/pkg/ca"
	"github.com/dreyhq/drey/pkg/cluster"
	"github.com/dreyhq/drey/pkg/config"
	"github.com/dreyhq/drey/pkg/connector"
	"github.com/dreyhq/drey/pkg/log"
	"github.com/dreyhq/drey/pkg/metrics"
	"github.com/dreyhq/drey/pkg/notify"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/vault"
	"github.com/dreyhq/drey/pkg/worker"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the control plane with its background workers",
	RunE:  runServer,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE:  runMigrate,
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSONOutput,
	})
	logger := log.WithComponent("server")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := storage.Open(cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	v, err := vault.NewFromEnv(cfg.Vault.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	registry := connector.DefaultRegistry()
	backend, err := backup.NewBackend(ctx, cfg.Backup)
	if err != nil {
		return fmt.Errorf("failed to initialize backup backend: %w", err)
	}

	// TODO: replace the fake with the real API-server client once the
	// cluster credentials flow lands.
	var clusterClient cluster.Client = &cluster.Fake{}

	caService := ca.NewService()
	recorder := audit.NewRecorder(store)
	broker := notify.NewBroker()
	broker.Start()
	defer broker.Stop()

	supervisor := worker.NewSupervisor()
	supervisor.Add(worker.NewBackupScheduler(store, v, registry, backend, cfg.Workers.BackupScanInterval))
	rotator := worker.NewCertRotator(store, caService, clusterClient, v, registry, recorder, broker, cfg.Workers.CertCheckInterval)
	rotator.NotificationThresholdDays = cfg.Workers.NotificationThreshold
	supervisor.Add(rotator)
	supervisor.Add(worker.NewStatsCollector(store, v, registry, clusterClient, cfg.Workers.StatsInterval))
	syncWorker := worker.NewUserSyncWorker(store, v, registry, cfg.Workers.UserSyncInterval)
	syncWorker.BatchSize = cfg.Workers.UserSyncBatchSize
	supervisor.Add(syncWorker)
	supervisor.Start(ctx)

	metricsServer := &http.Server{
		Addr:    cfg.Metrics.ListenAddr,
		Handler: metrics.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("metrics endpoint listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info().Msg("control plane started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("metrics server failed")
	}

	cancel()
	supervisor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown incomplete")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSONOutput,
	})

	store, err := storage.Open(cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("✓ Migrations applied")
	return nil
}
