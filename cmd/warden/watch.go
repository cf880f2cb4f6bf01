package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wardenhq/warden/internal/api"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/controller"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/schedule"
	"github.com/wardenhq/warden/internal/secrets"
)

var debugLog bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start the warden daemon",
	Long: `Starts the reconciliation daemon: polls the watched directory for
spec files, applies them, and serves the read-only status API. Exactly
one instance may watch a directory at a time.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logCfg := zap.NewProductionConfig()
	if debugLog {
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	logger.Info("starting warden daemon",
		zap.String("root", cfg.RootDir),
		zap.String("ops_dir", cfg.OpsDir()),
		zap.String("db", cfg.DBPath))

	reg, err := registry.New(cfg.DBPath)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	auditor := audit.NewWriter(reg)
	ctrl := controller.New(cfg, reg, secrets.EnvStore{}, schedule.NewCron(loc), auditor, logger)
	poller := controller.NewPoller(ctrl, cfg.OpsDir(), cfg.Interval(), logger)
	server := api.NewServer(reg, cfg.OpsDir(), cfg.ListenAddr, logger)

	if err := poller.Start(); err != nil {
		reg.Close()
		return err
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("status API error", zap.Error(err))
			poller.Stop()
			reg.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status API shutdown error", zap.Error(err))
	}
	poller.Stop()
	if err := reg.Close(); err != nil {
		logger.Warn("registry close error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
