// Package main is the CLI entry point for the netwarden server.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"netwarden/internal/config"
	"netwarden/internal/detect"
	"netwarden/internal/infra"
	"netwarden/internal/server"
	"netwarden/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "netwarden-server",
	Short: "Fleet monitoring server - collects telemetry, detects violations, distributes commands",
	Long: `netwarden-server receives telemetry snapshots from endpoint agents,
evaluates them against network usage policies, raises alerts for
violations, and distributes block/unblock directives that agents pick
up on their next poll.`,
	Version: Version,
	RunE:    runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netwarden-server %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadServer(configFile)
	if err != nil {
		return err
	}

	var dbKey []byte
	if cfg.DBKey != "" {
		dbKey, err = hex.DecodeString(cfg.DBKey)
		if err != nil {
			return fmt.Errorf("db_key must be hex encoded: %w", err)
		}
	}

	store, err := infra.NewStore(cfg.DataDir, dbKey)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	policies, err := infra.NewFilePolicyStore(cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to load domain policies: %w", err)
	}

	detector := detect.New(cfg.DetectConfig())
	ingestor := usecase.NewIngestor(store, store, policies, detector, logger)
	dispatcher := usecase.NewDispatcher(store, store, logger)
	alerts := usecase.NewAlerts(store, logger)
	stats := usecase.NewStats(store)

	srv := server.New(server.Config{Addr: cfg.Addr, APIKey: cfg.APIKey},
		ingestor, dispatcher, alerts, policies, stats, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("server running",
		zap.String("addr", cfg.Addr),
		zap.String("version", Version))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func createLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
