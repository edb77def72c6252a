// Package main is the CLI entry point for the netwarden agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"netwarden/internal/agent"
	"netwarden/internal/config"
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
	Use:   "netwarden-agent",
	Short: "Endpoint agent - reports telemetry and enforces block directives",
	Long: `netwarden-agent runs on a managed endpoint. It reports process,
connection and bandwidth telemetry to the monitoring server on one
interval and polls for block/unblock directives on another, enforcing
them locally via the Windows Firewall.`,
	Version: Version,
	RunE:    runAgent,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netwarden-agent %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	rootCmd.AddCommand(versionCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadAgent(configFile)
	if err != nil {
		return err
	}

	hostname := cfg.Hostname
	if hostname == "" {
		hostname, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to determine hostname: %w", err)
		}
	}

	runnerCfg := agent.DefaultRunnerConfig()
	if cfg.ReportInterval > 0 {
		runnerCfg.ReportInterval = cfg.ReportInterval
	}
	if cfg.PollInterval > 0 {
		runnerCfg.PollInterval = cfg.PollInterval
	}

	collector := agent.NewCollector(hostname, logger)
	client := agent.NewClient(cfg.ServerURL, cfg.APIKey, hostname)
	enforcer := agent.NewEnforcer(logger)
	runner := agent.NewRunner(runnerCfg, collector, client, enforcer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("agent starting",
		zap.String("server", cfg.ServerURL),
		zap.String("hostname", hostname),
		zap.String("version", Version))

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
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
