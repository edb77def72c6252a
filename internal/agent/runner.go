package agent

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunnerConfig holds the agent loop intervals.
type RunnerConfig struct {
	ReportInterval time.Duration // How often to report telemetry (default 5s)
	PollInterval   time.Duration // How often to poll for directives (default 3s)
}

// DefaultRunnerConfig returns the default agent intervals.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		ReportInterval: 5 * time.Second,
		PollInterval:   3 * time.Second,
	}
}

// Runner drives the agent: report telemetry on one ticker, poll and
// enforce directives on another.
type Runner struct {
	config    RunnerConfig
	collector *Collector
	client    *Client
	enforcer  *Enforcer
	logger    *zap.Logger
}

// NewRunner creates the agent loop.
func NewRunner(config RunnerConfig, collector *Collector, client *Client, enforcer *Enforcer, logger *zap.Logger) *Runner {
	return &Runner{
		config:    config,
		collector: collector,
		client:    client,
		enforcer:  enforcer,
		logger:    logger,
	}
}

// Run blocks until the context is canceled. A failed report or poll is
// logged and retried on the next tick; the loop never exits on its own.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("agent started",
		zap.Duration("report_interval", r.config.ReportInterval),
		zap.Duration("poll_interval", r.config.PollInterval))

	// Report immediately on startup so the server learns about this
	// endpoint before the first tick.
	r.report(ctx)
	r.poll(ctx)

	reportTicker := time.NewTicker(r.config.ReportInterval)
	pollTicker := time.NewTicker(r.config.PollInterval)
	defer func() {
		reportTicker.Stop()
		pollTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("agent stopping")
			return ctx.Err()
		case <-reportTicker.C:
			r.report(ctx)
		case <-pollTicker.C:
			r.poll(ctx)
		}
	}
}

func (r *Runner) report(ctx context.Context) {
	snap, err := r.collector.Collect(ctx)
	if err != nil {
		r.logger.Warn("failed to collect snapshot", zap.Error(err))
		return
	}
	if err := r.client.Submit(ctx, snap); err != nil {
		r.logger.Warn("failed to submit snapshot", zap.Error(err))
		return
	}
	r.logger.Debug("snapshot submitted",
		zap.Int("processes", len(snap.Processes)),
		zap.Int("destinations", len(snap.Destinations)))
}

func (r *Runner) poll(ctx context.Context) {
	directives, err := r.client.Poll(ctx)
	if err != nil {
		r.logger.Warn("failed to poll for directives", zap.Error(err))
		return
	}
	for _, d := range directives {
		if err := r.enforcer.Execute(ctx, d); err != nil {
			r.logger.Error("failed to execute directive",
				zap.String("action", string(d.Action)),
				zap.String("resource", d.Resource),
				zap.Error(err))
		}
	}
}
