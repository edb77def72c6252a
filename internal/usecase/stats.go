package usecase

import (
	"context"
	"fmt"
	"time"

	"netwarden/internal/domain"
)

// HostBandwidth is one endpoint's bandwidth total over the stats window.
type HostBandwidth struct {
	Hostname       string `json:"hostname"`
	TotalSent      uint64 `json:"total_sent"`
	TotalRecv      uint64 `json:"total_recv"`
	TotalBandwidth uint64 `json:"total_bandwidth"`
}

// WeeklyStats aggregates the trailing seven days of telemetry and alerts.
type WeeklyStats struct {
	Period           string                  `json:"period"`
	TotalBytesSent   uint64                  `json:"total_bytes_sent"`
	TotalBytesRecv   uint64                  `json:"total_bytes_recv"`
	TotalBandwidth   uint64                  `json:"total_bandwidth"`
	TotalBandwidthMB float64                 `json:"total_bandwidth_mb"`
	TotalBandwidthGB float64                 `json:"total_bandwidth_gb"`
	ActiveEndpoints  int                     `json:"active_endpoints"`
	AlertCount       int                     `json:"alert_count"`
	AlertsBySeverity map[domain.Severity]int `json:"alerts_by_severity"`
	TopConsumers     []HostBandwidth         `json:"top_consumers"`
	GeneratedAt      time.Time               `json:"generated_at"`
}

// StatsSource is the aggregation query surface the stats reporter needs.
type StatsSource interface {
	// WeeklyStats runs the grouped aggregation over the trailing window.
	WeeklyStats(ctx context.Context, since time.Time, topN int) (*WeeklyStats, error)
}

// Stats produces dashboard-ready reports from the persisted history.
type Stats struct {
	source StatsSource
}

// NewStats creates the stats reporter.
func NewStats(source StatsSource) *Stats {
	return &Stats{source: source}
}

// Weekly returns the trailing-seven-day aggregate.
func (s *Stats) Weekly(ctx context.Context) (*WeeklyStats, error) {
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	stats, err := s.source.WeeklyStats(ctx, since, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to compute weekly stats: %w", err)
	}
	stats.Period = "Last 7 days"
	stats.TotalBandwidth = stats.TotalBytesSent + stats.TotalBytesRecv
	stats.TotalBandwidthMB = float64(stats.TotalBandwidth) / (1024 * 1024)
	stats.TotalBandwidthGB = stats.TotalBandwidthMB / 1024
	stats.GeneratedAt = time.Now().UTC()
	return stats, nil
}
