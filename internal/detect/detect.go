// Package detect implements the policy violation detector: an ordered set
// of independent rule checks over one telemetry snapshot, merged into a
// single verdict with escalated severity.
package detect

import (
	"fmt"
	"strings"

	"netwarden/internal/domain"
)

// Detector evaluates snapshots against configured policy rules. It is
// stateless and safe for concurrent use; the only external input besides
// the snapshot is the blocked-domain list passed to Evaluate.
type Detector struct {
	cfg            Config
	keywords       []string
	bandwidthBytes float64
	uploadKbps     float64
	downloadKbps   float64
}

// New creates a detector. Blocked keywords are normalized once.
func New(cfg Config) *Detector {
	keywords := make([]string, 0, len(cfg.BlockedKeywords))
	for _, kw := range cfg.BlockedKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return &Detector{
		cfg:            cfg,
		keywords:       keywords,
		bandwidthBytes: cfg.BandwidthThresholdMB * 1024 * 1024,
		uploadKbps:     cfg.UploadRateThresholdMBps * 1024,
		downloadKbps:   cfg.DownloadRateThresholdMBps * 1024,
	}
}

// Evaluate runs all rules against the snapshot in a fixed order and merges
// the findings. blockedDomains is the externally managed denylist, treated
// as configuration. Severity is the maximum among triggering rules;
// findings keep rule-evaluation order.
func (d *Detector) Evaluate(snap *domain.Snapshot, blockedDomains []string) domain.Verdict {
	verdict := domain.Verdict{Severity: domain.SeverityLow}

	record := func(finding string, sev domain.Severity) {
		verdict.Findings = append(verdict.Findings, finding)
		verdict.Severity = verdict.Severity.Escalate(sev)
	}

	if flagged := d.matchBlockedProcesses(snap.Processes); len(flagged) > 0 {
		verdict.FlaggedProcesses = flagged
		record("Blocked application detected: "+strings.Join(flagged, ", "), domain.SeverityHigh)
	}

	if finding, ok := d.checkBandwidth(snap.BytesSent, snap.BytesRecv); ok {
		record(finding, domain.SeverityMedium)
	}

	if len(snap.Destinations) > 0 {
		if finding, ok := d.checkDomains(snap.Destinations, blockedDomains); ok {
			record(finding, domain.SeverityHigh)
		}
		if n := len(snap.Destinations); n > d.cfg.MaxConnections {
			record(fmt.Sprintf("Excessive network connections detected: %d active connections (limit: %d)",
				n, d.cfg.MaxConnections), domain.SeverityMedium)
		}
	}

	if snap.CPUPercent != nil && *snap.CPUPercent > d.cfg.CPUThresholdPercent {
		record(fmt.Sprintf("High CPU usage detected: %.1f%% (threshold: %g%%)",
			*snap.CPUPercent, d.cfg.CPUThresholdPercent), domain.SeverityMedium)
	}
	if snap.MemoryPercent != nil && *snap.MemoryPercent > d.cfg.MemoryThresholdPercent {
		record(fmt.Sprintf("High memory usage detected: %.1f%% (threshold: %g%%)",
			*snap.MemoryPercent, d.cfg.MemoryThresholdPercent), domain.SeverityMedium)
	}
	if snap.DiskPercent != nil && *snap.DiskPercent > d.cfg.DiskThresholdPercent {
		record(fmt.Sprintf("High disk usage detected: %.1f%% (threshold: %g%%)",
			*snap.DiskPercent, d.cfg.DiskThresholdPercent), domain.SeverityMedium)
	}

	if snap.UploadRateKbps != nil && *snap.UploadRateKbps > d.uploadKbps {
		record(fmt.Sprintf("Excessive upload rate detected: %.1f KB/s (threshold: %.1f MB/s)",
			*snap.UploadRateKbps, d.cfg.UploadRateThresholdMBps), domain.SeverityHigh)
	}
	if snap.DownloadRateKbps != nil && *snap.DownloadRateKbps > d.downloadKbps {
		record(fmt.Sprintf("Excessive download rate detected: %.1f KB/s (threshold: %.1f MB/s)",
			*snap.DownloadRateKbps, d.cfg.DownloadRateThresholdMBps), domain.SeverityMedium)
	}

	verdict.Violated = len(verdict.Findings) > 0
	return verdict
}

// IsProcessBlocked checks a single process name against the blocked
// keywords.
func (d *Detector) IsProcessBlocked(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range d.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// BlockedKeywords returns a copy of the normalized keyword list.
func (d *Detector) BlockedKeywords() []string {
	return append([]string(nil), d.keywords...)
}
