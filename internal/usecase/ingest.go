// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"netwarden/internal/detect"
	"netwarden/internal/domain"
)

// IngestResult reports what happened to one submitted snapshot.
type IngestResult struct {
	SnapshotID        int64  `json:"snapshot_id"`
	ViolationDetected bool   `json:"violation_detected"`
	AlertID           *int64 `json:"alert_id,omitempty"`
}

// Ingestor runs the telemetry ingest pipeline: validate, persist, evaluate,
// and raise an alert on violation.
type Ingestor struct {
	telemetry domain.TelemetryStore
	alerts    domain.AlertStore
	policies  domain.DomainPolicyStore
	detector  *detect.Detector
	logger    *zap.Logger
}

// NewIngestor creates an ingest pipeline.
func NewIngestor(
	telemetry domain.TelemetryStore,
	alerts domain.AlertStore,
	policies domain.DomainPolicyStore,
	detector *detect.Detector,
	logger *zap.Logger,
) *Ingestor {
	return &Ingestor{
		telemetry: telemetry,
		alerts:    alerts,
		policies:  policies,
		detector:  detector,
		logger:    logger,
	}
}

// Submit validates and stores a snapshot, then evaluates it. Snapshot
// insertion and alert insertion are independent steps: if the alert insert
// fails after the snapshot is stored, the snapshot is kept and the
// violation is logged and dropped.
func (ing *Ingestor) Submit(ctx context.Context, snap *domain.Snapshot) (*IngestResult, error) {
	if err := normalizeSnapshot(snap); err != nil {
		return nil, err
	}

	id, err := ing.telemetry.SaveSnapshot(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	snap.ID = id

	verdict := ing.detector.Evaluate(snap, ing.policies.BlockedDomains())

	result := &IngestResult{SnapshotID: id, ViolationDetected: verdict.Violated}
	if !verdict.Violated {
		return result, nil
	}

	ing.logger.Warn("policy violation detected",
		zap.String("hostname", snap.Hostname),
		zap.String("severity", string(verdict.Severity)),
		zap.Strings("flagged_processes", verdict.FlaggedProcesses),
		zap.String("reason", verdict.Reason()))

	alert := &domain.Alert{
		Hostname:   snap.Hostname,
		Reason:     verdict.Reason(),
		Severity:   verdict.Severity,
		Status:     domain.AlertActive,
		SnapshotID: &id,
		CreatedAt:  time.Now().UTC(),
	}
	alertID, err := ing.alerts.CreateAlert(ctx, alert)
	if err != nil {
		// Snapshot is already stored; the violation is lost, not the data.
		ing.logger.Warn("failed to store alert for violation",
			zap.String("hostname", snap.Hostname),
			zap.Error(err))
		return result, nil
	}
	result.AlertID = &alertID

	return result, nil
}

// Recent returns the newest stored snapshots, newest first.
func (ing *Ingestor) Recent(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	snaps, err := ing.telemetry.RecentSnapshots(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snaps, nil
}

// normalizeSnapshot trims the hostname and cleans the process list.
// Rejected snapshots are never partially stored.
func normalizeSnapshot(snap *domain.Snapshot) error {
	snap.Hostname = strings.TrimSpace(snap.Hostname)
	if snap.Hostname == "" {
		return fmt.Errorf("%w: hostname cannot be empty", domain.ErrValidation)
	}

	cleaned := make([]string, 0, len(snap.Processes))
	for _, p := range snap.Processes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	snap.Processes = cleaned

	if snap.ReceivedAt.IsZero() {
		snap.ReceivedAt = time.Now().UTC()
	}
	return nil
}
