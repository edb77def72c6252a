package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"netwarden/internal/domain"
)

// Alerts manages the alert lifecycle. Alerts are created only by the
// ingest pipeline; the single transition here is active -> resolved.
type Alerts struct {
	store  domain.AlertStore
	logger *zap.Logger
}

// NewAlerts creates the alert manager.
func NewAlerts(store domain.AlertStore, logger *zap.Logger) *Alerts {
	return &Alerts{store: store, logger: logger}
}

// List returns alerts newest first, optionally restricted to active ones.
func (a *Alerts) List(ctx context.Context, activeOnly bool) ([]domain.Alert, error) {
	alerts, err := a.store.Alerts(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// Resolve marks an alert resolved. Resolving an unknown or already
// resolved alert returns ErrNotFound; a resolved alert never reopens.
func (a *Alerts) Resolve(ctx context.Context, id int64) error {
	if err := a.store.ResolveAlert(ctx, id); err != nil {
		return err
	}
	a.logger.Info("alert resolved", zap.Int64("id", id))
	return nil
}
