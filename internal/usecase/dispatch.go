package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"netwarden/internal/domain"
)

// BroadcastResult reports which endpoints a broadcast targeted.
type BroadcastResult struct {
	Targeted []string `json:"targeted"`
	Created  int      `json:"created"`
}

// Dispatcher implements the command distribution protocol: directives are
// appended to the command log and picked up by endpoints on their next
// poll. Current enforcement state is derived purely from the log.
type Dispatcher struct {
	commands  domain.CommandLog
	telemetry domain.TelemetryStore
	logger    *zap.Logger
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(commands domain.CommandLog, telemetry domain.TelemetryStore, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{commands: commands, telemetry: telemetry, logger: logger}
}

// Enqueue appends a new pending directive. Unknown endpoints are accepted:
// the endpoint may not have reported yet but can still receive the
// directive on its first poll.
func (d *Dispatcher) Enqueue(ctx context.Context, endpoint string, action domain.Action, resource, reason string) (int64, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return 0, fmt.Errorf("%w: endpoint cannot be empty", domain.ErrValidation)
	}
	if !action.Valid() {
		return 0, fmt.Errorf("%w: unknown action %q", domain.ErrValidation, action)
	}
	resource = strings.ToLower(strings.TrimSpace(resource))
	if action.RequiresResource() && resource == "" {
		return 0, fmt.Errorf("%w: action %s requires a resource", domain.ErrValidation, action)
	}

	id, err := d.commands.Append(ctx, &domain.Directive{
		Endpoint:  endpoint,
		Action:    action,
		Resource:  resource,
		Reason:    reason,
		Status:    domain.DeliveryPending,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append directive: %w", err)
	}

	d.logger.Info("directive enqueued",
		zap.Int64("id", id),
		zap.String("endpoint", endpoint),
		zap.String("action", string(action)),
		zap.String("resource", resource))
	return id, nil
}

// Drain returns all pending directives for the endpoint in creation order
// and marks them delivered. Delivery is fire and forget: if the response
// never reaches the endpoint the directives are lost, by design. An
// endpoint with nothing pending gets an empty sequence, never an error.
func (d *Dispatcher) Drain(ctx context.Context, endpoint string) ([]domain.DeliveredDirective, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint cannot be empty", domain.ErrValidation)
	}

	drained, err := d.commands.DrainPending(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to drain directives: %w", err)
	}

	delivered := make([]domain.DeliveredDirective, 0, len(drained))
	for _, dir := range drained {
		delivered = append(delivered, domain.DeliveredDirective{
			Action:   dir.Action,
			Resource: dir.Resource,
			Reason:   dir.Reason,
		})
	}

	if len(delivered) > 0 {
		d.logger.Info("directives delivered",
			zap.String("endpoint", endpoint),
			zap.Int("count", len(delivered)))
	}
	return delivered, nil
}

// CurrentlyBlocked computes the derived enforcement state: a resource is
// blocked iff the latest directive for (endpoint, resource) is
// BLOCK_DOMAIN. One query, grouped in memory; ties in creation time break
// by higher id. The projection is pure and idempotent.
func (d *Dispatcher) CurrentlyBlocked(ctx context.Context, endpoint string) ([]string, error) {
	directives, err := d.commands.ListByEndpoint(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to list directives: %w", err)
	}

	latest := make(map[string]domain.Directive)
	for _, dir := range directives {
		if dir.Resource == "" {
			continue
		}
		cur, ok := latest[dir.Resource]
		if !ok || dir.CreatedAt.After(cur.CreatedAt) ||
			(dir.CreatedAt.Equal(cur.CreatedAt) && dir.ID > cur.ID) {
			latest[dir.Resource] = dir
		}
	}

	blocked := make([]string, 0, len(latest))
	for resource, dir := range latest {
		if dir.Action == domain.ActionBlockDomain {
			blocked = append(blocked, resource)
		}
	}
	sort.Strings(blocked)
	return blocked, nil
}

// Broadcast enqueues the directive once per endpoint that reported
// telemetry within the trailing window. No active endpoints is a valid
// empty broadcast, not an error.
func (d *Dispatcher) Broadcast(ctx context.Context, action domain.Action, resource, reason string, activeWithin time.Duration) (*BroadcastResult, error) {
	endpoints, err := d.telemetry.ActiveHostnames(ctx, time.Now().UTC().Add(-activeWithin))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active endpoints: %w", err)
	}

	result := &BroadcastResult{Targeted: []string{}}
	for _, endpoint := range endpoints {
		if _, err := d.Enqueue(ctx, endpoint, action, resource, reason); err != nil {
			return nil, err
		}
		result.Targeted = append(result.Targeted, endpoint)
		result.Created++
	}

	d.logger.Info("broadcast completed",
		zap.String("action", string(action)),
		zap.String("resource", resource),
		zap.Int("created", result.Created))
	return result, nil
}

// History returns the newest directives across all endpoints.
func (d *Dispatcher) History(ctx context.Context, limit int) ([]domain.Directive, error) {
	return d.commands.Recent(ctx, limit)
}
