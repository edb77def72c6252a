package domain

import (
	"context"
	"time"
)

// TelemetryStore persists endpoint snapshots.
// Implementation: SQLite, append-mostly.
type TelemetryStore interface {
	// SaveSnapshot appends a snapshot and returns its id.
	SaveSnapshot(ctx context.Context, snap *Snapshot) (int64, error)

	// RecentSnapshots returns the newest snapshots, newest first.
	RecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error)

	// ActiveHostnames returns endpoints that reported within the window,
	// sorted for deterministic broadcast targeting.
	ActiveHostnames(ctx context.Context, since time.Time) ([]string, error)
}

// AlertStore persists violation alerts.
type AlertStore interface {
	// CreateAlert inserts a new active alert and returns its id.
	CreateAlert(ctx context.Context, alert *Alert) (int64, error)

	// Alerts returns all alerts, newest first. activeOnly restricts the
	// result to unresolved alerts.
	Alerts(ctx context.Context, activeOnly bool) ([]Alert, error)

	// ResolveAlert flips an alert active -> resolved. Returns ErrNotFound
	// when the alert does not exist or is already resolved.
	ResolveAlert(ctx context.Context, id int64) error
}

// CommandLog is the append-only store of administrator directives.
// No directive is ever edited or removed; delivery status is the single
// exception, flipping pending -> delivered exactly once.
type CommandLog interface {
	// Append adds a new pending directive and returns its id.
	// Duplicate (endpoint, resource) pairs are legal; only the latest
	// directive matters for derived state.
	Append(ctx context.Context, d *Directive) (int64, error)

	// DrainPending returns all pending directives for the endpoint ordered
	// by (created_at, id) ascending and marks them delivered in the same
	// transaction, so two concurrent drains never both observe the same
	// directive as undelivered.
	DrainPending(ctx context.Context, endpoint string) ([]Directive, error)

	// ListByEndpoint returns every resource-bearing directive for the
	// endpoint, for the blocked-state projection.
	ListByEndpoint(ctx context.Context, endpoint string) ([]Directive, error)

	// Recent returns the newest directives across all endpoints.
	Recent(ctx context.Context, limit int) ([]Directive, error)
}

// DomainPolicyStore holds the administrator-managed domain lists.
// BlockedDomains is the external denylist the detector reads as
// configuration.
type DomainPolicyStore interface {
	// BlockedDomains returns the blocked list, lowercased.
	BlockedDomains() []string

	// AllowedDomains returns the allow list, lowercased.
	AllowedDomains() []string

	// BlockDomain adds a domain to the blocked list. Adding an already
	// blocked domain is a no-op returning false.
	BlockDomain(domain string) (bool, error)

	// AllowDomain adds a domain to the allow list, removing it from the
	// blocked list if present.
	AllowDomain(domain string) (bool, error)

	// RemoveDomain deletes a domain from both lists, reporting which
	// lists it was removed from.
	RemoveDomain(domain string) ([]string, error)
}
