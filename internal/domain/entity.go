// Package domain contains core business entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import (
	"strings"
	"time"
)

// Severity is an alert severity level with a total order:
// low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the numeric position of the severity in the total order.
// Unknown values rank as low.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Escalate returns the higher of the two severities. The current value is
// kept on ties, so the first rule to reach a level wins.
func (s Severity) Escalate(other Severity) Severity {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// Destination is one remote endpoint observed by an agent.
// Domain is empty when reverse DNS failed; such entries still count toward
// the connection total.
type Destination struct {
	IP     string `json:"ip"`
	Port   int    `json:"port"`
	Domain string `json:"domain,omitempty"`
}

// Snapshot is one telemetry report from a managed endpoint.
// It is immutable once constructed: the detector consumes it exactly once
// and the store persists it verbatim.
type Snapshot struct {
	ID           int64         `json:"id"`
	Hostname     string        `json:"hostname"`
	BytesSent    uint64        `json:"bytes_sent"`
	BytesRecv    uint64        `json:"bytes_recv"`
	Processes    []string      `json:"processes"`
	Destinations []Destination `json:"destinations,omitempty"`

	// Optional metrics; nil means "not measured" and never violates.
	CPUPercent        *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent     *float64 `json:"memory_percent,omitempty"`
	DiskPercent       *float64 `json:"disk_percent,omitempty"`
	ActiveConnections *int     `json:"active_connections,omitempty"`
	UploadRateKbps    *float64 `json:"upload_rate_kbps,omitempty"`
	DownloadRateKbps  *float64 `json:"download_rate_kbps,omitempty"`

	AgentTime  string    `json:"timestamp,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Verdict is the detector's evaluation result for one snapshot.
// Invariant: Violated == (len(Findings) > 0) == (Severity > low).
type Verdict struct {
	Violated         bool
	Findings         []string
	Severity         Severity
	FlaggedProcesses []string
}

// Reason joins all findings in rule-evaluation order.
func (v Verdict) Reason() string {
	return strings.Join(v.Findings, "; ")
}

// Alert statuses. An alert transitions active -> resolved exactly once;
// a fresh violation always creates a new alert.
const (
	AlertActive   = "active"
	AlertResolved = "resolved"
)

// Alert is a persisted record of a detected policy violation.
type Alert struct {
	ID         int64      `json:"id"`
	Hostname   string     `json:"hostname"`
	Reason     string     `json:"reason"`
	Severity   Severity   `json:"severity"`
	Status     string     `json:"status"`
	SnapshotID *int64     `json:"snapshot_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Action is a remote-control directive type.
type Action string

const (
	ActionBlockDomain   Action = "BLOCK_DOMAIN"
	ActionUnblockDomain Action = "UNBLOCK_DOMAIN"
	ActionPing          Action = "PING"
)

// Valid reports whether the action is one the system knows.
func (a Action) Valid() bool {
	switch a {
	case ActionBlockDomain, ActionUnblockDomain, ActionPing:
		return true
	}
	return false
}

// RequiresResource reports whether the action needs a target domain/IP.
func (a Action) RequiresResource() bool {
	return a == ActionBlockDomain || a == ActionUnblockDomain
}

// Directive delivery statuses. A directive flips pending -> delivered the
// moment a poll from the matching endpoint observes it; there is no
// enforcement acknowledgment.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
)

// Directive is one administrator-issued instruction in the command log.
// Directives are immutable and never removed; within an
// (endpoint, resource) pair they are totally ordered by (CreatedAt, ID).
type Directive struct {
	ID          int64      `json:"id"`
	Endpoint    string     `json:"endpoint"`
	Action      Action     `json:"action"`
	Resource    string     `json:"resource,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// DeliveredDirective is the wire shape handed to agents on a poll.
// Internal ids and timestamps are stripped.
type DeliveredDirective struct {
	Action   Action `json:"action"`
	Resource string `json:"resource,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
