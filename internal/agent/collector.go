// Package agent implements the endpoint-side monitor: collect telemetry,
// report it, poll for directives and enforce them.
package agent

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"netwarden/internal/domain"
)

const (
	// maxResolvedDestinations caps reverse DNS lookups per collection so a
	// machine with thousands of connections doesn't stall the report loop.
	maxResolvedDestinations = 25
	resolveTimeout          = 500 * time.Millisecond
)

// Collector gathers one telemetry snapshot per call and derives transfer
// rates from the previous call's counters.
type Collector struct {
	hostname string
	logger   *zap.Logger

	// lookupAddr is swappable for tests.
	lookupAddr func(ctx context.Context, ip string) ([]string, error)

	lastSent   uint64
	lastRecv   uint64
	lastSample time.Time
	dnsCache   map[string]string
}

// NewCollector creates a collector reporting as hostname.
func NewCollector(hostname string, logger *zap.Logger) *Collector {
	return &Collector{
		hostname:   hostname,
		logger:     logger,
		lookupAddr: net.DefaultResolver.LookupAddr,
		dnsCache:   make(map[string]string),
	}
}

// Collect builds a snapshot of the machine's current network and system
// state. Metrics that fail to read are left nil rather than failing the
// whole snapshot.
func (c *Collector) Collect(ctx context.Context) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{
		Hostname:  c.hostname,
		AgentTime: time.Now().UTC().Format(time.RFC3339),
	}

	snap.Processes = c.processNames(ctx)
	snap.Destinations, snap.ActiveConnections = c.destinations(ctx)

	counters, err := gnet.IOCountersWithContext(ctx, false)
	if err != nil || len(counters) == 0 {
		c.logger.Warn("failed to read network counters", zap.Error(err))
	} else {
		snap.BytesSent = counters[0].BytesSent
		snap.BytesRecv = counters[0].BytesRecv
		c.fillRates(snap)
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = &percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		used := vm.UsedPercent
		snap.MemoryPercent = &used
	}
	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		used := usage.UsedPercent
		snap.DiskPercent = &used
	}

	return snap, nil
}

// processNames returns the lowercased, deduplicated names of running
// processes.
func (c *Collector) processNames(ctx context.Context) []string {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		c.logger.Warn("failed to list processes", zap.Error(err))
		return nil
	}

	seen := make(map[string]struct{}, len(procs))
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // Process may have exited
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// destinations lists established remote endpoints, resolving domains for a
// bounded prefix of them. All established connections count toward the
// total, resolved or not.
func (c *Collector) destinations(ctx context.Context) ([]domain.Destination, *int) {
	conns, err := gnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		c.logger.Warn("failed to list connections", zap.Error(err))
		return nil, nil
	}

	var dests []domain.Destination
	resolved := 0
	count := 0
	seen := make(map[string]struct{})

	for _, conn := range conns {
		if conn.Status != "ESTABLISHED" || conn.Raddr.IP == "" {
			continue
		}
		count++

		key := conn.Raddr.IP
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		dest := domain.Destination{
			IP:   conn.Raddr.IP,
			Port: int(conn.Raddr.Port),
		}
		if resolved < maxResolvedDestinations {
			dest.Domain = c.resolveDomain(ctx, conn.Raddr.IP)
			resolved++
		}
		dests = append(dests, dest)
	}

	return dests, &count
}

// resolveDomain reverse-resolves an IP, caching results for the lifetime
// of the collector. Failures yield an empty domain.
func (c *Collector) resolveDomain(ctx context.Context, ip string) string {
	if cached, ok := c.dnsCache[ip]; ok {
		return cached
	}

	lookupCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	names, err := c.lookupAddr(lookupCtx, ip)
	domainName := ""
	if err == nil && len(names) > 0 {
		domainName = strings.ToLower(strings.TrimSuffix(names[0], "."))
	}
	c.dnsCache[ip] = domainName
	return domainName
}

// fillRates computes KB/s transfer rates from the previous sample's
// counters. The first sample has no baseline and reports no rates.
func (c *Collector) fillRates(snap *domain.Snapshot) {
	now := time.Now()
	defer func() {
		c.lastSent = snap.BytesSent
		c.lastRecv = snap.BytesRecv
		c.lastSample = now
	}()

	if c.lastSample.IsZero() {
		return
	}
	elapsed := now.Sub(c.lastSample).Seconds()
	if elapsed <= 0 {
		return
	}
	// Counters reset on reboot; skip the sample instead of reporting a
	// huge negative delta wrapped to uint64.
	if snap.BytesSent < c.lastSent || snap.BytesRecv < c.lastRecv {
		return
	}

	up := float64(snap.BytesSent-c.lastSent) / 1024 / elapsed
	down := float64(snap.BytesRecv-c.lastRecv) / 1024 / elapsed
	snap.UploadRateKbps = &up
	snap.DownloadRateKbps = &down
}
