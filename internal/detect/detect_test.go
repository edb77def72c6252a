package detect

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwarden/internal/domain"
)

func floatp(v float64) *float64 { return &v }

func TestEvaluateCleanSnapshot(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		Hostname:  "lab-01",
		Processes: []string{"chrome.exe", "code.exe", "slack.exe"},
		BytesSent: 10 * 1024 * 1024,
		BytesRecv: 20 * 1024 * 1024,
	}, nil)

	assert.False(t, verdict.Violated)
	assert.Empty(t, verdict.Findings)
	assert.Equal(t, domain.SeverityLow, verdict.Severity)
	assert.Empty(t, verdict.Reason())
}

func TestEvaluateBlockedProcess(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		Hostname:  "lab-01",
		Processes: []string{"chrome.exe", "utorrent.exe"},
	}, nil)

	require.True(t, verdict.Violated)
	assert.Equal(t, []string{"utorrent.exe"}, verdict.FlaggedProcesses)
	assert.Equal(t, domain.SeverityHigh, verdict.Severity)
	assert.Equal(t, "Blocked application detected: utorrent.exe", verdict.Reason())
}

func TestEvaluateBlockedProcessCaseInsensitive(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		Processes: []string{"WireShark.EXE"},
	}, nil)

	require.True(t, verdict.Violated)
	assert.Equal(t, []string{"WireShark.EXE"}, verdict.FlaggedProcesses)
}

func TestEvaluateProcessFlaggedOncePerProcess(t *testing.T) {
	// "torrent-proxy" contains two keywords but is flagged once.
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		Processes: []string{"torrent-proxy"},
	}, nil)

	require.True(t, verdict.Violated)
	assert.Len(t, verdict.FlaggedProcesses, 1)
}

func TestEvaluateBandwidthExceeded(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		BytesSent: 300 * 1024 * 1024,
		BytesRecv: 300 * 1024 * 1024,
	}, nil)

	require.True(t, verdict.Violated)
	assert.Equal(t, domain.SeverityMedium, verdict.Severity)
	assert.Equal(t, "Bandwidth threshold exceeded: 600.00 MB (limit: 500 MB)", verdict.Reason())
}

func TestEvaluateBandwidthExactlyAtThresholdDoesNotTrigger(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		BytesSent: 250 * 1024 * 1024,
		BytesRecv: 250 * 1024 * 1024,
	}, nil)

	assert.False(t, verdict.Violated)
}

func TestEvaluateSuspiciousDomain(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		Destinations: []domain.Destination{
			{IP: "1.2.3.4", Port: 443, Domain: "free-vpn.example.com"},
		},
	}, nil)

	require.True(t, verdict.Violated)
	assert.Equal(t, domain.SeverityHigh, verdict.Severity)
	assert.Equal(t, "Suspicious/blocked domain access detected: free-vpn.example.com", verdict.Reason())
}

func TestEvaluateBlockedPolicyDomain(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		Destinations: []domain.Destination{
			{IP: "1.2.3.4", Port: 443, Domain: "example.org"},
		},
	}, []string{"example.org"})

	require.True(t, verdict.Violated)
	assert.Contains(t, verdict.Reason(), "example.org (blocked policy)")
}

func TestEvaluateDomainsDeduplicatedBeforeExampleCut(t *testing.T) {
	d := New(DefaultConfig())

	// Five distinct suspicious domains, each seen twice.
	var dests []domain.Destination
	for i := 0; i < 2; i++ {
		for j := 0; j < 5; j++ {
			dests = append(dests, domain.Destination{
				IP:     fmt.Sprintf("10.0.%d.%d", i, j),
				Port:   443,
				Domain: fmt.Sprintf("vpn%d.example.com", j),
			})
		}
	}

	verdict := d.Evaluate(&domain.Snapshot{Destinations: dests}, nil)

	require.True(t, verdict.Violated)
	finding := verdict.Findings[0]
	assert.True(t, strings.HasSuffix(finding, "(+2 more)"), finding)
	// Three examples, none repeated.
	assert.Equal(t, 1, strings.Count(finding, "vpn0.example.com"))
}

func TestEvaluateUnresolvedDomainsSkipped(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		Destinations: []domain.Destination{
			{IP: "1.2.3.4", Port: 443},
			{IP: "5.6.7.8", Port: 443},
		},
	}, []string{""})

	assert.False(t, verdict.Violated)
}

func TestEvaluateConnectionCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 3
	d := New(cfg)

	dests := make([]domain.Destination, 4)
	for i := range dests {
		dests[i] = domain.Destination{IP: fmt.Sprintf("10.0.0.%d", i), Port: 80}
	}

	verdict := d.Evaluate(&domain.Snapshot{Destinations: dests}, nil)

	require.True(t, verdict.Violated)
	assert.Equal(t,
		"Excessive network connections detected: 4 active connections (limit: 3)",
		verdict.Reason())
}

func TestEvaluateNilMetricsNeverViolate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CPUThresholdPercent = 0
	cfg.MemoryThresholdPercent = 0
	cfg.DiskThresholdPercent = 0
	cfg.UploadRateThresholdMBps = 0
	cfg.DownloadRateThresholdMBps = 0
	d := New(cfg)

	verdict := d.Evaluate(&domain.Snapshot{}, nil)

	assert.False(t, verdict.Violated)
}

func TestEvaluateResourceThresholds(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		CPUPercent:    floatp(95.5),
		MemoryPercent: floatp(92.1),
		DiskPercent:   floatp(97.0),
	}, nil)

	require.True(t, verdict.Violated)
	require.Len(t, verdict.Findings, 3)
	assert.Equal(t, "High CPU usage detected: 95.5% (threshold: 90%)", verdict.Findings[0])
	assert.Equal(t, "High memory usage detected: 92.1% (threshold: 90%)", verdict.Findings[1])
	assert.Equal(t, "High disk usage detected: 97.0% (threshold: 95%)", verdict.Findings[2])
	assert.Equal(t, domain.SeverityMedium, verdict.Severity)
}

func TestEvaluateUploadRate(t *testing.T) {
	d := New(DefaultConfig())

	// 6 MB/s in KB/s, above the 5 MB/s threshold.
	verdict := d.Evaluate(&domain.Snapshot{
		UploadRateKbps: floatp(6 * 1024),
	}, nil)

	require.True(t, verdict.Violated)
	assert.Equal(t, domain.SeverityHigh, verdict.Severity)
	assert.Equal(t, "Excessive upload rate detected: 6144.0 KB/s (threshold: 5.0 MB/s)", verdict.Reason())
}

func TestEvaluateDownloadRate(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		DownloadRateKbps: floatp(11 * 1024),
	}, nil)

	require.True(t, verdict.Violated)
	assert.Equal(t, domain.SeverityMedium, verdict.Severity)
	assert.Equal(t, "Excessive download rate detected: 11264.0 KB/s (threshold: 10.0 MB/s)", verdict.Reason())
}

func TestEvaluateRateExactlyAtThresholdDoesNotTrigger(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		UploadRateKbps:   floatp(5 * 1024),
		DownloadRateKbps: floatp(10 * 1024),
	}, nil)

	assert.False(t, verdict.Violated)
}

func TestEvaluateMultipleViolationsMergeInRuleOrder(t *testing.T) {
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		Processes:  []string{"nmap"},
		BytesSent:  600 * 1024 * 1024,
		CPUPercent: floatp(99),
	}, nil)

	require.True(t, verdict.Violated)
	require.Len(t, verdict.Findings, 3)
	assert.Contains(t, verdict.Findings[0], "Blocked application")
	assert.Contains(t, verdict.Findings[1], "Bandwidth threshold")
	assert.Contains(t, verdict.Findings[2], "High CPU usage")
	assert.Equal(t, domain.SeverityHigh, verdict.Severity)
	assert.Equal(t, strings.Join(verdict.Findings, "; "), verdict.Reason())
}

func TestSeverityKeptOnTie(t *testing.T) {
	// Two high-severity rules: severity stays high, not escalated further.
	d := New(DefaultConfig())

	verdict := d.Evaluate(&domain.Snapshot{
		Processes:      []string{"metasploit"},
		UploadRateKbps: floatp(100 * 1024),
	}, nil)

	require.True(t, verdict.Violated)
	assert.Equal(t, domain.SeverityHigh, verdict.Severity)
}

func TestIsProcessBlocked(t *testing.T) {
	d := New(DefaultConfig())

	assert.True(t, d.IsProcessBlocked("uTorrent.exe"))
	assert.True(t, d.IsProcessBlocked("nmap"))
	assert.False(t, d.IsProcessBlocked("chrome.exe"))
}

func TestNewNormalizesKeywords(t *testing.T) {
	d := New(Config{BlockedKeywords: []string{" Torrent ", "", "NMAP"}})

	assert.Equal(t, []string{"torrent", "nmap"}, d.BlockedKeywords())
}
