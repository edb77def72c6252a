package detect

// Config holds every rule threshold. All comparisons are strict
// greater-than: a value exactly at its threshold does not violate.
type Config struct {
	// BlockedKeywords are matched case-insensitively as substrings of
	// process names.
	BlockedKeywords []string

	// SuspiciousDomainKeywords are fragments matched as substrings of
	// destination domains.
	SuspiciousDomainKeywords []string

	BandwidthThresholdMB      float64
	MaxConnections            int
	CPUThresholdPercent       float64
	MemoryThresholdPercent    float64
	DiskThresholdPercent      float64
	UploadRateThresholdMBps   float64
	DownloadRateThresholdMBps float64
}

// DefaultConfig returns the stock policy thresholds.
func DefaultConfig() Config {
	return Config{
		BlockedKeywords: []string{"torrent", "proxy", "nmap", "wireshark", "metasploit"},
		SuspiciousDomainKeywords: []string{
			"torrent", "proxy", "vpn", "darkweb", "hack", "crack",
			"pirate", "download", "streaming", "gaming",
		},
		BandwidthThresholdMB:      500,
		MaxConnections:            100,
		CPUThresholdPercent:       90,
		MemoryThresholdPercent:    90,
		DiskThresholdPercent:      95,
		UploadRateThresholdMBps:   5,
		DownloadRateThresholdMBps: 10,
	}
}
