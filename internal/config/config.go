// Package config loads server and agent settings from file, environment
// and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"netwarden/internal/detect"
)

// ServerConfig holds everything the server binary needs.
type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	APIKey     string `mapstructure:"api_key"`
	DataDir    string `mapstructure:"data_dir"`
	DBKey      string `mapstructure:"db_key"`
	PolicyFile string `mapstructure:"policy_file"`

	Detector DetectorConfig `mapstructure:"detector"`
}

// DetectorConfig is the file/env shape of the detection thresholds.
type DetectorConfig struct {
	BlockedKeywords     []string `mapstructure:"blocked_keywords"`
	SuspiciousFragments []string `mapstructure:"suspicious_fragments"`
	BandwidthLimitMB    float64  `mapstructure:"bandwidth_limit_mb"`
	MaxConnections      int      `mapstructure:"max_connections"`
	CPUThreshold        float64  `mapstructure:"cpu_threshold"`
	MemoryThreshold     float64  `mapstructure:"memory_threshold"`
	DiskThreshold       float64  `mapstructure:"disk_threshold"`
	UploadLimitMBps     float64  `mapstructure:"upload_limit_mbps"`
	DownloadLimitMBps   float64  `mapstructure:"download_limit_mbps"`
}

// AgentConfig holds everything the agent binary needs.
type AgentConfig struct {
	ServerURL      string        `mapstructure:"server_url"`
	APIKey         string        `mapstructure:"api_key"`
	Hostname       string        `mapstructure:"hostname"`
	ReportInterval time.Duration `mapstructure:"report_interval"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("NETWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

// LoadServer reads server configuration. configFile may be empty;
// environment variables use the NETWARDEN_ prefix.
func LoadServer(configFile string) (*ServerConfig, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}

	defaults := detect.DefaultConfig()
	v.SetDefault("addr", ":8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("policy_file", "./data/policies.json")
	v.SetDefault("detector.blocked_keywords", defaults.BlockedKeywords)
	v.SetDefault("detector.suspicious_fragments", defaults.SuspiciousDomainKeywords)
	v.SetDefault("detector.bandwidth_limit_mb", defaults.BandwidthThresholdMB)
	v.SetDefault("detector.max_connections", defaults.MaxConnections)
	v.SetDefault("detector.cpu_threshold", defaults.CPUThresholdPercent)
	v.SetDefault("detector.memory_threshold", defaults.MemoryThresholdPercent)
	v.SetDefault("detector.disk_threshold", defaults.DiskThresholdPercent)
	v.SetDefault("detector.upload_limit_mbps", defaults.UploadRateThresholdMBps)
	v.SetDefault("detector.download_limit_mbps", defaults.DownloadRateThresholdMBps)

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	return &cfg, nil
}

// DetectConfig converts the loaded thresholds into the detector's config.
func (c *ServerConfig) DetectConfig() detect.Config {
	return detect.Config{
		BlockedKeywords:           c.Detector.BlockedKeywords,
		SuspiciousDomainKeywords:  c.Detector.SuspiciousFragments,
		BandwidthThresholdMB:      c.Detector.BandwidthLimitMB,
		MaxConnections:            c.Detector.MaxConnections,
		CPUThresholdPercent:       c.Detector.CPUThreshold,
		MemoryThresholdPercent:    c.Detector.MemoryThreshold,
		DiskThresholdPercent:      c.Detector.DiskThreshold,
		UploadRateThresholdMBps:   c.Detector.UploadLimitMBps,
		DownloadRateThresholdMBps: c.Detector.DownloadLimitMBps,
	}
}

// LoadAgent reads agent configuration.
func LoadAgent(configFile string) (*AgentConfig, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("report_interval", "5s")
	v.SetDefault("poll_interval", "3s")

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent config: %w", err)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server_url cannot be empty")
	}
	return &cfg, nil
}
