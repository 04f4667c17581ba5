// Package util provides common utilities for rescuemesh.
package util

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Link-formation retry bounds accepted from configuration.
const (
	MinLinkRetries = 3
	MaxLinkRetries = 30
)

// Config holds all application configuration.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// Node identity and advertised metadata
	NodeID      string  `mapstructure:"node_id"`
	DisplayName string  `mapstructure:"display_name"`
	Role        string  `mapstructure:"role"`
	TriageLevel string  `mapstructure:"triage_level"`
	Battery     int     `mapstructure:"battery"`
	Latitude    float64 `mapstructure:"latitude"`
	Longitude   float64 `mapstructure:"longitude"`

	// auto probes connectivity, on/off pin it
	InternetMode string `mapstructure:"internet_mode"`

	// Relay settings
	ListenPort       int `mapstructure:"listen_port"`
	LinkRetries      int `mapstructure:"link_retries"`
	DefaultTTL       int `mapstructure:"default_ttl"`
	MaxQueueAttempts int `mapstructure:"max_queue_attempts"`

	// Job intervals
	RelayInterval        time.Duration `mapstructure:"relay_interval"`
	DiscoveryInterval    time.Duration `mapstructure:"discovery_interval"`
	ConnectivityInterval time.Duration `mapstructure:"connectivity_interval"`
	RoutePruneInterval   time.Duration `mapstructure:"route_prune_interval"`
	NeighborStaleAfter   time.Duration `mapstructure:"neighbor_stale_after"`

	// Peer group network
	GroupSubnet   string        `mapstructure:"group_subnet"`
	GroupOwnerIP  string        `mapstructure:"group_owner_ip"`
	ScanBatchSize int           `mapstructure:"scan_batch_size"`
	ScanTimeout   time.Duration `mapstructure:"scan_timeout"`

	// Service discovery
	MDNSService string `mapstructure:"mdns_service"`

	// Report settings
	ReportOutputDir string `mapstructure:"report_output_dir"`

	// Web server
	WebPort int `mapstructure:"web_port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".rescuemesh")
	hostname, _ := os.Hostname()

	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		LogFile:  filepath.Join(dataDir, "rescuemesh.log"),

		NodeID:      hostname,
		DisplayName: hostname,
		Role:        "civilian",
		TriageLevel: "none",
		Battery:     100,

		InternetMode: "auto",

		ListenPort:       8888,
		LinkRetries:      15,
		DefaultTTL:       8,
		MaxQueueAttempts: 10,

		RelayInterval:        5 * time.Second,
		DiscoveryInterval:    30 * time.Second,
		ConnectivityInterval: time.Minute,
		RoutePruneInterval:   time.Minute,
		NeighborStaleAfter:   2 * time.Minute,

		GroupSubnet:   "192.168.49.0/24",
		GroupOwnerIP:  "192.168.49.1",
		ScanBatchSize: 25,
		ScanTimeout:   500 * time.Millisecond,

		MDNSService: "_rescuenet._tcp",

		ReportOutputDir: filepath.Join(dataDir, "reports"),
		WebPort:         8080,
	}
}

// LoadConfig loads configuration from file and environment.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	// Ensure config directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	if f := viper.ConfigFileUsed(); f == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(cfg.DataDir)
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("rescuemesh")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can override it.
	viper.SetDefault("data_dir", cfg.DataDir)
	viper.SetDefault("log_level", cfg.LogLevel)
	viper.SetDefault("log_file", cfg.LogFile)
	viper.SetDefault("node_id", cfg.NodeID)
	viper.SetDefault("display_name", cfg.DisplayName)
	viper.SetDefault("role", cfg.Role)
	viper.SetDefault("triage_level", cfg.TriageLevel)
	viper.SetDefault("battery", cfg.Battery)
	viper.SetDefault("latitude", cfg.Latitude)
	viper.SetDefault("longitude", cfg.Longitude)
	viper.SetDefault("internet_mode", cfg.InternetMode)
	viper.SetDefault("listen_port", cfg.ListenPort)
	viper.SetDefault("link_retries", cfg.LinkRetries)
	viper.SetDefault("default_ttl", cfg.DefaultTTL)
	viper.SetDefault("max_queue_attempts", cfg.MaxQueueAttempts)
	viper.SetDefault("relay_interval", cfg.RelayInterval)
	viper.SetDefault("discovery_interval", cfg.DiscoveryInterval)
	viper.SetDefault("connectivity_interval", cfg.ConnectivityInterval)
	viper.SetDefault("route_prune_interval", cfg.RoutePruneInterval)
	viper.SetDefault("neighbor_stale_after", cfg.NeighborStaleAfter)
	viper.SetDefault("group_subnet", cfg.GroupSubnet)
	viper.SetDefault("group_owner_ip", cfg.GroupOwnerIP)
	viper.SetDefault("scan_batch_size", cfg.ScanBatchSize)
	viper.SetDefault("scan_timeout", cfg.ScanTimeout)
	viper.SetDefault("mdns_service", cfg.MDNSService)
	viper.SetDefault("report_output_dir", cfg.ReportOutputDir)
	viper.SetDefault("web_port", cfg.WebPort)

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks bounded settings. Out-of-range link retries are an error
// rather than silently clamped so a typo in the config file is noticed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.LinkRetries < MinLinkRetries || c.LinkRetries > MaxLinkRetries {
		return fmt.Errorf("link_retries must be within [%d,%d], got %d",
			MinLinkRetries, MaxLinkRetries, c.LinkRetries)
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive, got %d", c.DefaultTTL)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port out of range: %d", c.ListenPort)
	}
	if _, _, err := net.ParseCIDR(c.GroupSubnet); err != nil {
		return fmt.Errorf("invalid group_subnet: %w", err)
	}
	if net.ParseIP(c.GroupOwnerIP) == nil {
		return fmt.Errorf("invalid group_owner_ip: %q", c.GroupOwnerIP)
	}
	switch c.InternetMode {
	case "auto", "on", "off":
	default:
		return fmt.Errorf("internet_mode must be auto, on or off, got %q", c.InternetMode)
	}
	return nil
}

// EnsureDir ensures a directory exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}
