package config

import (
	"fmt"
	"time"
)

// Output formats of the item listing.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Config is the configuration of systrayd.
type Config struct {
	Host    HostConfig    `json:"host" mapstructure:"host"`
	Startup StartupConfig `json:"startup" mapstructure:"startup"`
	Watcher WatcherConfig `json:"watcher" mapstructure:"watcher"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Logging *LogConfig    `json:"logging,omitempty" mapstructure:"logging"`
	Output  OutputConfig  `json:"output" mapstructure:"output"`
}

// HostConfig configures the host and the item proxies it creates.
type HostConfig struct {
	// ID is the suffix of the host bus name. Empty means the process ID.
	ID          string        `json:"id,omitempty" mapstructure:"id"`
	CallTimeout time.Duration `json:"call_timeout" mapstructure:"call-timeout"`
}

// StartupConfig configures the rendezvous between watcher and host.
type StartupConfig struct {
	ReadyTimeout time.Duration `json:"ready_timeout" mapstructure:"ready-timeout"`
	SettleDelay  time.Duration `json:"settle_delay" mapstructure:"settle-delay"`
}

// WatcherConfig configures the embedded watcher.
type WatcherConfig struct {
	Enabled     bool `json:"enabled" mapstructure:"enabled"`
	TrackOwners bool `json:"track_owners" mapstructure:"track-owners"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	// Listen is the HTTP address of /metrics and /healthz. Empty disables it.
	Listen string `json:"listen,omitempty" mapstructure:"listen"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// OutputConfig configures how items are printed.
type OutputConfig struct {
	Format string `json:"format" mapstructure:"format"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Host: HostConfig{
			CallTimeout: 50 * time.Millisecond,
		},
		Startup: StartupConfig{
			ReadyTimeout: 5 * time.Second,
			SettleDelay:  100 * time.Millisecond,
		},
		Watcher: WatcherConfig{
			Enabled:     true,
			TrackOwners: false,
		},
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    false,
			EnableConsole: true,
			Filename:      "systrayd.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
		},
		Output: OutputConfig{
			Format: FormatTable,
		},
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Host.CallTimeout <= 0 {
		return fmt.Errorf("host.call-timeout must be positive, got %s", c.Host.CallTimeout)
	}

	if c.Startup.ReadyTimeout <= 0 {
		return fmt.Errorf("startup.ready-timeout must be positive, got %s", c.Startup.ReadyTimeout)
	}

	if c.Startup.SettleDelay < 0 {
		return fmt.Errorf("startup.settle-delay must not be negative, got %s", c.Startup.SettleDelay)
	}

	switch c.Output.Format {
	case FormatTable, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("output.format must be one of %s, %s, %s, got %q", FormatTable, FormatJSON, FormatYAML, c.Output.Format)
	}

	return nil
}
