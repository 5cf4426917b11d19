package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables, e.g.
// SYSTRAY_HOST_CALL_TIMEOUT.
const EnvPrefix = "SYSTRAY"

// Load loads configuration from defaults, the optional config file,
// environment variables, and flags, in increasing order of precedence.
//
// Flags are bound by name, so a flag "log-level" overrides "logging.level"
// only if it is mapped in flagKeys.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setupViper(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if flags != nil {
		for key, flag := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
				}
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// flagKeys maps configuration keys to command line flags.
var flagKeys = map[string]string{
	"host.call-timeout":    "timeout",
	"host.id":              "host-id",
	"watcher.enabled":      "watcher",
	"watcher.track-owners": "track-owners",
	"metrics.listen":       "metrics-listen",
	"logging.level":        "log-level",
	"logging.enable-file":  "log-to-file",
	"logging.log-dir":      "log-dir",
	"output.format":        "format",
}

func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	// host.call-timeout is read from SYSTRAY_HOST_CALL_TIMEOUT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// Defaults are registered so that AutomaticEnv sees every key.
	defaults := DefaultConfig()
	v.SetDefault("host.id", defaults.Host.ID)
	v.SetDefault("host.call-timeout", defaults.Host.CallTimeout)
	v.SetDefault("startup.ready-timeout", defaults.Startup.ReadyTimeout)
	v.SetDefault("startup.settle-delay", defaults.Startup.SettleDelay)
	v.SetDefault("watcher.enabled", defaults.Watcher.Enabled)
	v.SetDefault("watcher.track-owners", defaults.Watcher.TrackOwners)
	v.SetDefault("metrics.listen", defaults.Metrics.Listen)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.enable-file", defaults.Logging.EnableFile)
	v.SetDefault("logging.enable-console", defaults.Logging.EnableConsole)
	v.SetDefault("logging.filename", defaults.Logging.Filename)
	v.SetDefault("logging.log-dir", defaults.Logging.LogDir)
	v.SetDefault("logging.max-size", defaults.Logging.MaxSize)
	v.SetDefault("logging.max-backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.max-age", defaults.Logging.MaxAge)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
	v.SetDefault("logging.json-format", defaults.Logging.JSONFormat)
	v.SetDefault("output.format", defaults.Output.Format)
}
