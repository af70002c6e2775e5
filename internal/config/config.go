// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `sqlnet:` root key in YAML.
type GlobalConfig struct {
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Output   OutputConfig   `mapstructure:"output"`
}

// ─── Analysis ───

// AnalysisConfig tunes the dissectors.
type AnalysisConfig struct {
	Parallel            bool          `mapstructure:"parallel"`              // Run dissectors concurrently
	SlowBrowserResponse time.Duration `mapstructure:"slow_browser_response"` // SQL Browser latency flagged as slow
	MSRPCLength         string        `mapstructure:"msrpc_length"`          // little_endian | legacy
	TDSPorts            []uint16      `mapstructure:"tds_ports"`
}

// ─── Output ───

// OutputConfig selects the report encoding.
type OutputConfig struct {
	Format string `mapstructure:"format"` // yaml / json
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`  // MB
	MaxAgeDays int  `mapstructure:"max_age_days"` // Days
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `sqlnet: ...`.
type configRoot struct {
	SQLNet GlobalConfig `mapstructure:"sqlnet"`
}

// Load loads configuration from file. An empty path yields the defaults,
// still subject to environment overrides.
// The YAML file uses `sqlnet:` as root key; env vars use the SQLNET_ prefix (e.g., SQLNET_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `sqlnet.` key prefix maps to `SQLNET_` through the key replacer
	// (e.g., key "sqlnet.log.level" → env "SQLNET_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.SQLNet

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "sqlnet." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("sqlnet.log.level", "info")
	v.SetDefault("sqlnet.log.format", "text")
	v.SetDefault("sqlnet.log.outputs.file.enabled", false)
	v.SetDefault("sqlnet.log.outputs.file.path", "")
	v.SetDefault("sqlnet.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("sqlnet.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("sqlnet.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("sqlnet.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("sqlnet.metrics.enabled", false)
	v.SetDefault("sqlnet.metrics.listen", ":9091")
	v.SetDefault("sqlnet.metrics.path", "/metrics")

	// Analysis defaults
	v.SetDefault("sqlnet.analysis.parallel", true)
	v.SetDefault("sqlnet.analysis.slow_browser_response", "990ms")
	v.SetDefault("sqlnet.analysis.msrpc_length", "little_endian")
	v.SetDefault("sqlnet.analysis.tds_ports", []uint16{1433})

	// Output defaults
	v.SetDefault("sqlnet.output.format", "yaml")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("log.outputs.file.path is required when log.outputs.file.enabled=true")
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// ── Analysis validation ──
	if cfg.Analysis.SlowBrowserResponse <= 0 {
		return fmt.Errorf("invalid analysis.slow_browser_response: %s (must be positive)", cfg.Analysis.SlowBrowserResponse)
	}
	cfg.Analysis.MSRPCLength = strings.ToLower(cfg.Analysis.MSRPCLength)
	if cfg.Analysis.MSRPCLength != "little_endian" && cfg.Analysis.MSRPCLength != "legacy" {
		return fmt.Errorf("invalid analysis.msrpc_length: %s (must be little_endian/legacy)", cfg.Analysis.MSRPCLength)
	}
	for _, p := range cfg.Analysis.TDSPorts {
		if p == 0 {
			return fmt.Errorf("invalid analysis.tds_ports: port 0")
		}
	}

	// ── Output validation ──
	cfg.Output.Format = strings.ToLower(cfg.Output.Format)
	if cfg.Output.Format != "yaml" && cfg.Output.Format != "json" {
		return fmt.Errorf("invalid output format: %s (must be yaml/json)", cfg.Output.Format)
	}

	return nil
}
