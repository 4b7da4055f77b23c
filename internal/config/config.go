// Package config loads the scanner's JSON configuration file and merges
// it with environment variables and built-in defaults, the way
// internal/config does in the teacher repository this module is
// descended from — except the config file here is JSON (per spec),
// not YAML.
package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections recognized by the scanner.
type Config struct {
	Scanner   ScannerConfig             `mapstructure:"scanner"`
	Protocols map[string]ProtocolConfig `mapstructure:"protocols"`
	DNS       DNSConfig                 `mapstructure:"dns"`
	Output    OutputConfig              `mapstructure:"output"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Vendor    VendorConfig              `mapstructure:"vendor"`
}

// ScannerConfig holds the core engine's tunables (spec.md §6.2).
type ScannerConfig struct {
	IOThreadCount  int  `mapstructure:"io_thread_count"`
	CPUThreadCount int  `mapstructure:"cpu_thread_count"`
	BatchSize      int  `mapstructure:"batch_size"`
	DNSTimeoutMs   int  `mapstructure:"dns_timeout_ms"`
	ProbeTimeoutMs int  `mapstructure:"probe_timeout_ms"`
	OnlySuccess    bool `mapstructure:"only_success"`
	MaxWorkCount   int  `mapstructure:"max_work_count"`
	TargetsMaxSize int  `mapstructure:"targets_max_size"`
	ScanAllPorts   bool `mapstructure:"scan_all_ports"`
	RateLimitPPS   int  `mapstructure:"rate_limit_pps"`
}

// ProtocolConfig is the per-protocol enable switch.
type ProtocolConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DNSConfig holds DNS-resolver-specific tunables.
type DNSConfig struct {
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// OutputConfig holds result-pipeline and checkpoint tunables.
type OutputConfig struct {
	Format             interface{} `mapstructure:"format"` // string or []string
	Directory          string      `mapstructure:"directory"`
	WriteMode          string      `mapstructure:"write_mode"`
	ToConsole          bool        `mapstructure:"to_console"`
	FlushIntervalMs    int         `mapstructure:"flush_interval_ms"`
	CheckpointInterval int         `mapstructure:"checkpoint_interval"`
	AMQP               AMQPConfig  `mapstructure:"amqp"`
}

// AMQPConfig configures the optional result-pipeline message-bus sink.
type AMQPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// VendorConfig configures the optional vendor-classification step.
type VendorConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	PatternFile         string  `mapstructure:"pattern_file"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// Load reads configuration from the given JSON path, falling back to
// built-in defaults if the file is absent, then applies SCANNER_-
// prefixed environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scanner_config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		// An explicit path (SetConfigFile) that does not exist surfaces
		// as a *fs.PathError rather than ConfigFileNotFoundError.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// Config file not found; use defaults and env vars.
	}

	v.SetEnvPrefix("SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scanner.io_thread_count", 0) // 0 => derived from CPU count
	v.SetDefault("scanner.cpu_thread_count", 0)
	v.SetDefault("scanner.batch_size", 200)
	v.SetDefault("scanner.dns_timeout_ms", 3000)
	v.SetDefault("scanner.probe_timeout_ms", 0) // 0 => adaptive
	v.SetDefault("scanner.only_success", false)
	v.SetDefault("scanner.max_work_count", 0) // 0 => unconfigured, derive from FD limit
	v.SetDefault("scanner.targets_max_size", 100000)
	v.SetDefault("scanner.scan_all_ports", false)
	v.SetDefault("scanner.rate_limit_pps", 0) // 0 => unlimited admission rate

	v.SetDefault("dns.timeout_ms", 3000)

	v.SetDefault("output.format", "text")
	v.SetDefault("output.directory", "./result")
	v.SetDefault("output.write_mode", "stream")
	v.SetDefault("output.to_console", false)
	v.SetDefault("output.flush_interval_ms", 5000)
	v.SetDefault("output.checkpoint_interval", 1000)
	v.SetDefault("output.amqp.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("vendor.enabled", false)
	v.SetDefault("vendor.similarity_threshold", 0.7)
}

// OutputFormats normalizes Output.Format (string or array) to a slice.
func (c *Config) OutputFormats() []string {
	switch v := c.Output.Format.(type) {
	case string:
		return []string{normalizeFormat(v)}
	case []string:
		out := make([]string, len(v))
		for i, f := range v {
			out[i] = normalizeFormat(f)
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, f := range v {
			if s, ok := f.(string); ok {
				out = append(out, normalizeFormat(s))
			}
		}
		return out
	default:
		return []string{"text"}
	}
}

func normalizeFormat(f string) string {
	if f == "txt" {
		return "text"
	}
	return f
}
