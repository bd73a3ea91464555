package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/viper"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "/app/config/researcher.yaml"

// ResearchConfig holds the tree-shape defaults applied when a request
// leaves a knob unset.
type ResearchConfig struct {
	Breadth          int `mapstructure:"breadth"`
	Depth            int `mapstructure:"depth"`
	ConcurrencyLimit int `mapstructure:"concurrency_limit"`
	MaxContextWords  int `mapstructure:"max_context_words"`
}

// CapabilityConfig points at one external HTTP capability endpoint.
type CapabilityConfig struct {
	URL       string `mapstructure:"url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// CapabilitiesConfig names the external capabilities the researcher calls.
type CapabilitiesConfig struct {
	Planner CapabilityConfig `mapstructure:"planner"`
	Search  CapabilityConfig `mapstructure:"search"`
	// Provider labels the search backend for rate-limit resolution.
	Provider string `mapstructure:"provider"`
	// RateLimitsFile locates the per-provider QPM overrides.
	RateLimitsFile string `mapstructure:"rate_limits_file"`
}

// ObservabilityConfig groups metrics, logging, and tracing knobs.
type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Tracing struct {
		Enabled      bool   `mapstructure:"enabled"`
		ServiceName  string `mapstructure:"service_name"`
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"tracing"`
}

// TemporalConfig configures the durable-workflow surface.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// StreamingConfig configures the in-process event ring and the optional
// Redis stream mirror.
type StreamingConfig struct {
	RingCapacity int `mapstructure:"ring_capacity"`
	Redis        struct {
		Enabled      bool   `mapstructure:"enabled"`
		Addr         string `mapstructure:"addr"`
		StreamPrefix string `mapstructure:"stream_prefix"`
		MaxLen       int64  `mapstructure:"max_len"`
	} `mapstructure:"redis"`
}

// Config is the full researcher.yaml shape.
type Config struct {
	Research      ResearchConfig      `mapstructure:"research"`
	Capabilities  CapabilitiesConfig  `mapstructure:"capabilities"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Temporal      TemporalConfig      `mapstructure:"temporal"`
	Streaming     StreamingConfig     `mapstructure:"streaming"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("research.breadth", 4)
	v.SetDefault("research.depth", 2)
	v.SetDefault("research.concurrency_limit", 4)
	v.SetDefault("research.max_context_words", 2500)
	v.SetDefault("capabilities.planner.timeout_ms", 30000)
	v.SetDefault("capabilities.search.timeout_ms", 60000)
	v.SetDefault("capabilities.provider", "default")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 2112)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.service_name", "fathom-researcher")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "fathom-research")
	v.SetDefault("streaming.ring_capacity", 256)
	v.SetDefault("streaming.redis.stream_prefix", "fathom:events")
	v.SetDefault("streaming.redis.max_len", 1000)
}

// Load reads the config file at CONFIG_PATH (or DefaultPath). A missing
// file is not an error; defaults apply.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile reads and validates one named config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate rejects shapes the engine cannot run with.
func (c *Config) Validate() error {
	if c.Research.Breadth < 1 {
		return fmt.Errorf("research.breadth must be >= 1, got %d", c.Research.Breadth)
	}
	if c.Research.Depth < 0 {
		return fmt.Errorf("research.depth must be >= 0, got %d", c.Research.Depth)
	}
	if c.Research.ConcurrencyLimit < 1 {
		return fmt.Errorf("research.concurrency_limit must be >= 1, got %d", c.Research.ConcurrencyLimit)
	}
	if c.Research.MaxContextWords < 0 {
		return fmt.Errorf("research.max_context_words must be >= 0, got %d", c.Research.MaxContextWords)
	}
	if c.Streaming.RingCapacity < 1 {
		return fmt.Errorf("streaming.ring_capacity must be >= 1, got %d", c.Streaming.RingCapacity)
	}
	return nil
}
