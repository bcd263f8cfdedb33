// Package config provides configuration structures and loading logic for the scraper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the scraper.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Output    OutputConfig    `yaml:"output"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig identifies the upstream ArcGIS feature service.
type ServiceConfig struct {
	URL          string   `yaml:"url"`
	BaseFilename string   `yaml:"base_filename"`
	Tags         []string `yaml:"tags"`
}

// OutputConfig controls where generated files are staged.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// DatasetConfig points at the static HDX metadata merged into every dataset.
type DatasetConfig struct {
	StaticMetadata string `yaml:"static_metadata"`
}

// RetrieverConfig tunes the HTTP retriever toward the feature service.
type RetrieverConfig struct {
	RequestTimeoutMS  int    `yaml:"request_timeout_ms"`
	MaxRetries        int    `yaml:"max_retries"`
	InitialBackoffMS  int    `yaml:"initial_backoff_ms"`
	MaxBackoffMS      int    `yaml:"max_backoff_ms"`
	RequestsPerSecond int    `yaml:"requests_per_second"`
	Burst             int    `yaml:"burst"`
	SavedDir          string `yaml:"saved_dir"`
	Save              bool   `yaml:"save"`
	UseSaved          bool   `yaml:"use_saved"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Service: ServiceConfig{
			BaseFilename: "protected_conserved_areas_WDPCA",
		},
		Output: OutputConfig{
			Dir: "output",
		},
		Retriever: RetrieverConfig{
			RequestTimeoutMS:  30000,
			MaxRetries:        3,
			InitialBackoffMS:  500,
			MaxBackoffMS:      10000,
			RequestsPerSecond: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("UNEP_SERVICE_URL"); val != "" {
		cfg.Service.URL = val
	}
	if val := os.Getenv("UNEP_BASE_FILENAME"); val != "" {
		cfg.Service.BaseFilename = val
	}
	if val := os.Getenv("UNEP_TAGS"); val != "" {
		tags := strings.Split(val, ",")
		cfg.Service.Tags = cfg.Service.Tags[:0]
		for _, tag := range tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				cfg.Service.Tags = append(cfg.Service.Tags, tag)
			}
		}
	}

	if val := os.Getenv("UNEP_OUTPUT_DIR"); val != "" {
		cfg.Output.Dir = val
	}
	if val := os.Getenv("UNEP_STATIC_METADATA"); val != "" {
		cfg.Dataset.StaticMetadata = val
	}

	if val := os.Getenv("UNEP_SAVED_DIR"); val != "" {
		cfg.Retriever.SavedDir = val
	}
	if val := os.Getenv("UNEP_SAVE"); val == "true" {
		cfg.Retriever.Save = true
	}
	if val := os.Getenv("UNEP_USE_SAVED"); val == "true" {
		cfg.Retriever.UseSaved = true
	}
	if val := os.Getenv("UNEP_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Retriever.MaxRetries = n
		}
	}

	if val := os.Getenv("UNEP_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("UNEP_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("UNEP_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service configuration: %w", err)
	}
	if err := c.Retriever.Validate(); err != nil {
		return fmt.Errorf("retriever configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	return nil
}

// Validate checks the feature service settings.
func (s *ServiceConfig) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
		return fmt.Errorf("url must be an http(s) URL, got %q", s.URL)
	}
	if s.BaseFilename == "" {
		return fmt.Errorf("base_filename is required")
	}
	return nil
}

// Validate checks the retriever settings.
func (r *RetrieverConfig) Validate() error {
	if r.RequestTimeoutMS <= 0 {
		return fmt.Errorf("request_timeout_ms must be positive")
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if r.InitialBackoffMS <= 0 {
		return fmt.Errorf("initial_backoff_ms must be positive")
	}
	if r.MaxBackoffMS < r.InitialBackoffMS {
		return fmt.Errorf("max_backoff_ms must be >= initial_backoff_ms")
	}
	if r.Save && r.SavedDir == "" {
		return fmt.Errorf("saved_dir is required when save is enabled")
	}
	if r.UseSaved && r.SavedDir == "" {
		return fmt.Errorf("saved_dir is required when use_saved is enabled")
	}
	if r.Save && r.UseSaved {
		return fmt.Errorf("save and use_saved are mutually exclusive")
	}
	return nil
}

// Validate checks the logging settings.
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("unknown log level %q", l.Level)
}
