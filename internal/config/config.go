package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the coordinator process's top-level configuration, loaded
// from a YAML file.
type Config struct {
	// Database identifies the logical database this coordinator owns.
	Database string `yaml:"database"`

	// DataDir is where the BoltDB-backed backing store keeps its file.
	DataDir string `yaml:"dataDir"`

	// LogLevel is one of debug/info/warn/error.
	LogLevel string `yaml:"logLevel"`

	// LogJSON selects JSON output instead of the human-readable console
	// format.
	LogJSON bool `yaml:"logJSON"`

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint, e.g. ":9090". Empty disables the endpoint.
	MetricsAddr string `yaml:"metricsAddr"`
}

// Default returns a Config with the same defaults cmd/idbcoordinatord
// falls back to when no file is supplied.
func Default() Config {
	return Config{
		Database:    "default",
		DataDir:     "./data",
		LogLevel:    "info",
		LogJSON:     false,
		MetricsAddr: ":9090",
	}
}

// Load reads and parses a YAML config file, starting from Default() so
// the file only needs to override what it cares about.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Database == "" {
		return Config{}, fmt.Errorf("config: database must not be empty")
	}
	return cfg, nil
}
