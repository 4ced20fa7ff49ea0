package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	IDSOC IDSOCConfig `yaml:"idsoc"`
}

// IDSOCConfig is the project configuration.
type IDSOCConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Input       InputConfig       `yaml:"input"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// InputConfig controls streaming event input.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls the Redis list consumer.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// CatalogConfig controls detection rule parameter overrides.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// CorrelationConfig controls the correlation engine and incident grouping.
type CorrelationConfig struct {
	Workers     int           `yaml:"workers"`
	MergeWindow time.Duration `yaml:"merge_window"`
}

// SimulationConfig controls seeding the store with generated telemetry at
// startup.
type SimulationConfig struct {
	Enabled      bool  `yaml:"enabled"`
	PerScenario  int   `yaml:"per_scenario"`
	BenignEvents int   `yaml:"benign_events"`
	Seed         int64 `yaml:"seed"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
