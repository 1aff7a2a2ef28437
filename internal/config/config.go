package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/flock/internal/instance"
)

// Defaults applied by Validate when a field is omitted.
const (
	DefaultInstance         = "default"
	DefaultRedisAddr        = "localhost:6379"
	DefaultPluginsDir       = "plugins"
	DefaultMaxExecutionTime = 30 * time.Second
	DefaultSliceRows        = 50
	DefaultServerAddr       = "127.0.0.1:8080"
	DefaultLogLevel         = "info"
)

// FlockConfig represents the top-level flock.yml configuration
type FlockConfig struct {
	Version     string         `yaml:"version"`
	Instance    string         `yaml:"instance,omitempty"`
	Redis       RedisConfig    `yaml:"redis"`
	Plugins     PluginsConfig  `yaml:"plugins"`
	Source      DatabaseConfig `yaml:"source"`
	Destination DatabaseConfig `yaml:"destination"`
	Batch       BatchConfig    `yaml:"batch"`
	Server      ServerConfig   `yaml:"server"`
	Log         LogConfig      `yaml:"log"`
}

// RedisConfig locates the durable store holding the batch lock and state.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// PluginsConfig points at the directory of plugin definition files.
type PluginsConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// DatabaseConfig is a SQLite DSN.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// BatchConfig bounds how much work a single poll may do.
type BatchConfig struct {
	MaxExecutionTime string `yaml:"max_execution_time,omitempty"` // Go duration, e.g. "20s"
	SliceRows        int    `yaml:"slice_rows,omitempty"`

	maxExecution time.Duration
}

// ServerConfig configures `flock serve`.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
	Human bool   `yaml:"human,omitempty"`
}

// MaxExecution returns the parsed max_execution_time. Only valid after Validate.
func (b BatchConfig) MaxExecution() time.Duration {
	return b.maxExecution
}

// Validate performs strict validation on the configuration and applies defaults
func (c *FlockConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = DefaultInstance
	}
	if err := instance.ValidateName(c.Instance); err != nil {
		return err
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
	}
	if c.Plugins.Dir == "" {
		c.Plugins.Dir = DefaultPluginsDir
	}

	if c.Source.DSN == "" {
		return fmt.Errorf("source.dsn is required")
	}
	if c.Destination.DSN == "" {
		return fmt.Errorf("destination.dsn is required")
	}
	if c.Source.DSN == c.Destination.DSN {
		return fmt.Errorf("source and destination must be different databases (both are %s)", c.Source.DSN)
	}

	if err := c.Batch.validate(); err != nil {
		return err
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}

	return nil
}

func (b *BatchConfig) validate() error {
	if b.MaxExecutionTime == "" {
		b.maxExecution = DefaultMaxExecutionTime
	} else {
		d, err := time.ParseDuration(b.MaxExecutionTime)
		if err != nil {
			return fmt.Errorf("batch.max_execution_time: invalid duration %q: %w", b.MaxExecutionTime, err)
		}
		if d <= 0 {
			return fmt.Errorf("batch.max_execution_time must be positive, got %s", b.MaxExecutionTime)
		}
		b.maxExecution = d
	}

	if b.SliceRows == 0 {
		b.SliceRows = DefaultSliceRows
	}
	if b.SliceRows < 0 {
		return fmt.Errorf("batch.slice_rows must be >= 1, got %d", b.SliceRows)
	}
	return nil
}

// Load reads and validates flock.yml from the specified path
func Load(path string) (*FlockConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config FlockConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
