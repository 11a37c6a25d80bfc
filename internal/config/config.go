// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Filename string `yaml:"filename"`
}

// BookingConfig holds the temporal policy knobs of the reservation engine.
type BookingConfig struct {
	// How long an unpaid hold keeps its slot before the reaper reclaims it.
	HoldTimeoutMinutes int64 `yaml:"hold_timeout_minutes"`
	// Reaper cadence in seconds.
	ReaperIntervalSeconds int64 `yaml:"reaper_interval_seconds"`
	// Cron expression for the sweep that completes past reservations.
	CompletionCron string `yaml:"completion_cron"`
}

func (c BookingConfig) HoldTimeout() time.Duration {
	return time.Duration(c.HoldTimeoutMinutes) * time.Minute
}

func (c BookingConfig) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSeconds) * time.Second
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
	} `yaml:"app"`

	Database DatabaseConfig `yaml:"database"`

	Booking BookingConfig `yaml:"booking"`

	Features struct {
		EnableMetrics bool   `yaml:"enable_metrics"`
		MetricsAddr   string `yaml:"metrics_addr"`
		EnableDebug   bool   `yaml:"enable_debug"`
	} `yaml:"features"`
}

// Load loads both .env and yaml configuration
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	// Read and parse YAML config
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	cfg.applyDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Booking.HoldTimeoutMinutes == 0 {
		c.Booking.HoldTimeoutMinutes = 5
	}
	if c.Booking.ReaperIntervalSeconds == 0 {
		c.Booking.ReaperIntervalSeconds = 60
	}
	if c.Booking.CompletionCron == "" {
		c.Booking.CompletionCron = "*/5 * * * *"
	}
	if c.Features.MetricsAddr == "" {
		c.Features.MetricsAddr = ":9090"
	}
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Filename == "" {
			return fmt.Errorf("database filename is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Booking.HoldTimeoutMinutes < 0 {
		return fmt.Errorf("hold timeout must not be negative")
	}
	if c.Booking.ReaperIntervalSeconds < 0 {
		return fmt.Errorf("reaper interval must not be negative")
	}

	return nil
}
