// Package config provides configuration loading for lockwatchd.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fyrsmithlabs/lockwatchd/internal/directory"
	"github.com/fyrsmithlabs/lockwatchd/internal/logging"
	"github.com/fyrsmithlabs/lockwatchd/internal/notify"
)

// Config is the root configuration for the daemon.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Logging   logging.Config   `koanf:"logging"`
	Database  DatabaseConfig   `koanf:"database"`
	Monitor   MonitorConfig    `koanf:"monitor"`
	LockCloud LockCloudConfig  `koanf:"lockcloud"`
	Directory directory.Config `koanf:"directory"`
	Notify    notify.Config    `koanf:"notify"`
	Telemetry TelemetryConfig  `koanf:"telemetry"`
}

// TelemetryConfig is the OTLP export section. Validation happens in the
// telemetry package when the providers are built.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	SamplingRate   float64  `koanf:"sampling_rate"`
	MetricsEnabled bool     `koanf:"metrics_enabled"`
	ExportInterval Duration `koanf:"export_interval"`
}

// ServerConfig configures the health and metrics HTTP server.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures the strike ledger store.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// MonitorConfig configures detection and scheduling.
type MonitorConfig struct {
	// Units are the organizational units polled each cycle, in order.
	Units []string `koanf:"units"`

	ViolationThreshold Duration `koanf:"violation_threshold"`
	CooldownWindow     Duration `koanf:"cooldown_window"`
	DecayWindow        Duration `koanf:"decay_window"`

	// CheckSchedule and DecaySchedule are standard cron expressions.
	CheckSchedule string `koanf:"check_schedule"`
	DecaySchedule string `koanf:"decay_schedule"`
}

// LockCloudConfig configures the lock service client.
type LockCloudConfig struct {
	BaseURL            string   `koanf:"base_url"`
	Email              string   `koanf:"email"`
	Password           Secret   `koanf:"password"`
	WhitelistLocations []string `koanf:"whitelist_locations"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging = logging.NewDefaultConfig()
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "lockwatch.db"
	}

	if cfg.Monitor.ViolationThreshold == 0 {
		cfg.Monitor.ViolationThreshold = Duration(24 * time.Hour)
	}
	if cfg.Monitor.CooldownWindow == 0 {
		cfg.Monitor.CooldownWindow = Duration(20 * time.Hour)
	}
	if cfg.Monitor.DecayWindow == 0 {
		cfg.Monitor.DecayWindow = Duration(30 * 24 * time.Hour)
	}
	if cfg.Monitor.CheckSchedule == "" {
		cfg.Monitor.CheckSchedule = "0 0 * * *" // daily at midnight
	}
	if cfg.Monitor.DecaySchedule == "" {
		cfg.Monitor.DecaySchedule = "0 1 * * 0" // Sundays at 01:00
	}

	if cfg.Directory.Columns == (directory.Columns{}) {
		cfg.Directory.Columns = directory.Columns{
			Supervisor: "A",
			Gender:     "B",
			Firstname:  "D",
			Lastname:   "E",
			CardUID:    "K",
		}
	}

	if cfg.Notify.Port == 0 {
		cfg.Notify.Port = 587
		cfg.Notify.UseTLS = true
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Endpoint == "" {
			cfg.Telemetry.Endpoint = "localhost:4317"
			cfg.Telemetry.Insecure = true
		}
		if cfg.Telemetry.Protocol == "" {
			cfg.Telemetry.Protocol = "grpc"
		}
		if cfg.Telemetry.SamplingRate == 0 {
			cfg.Telemetry.SamplingRate = 1.0
		}
		if cfg.Telemetry.ExportInterval == 0 {
			cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
		}
	}
}

// Validate checks the configuration for a runnable daemon.
func (c *Config) Validate() error {
	if len(c.Monitor.Units) == 0 {
		return errors.New("monitor.units must list at least one unit")
	}
	if c.Monitor.ViolationThreshold.Duration() <= 0 {
		return errors.New("monitor.violation_threshold must be positive")
	}

	parser := cron.ParseStandard
	if _, err := parser(c.Monitor.CheckSchedule); err != nil {
		return fmt.Errorf("invalid monitor.check_schedule: %w", err)
	}
	if _, err := parser(c.Monitor.DecaySchedule); err != nil {
		return fmt.Errorf("invalid monitor.decay_schedule: %w", err)
	}

	if c.LockCloud.BaseURL == "" {
		return errors.New("lockcloud.base_url is required")
	}
	if c.LockCloud.Email == "" || !c.LockCloud.Password.IsSet() {
		return errors.New("lockcloud.email and lockcloud.password are required")
	}

	if c.Directory.Path == "" {
		return errors.New("directory.path is required")
	}
	if len(c.Directory.Worksheets) == 0 {
		return errors.New("directory.worksheets must list at least one worksheet")
	}

	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}
