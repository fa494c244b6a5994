package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Schedule       ScheduleConfig       `yaml:"schedule"`
	Closing        ClosingConfig        `yaml:"closing"`
	Notifier       NotifierConfig       `yaml:"notifier"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx", "ent" or "bolt"
	// Path is the database file used by the bolt driver.
	Path string `yaml:"path"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds health HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds leader election settings.
type LeaderElectionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"` // "kubernetes" or "redis"

	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`

	RedisAddress  string `yaml:"redis_address"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// ScheduleConfig controls when settlement runs are triggered.
type ScheduleConfig struct {
	// Cron is a robfig/cron expression (optional seconds field).
	Cron       string `yaml:"cron"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// ClosingConfig holds auction closing rules.
type ClosingConfig struct {
	// MinAgeDays is how many calendar days an auction stays open.
	MinAgeDays int `yaml:"min_age_days"`
	// Workers bounds how many auctions are closed in parallel.
	Workers int `yaml:"workers"`
}

// NotifierConfig selects how closings are announced.
type NotifierConfig struct {
	Kinds   []string      `yaml:"kinds"` // any of "log", "discord", "event"
	Discord DiscordConfig `yaml:"discord"`
}

// DiscordConfig holds Discord notifier settings.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Defaults returns the configuration used for keys absent from the file.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "sqlx",
			Path:    "settlement.db",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "settler",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			Backend:        "kubernetes",
			LeaseName:      "settler-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
			RedisAddress:   "localhost:6379",
		},
		Schedule: ScheduleConfig{
			Cron: "0 0 1 * * *",
		},
		Closing: ClosingConfig{
			MinAgeDays: 7,
			Workers:    1,
		},
		Notifier: NotifierConfig{
			Kinds: []string{"log"},
		},
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlx", "ent":
	case "bolt":
		if c.Database.Path == "" {
			return fmt.Errorf("bolt driver requires database.path")
		}
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\", \"ent\" or \"bolt\"", c.Database.Driver)
	}

	if c.LeaderElection.Enabled {
		switch c.LeaderElection.Backend {
		case "kubernetes", "redis":
		default:
			return fmt.Errorf("unsupported leader election backend %q", c.LeaderElection.Backend)
		}
	}

	if c.Schedule.Cron == "" {
		return fmt.Errorf("schedule.cron must not be empty")
	}
	if c.Closing.MinAgeDays < 1 {
		return fmt.Errorf("closing.min_age_days must be at least 1")
	}
	if c.Closing.Workers < 1 {
		return fmt.Errorf("closing.workers must be at least 1")
	}

	for _, k := range c.Notifier.Kinds {
		switch k {
		case "log", "event":
		case "discord":
			if c.Notifier.Discord.Token == "" || c.Notifier.Discord.ChannelID == "" {
				return fmt.Errorf("discord notifier requires token and channel_id")
			}
		default:
			return fmt.Errorf("unsupported notifier %q", k)
		}
	}
	return nil
}
