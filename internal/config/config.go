package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Timezone        string           `yaml:"timezone"`
	Database        DatabaseConfig   `yaml:"database"`
	Listen          ListenConfig     `yaml:"listen"`
	Switch          SwitchConfig     `yaml:"switch"`
	Reconciler      ReconcilerConfig `yaml:"reconciler"`
	History         HistoryConfig    `yaml:"history"`
	Log             LogConfig        `yaml:"log"`
	Devices         []DeviceConfig   `yaml:"devices"`
	ShutdownTimeout Duration         `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ListenConfig contains API server settings
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SwitchConfig contains switch HTTP client settings
type SwitchConfig struct {
	Timeout Duration `yaml:"timeout"` // HTTP timeout for switch requests
}

// ReconcilerConfig contains reconciler settings
type ReconcilerConfig struct {
	Interval     Duration `yaml:"interval"`
	RateLimitRPS float64  `yaml:"rate_limit_rps"`
}

// HistoryConfig contains port event history settings
type HistoryConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// DeviceConfig seeds one managed device on first start. A database that
// already holds devices ignores these entries.
type DeviceConfig struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Port     int    `yaml:"port"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./curfewd.sqlite"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Listen defaults
	if cfg.Listen.Host == "" {
		cfg.Listen.Host = "0.0.0.0"
	}
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 8080
	}

	// Switch defaults
	if cfg.Switch.Timeout == 0 {
		cfg.Switch.Timeout = Duration(10 * time.Second)
	}

	// Reconciler defaults
	if cfg.Reconciler.Interval == 0 {
		cfg.Reconciler.Interval = Duration(1 * time.Minute)
	}
	if cfg.Reconciler.RateLimitRPS == 0 {
		cfg.Reconciler.RateLimitRPS = 5.0
	}

	// History defaults
	if cfg.History.CleanupInterval == 0 {
		cfg.History.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 90
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
