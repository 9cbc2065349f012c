package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration lets YAML carry human-readable values like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	td, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(td)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the application configuration
type Config struct {
	Server struct {
		Port        int `yaml:"port"`
		MetricsPort int `yaml:"metrics_port"`
	} `yaml:"server"`

	Database struct {
		Dialect string `yaml:"dialect"` // "sqlite3" or "postgres"
		DSN     string `yaml:"dsn"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	// Permissions maps a role to the actions it may perform. Loaded from
	// configuration so a site can widen or narrow policy (e.g. who may
	// recall) without code changes.
	Permissions map[string][]string `yaml:"permissions"`

	Voice struct {
		ConfidenceThreshold float64  `yaml:"confidence_threshold"`
		DailyBudget         float64  `yaml:"daily_budget"`
		CostPerCall         float64  `yaml:"cost_per_call"`
		TranscribeTimeout   Duration `yaml:"transcribe_timeout"`
	} `yaml:"voice"`

	Anomaly struct {
		DuplicateWindow Duration `yaml:"duplicate_window"`
		StaleAfter      Duration `yaml:"stale_after"`

		// Restrictions lists dietary restrictions by table number, fed to
		// the dietary detector. Typically synced from the reservation
		// system at service start.
		Restrictions map[string][]string `yaml:"restrictions"`
	} `yaml:"anomaly"`

	Sync struct {
		AMQPURL       string   `yaml:"amqp_url"` // empty selects the in-process bus
		SweepInterval Duration `yaml:"sweep_interval"`
		MaxChannels   int      `yaml:"max_channels"`
	} `yaml:"sync"`
}

// Load reads and parses the YAML configuration file, applying defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with workable development defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.MetricsPort = 9090
	cfg.Database.Dialect = "sqlite3"
	cfg.Database.DSN = "expediter.db"
	cfg.Voice.ConfidenceThreshold = 0.7
	cfg.Voice.DailyBudget = 25.0
	cfg.Voice.CostPerCall = 0.006
	cfg.Voice.TranscribeTimeout = Duration(15 * time.Second)
	cfg.Anomaly.DuplicateWindow = Duration(5 * time.Minute)
	cfg.Anomaly.StaleAfter = Duration(20 * time.Minute)
	cfg.Sync.SweepInterval = Duration(30 * time.Second)
	cfg.Sync.MaxChannels = 4
	cfg.Permissions = map[string][]string{
		"cook":   {"start", "bump", "recall"},
		"server": {"start", "bump"},
		"expo":   {"start", "bump", "recall", "bump_table", "bump_all", "set_priority", "archive"},
		"admin":  {"start", "bump", "recall", "bump_table", "bump_all", "set_priority", "archive"},
	}
	return cfg
}

// Allowed reports whether role may perform action under the loaded table.
func (c *Config) Allowed(role, action string) bool {
	for _, a := range c.Permissions[role] {
		if a == action {
			return true
		}
	}
	return false
}
