// Package config loads and validates urpo's YAML configuration file,
// matching the option tree in spec.md §6. Grounded on cmd/tempo/main.go's
// read -> envsubst.EvalEnv -> yaml.Unmarshal pipeline, swapped to
// yaml.v3's plain yaml.Unmarshal since urpo has no dskit-style flag
// overlay to reconcile against. Unknown keys are ignored, not rejected.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"
)

// Theme is the UI color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// Server holds the receiver's listen configuration.
type Server struct {
	GRPCPort      int `yaml:"grpc_port"`
	HTTPPort      int `yaml:"http_port"`
	MaxConnections int `yaml:"max_connections"`
}

// Storage bounds the in-memory store and its cleanup cadence.
type Storage struct {
	MaxSpans         int      `yaml:"max_spans"`
	MaxMemoryMB      int      `yaml:"max_memory_mb"`
	RetentionDuration Duration `yaml:"retention_duration"`
	CleanupInterval   Duration `yaml:"cleanup_interval"`
}

// Sampling carries the default and per-service sampling rates.
type Sampling struct {
	DefaultRate float64            `yaml:"default_rate"`
	PerService  map[string]float64 `yaml:"per_service"`
}

// RateFor resolves the effective rate for service, applying the
// per-service override when one is configured (spec.md §6,
// "per_service overrides default_rate").
func (s Sampling) RateFor(service string) float64 {
	if r, ok := s.PerService[service]; ok {
		return r
	}
	return s.DefaultRate
}

// UI configures the (external, TUI-equivalent) presentation layer's
// refresh cadence and look, carried for config-schema completeness even
// though the TUI itself is out of scope (spec.md §1).
type UI struct {
	RefreshRate Duration `yaml:"refresh_rate"`
	Theme       Theme    `yaml:"theme"`
	VimMode     bool     `yaml:"vim_mode"`
}

// Logging selects the logger's verbosity and file rotation policy.
type Logging struct {
	Level    string `yaml:"level"`
	Rotation string `yaml:"rotation"`
}

// Features gates optional, non-core behavior.
type Features struct {
	EnableFakeSpans bool `yaml:"enable_fake_spans"`
	Experimental    bool `yaml:"experimental"`
}

// Monitoring controls the health monitor's background cadence.
type Monitoring struct {
	HealthCheckInterval Duration `yaml:"health_check_interval"`
}

// Config is the full recognized option tree (spec.md §6).
type Config struct {
	Server     Server     `yaml:"server"`
	Storage    Storage    `yaml:"storage"`
	Sampling   Sampling   `yaml:"sampling"`
	UI         UI         `yaml:"ui"`
	Logging    Logging    `yaml:"logging"`
	Features   Features   `yaml:"features"`
	Monitoring Monitoring `yaml:"monitoring"`
}

// Default mirrors the defaults named throughout spec.md §4 and §6.
func Default() Config {
	return Config{
		Server:  Server{GRPCPort: 4317, HTTPPort: 4318, MaxConnections: 1024},
		Storage: Storage{MaxSpans: 1_000_000, MaxMemoryMB: 2048, RetentionDuration: Duration(time.Hour), CleanupInterval: Duration(30 * time.Second)},
		Sampling: Sampling{DefaultRate: 1.0},
		UI:       UI{RefreshRate: Duration(time.Second), Theme: ThemeAuto},
		Logging:  Logging{Level: "info", Rotation: "never"},
		Monitoring: Monitoring{HealthCheckInterval: Duration(time.Second)},
	}
}

// Load reads path, expands ${VAR} references against the process
// environment via envsubst (the same library cmd/tempo/main.go uses for
// its own config preprocessing), and unmarshals into a Config seeded
// with Default().
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded, err := envsubst.EvalEnv(string(raw))
	if err != nil {
		return Config{}, fmt.Errorf("config: expand env vars in %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the cross-field invariants spec.md §6/§7 names.
func (c Config) Validate() error {
	if c.Server.GRPCPort == c.Server.HTTPPort {
		return fmt.Errorf("config: grpc_port and http_port must differ (both %d)", c.Server.GRPCPort)
	}
	if c.Sampling.DefaultRate < 0 || c.Sampling.DefaultRate > 1 {
		return fmt.Errorf("config: sampling.default_rate must be in [0,1], got %v", c.Sampling.DefaultRate)
	}
	for svc, r := range c.Sampling.PerService {
		if r < 0 || r > 1 {
			return fmt.Errorf("config: sampling.per_service[%s] must be in [0,1], got %v", svc, r)
		}
	}
	switch c.UI.Theme {
	case ThemeLight, ThemeDark, ThemeAuto, "":
	default:
		return fmt.Errorf("config: ui.theme %q is not one of light, dark, auto", c.UI.Theme)
	}
	switch c.Logging.Rotation {
	case "never", "hourly", "daily", "":
	default:
		return fmt.Errorf("config: logging.rotation %q is not one of never, hourly, daily", c.Logging.Rotation)
	}
	return nil
}
