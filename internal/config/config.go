// Package config loads termkeeper configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (TERMKEEPER_*)
//  2. Config file
//  3. Built-in defaults
//
// Config file search order:
//  1. .termkeeper.yaml in current directory
//  2. ~/.config/termkeeper/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all termkeeper configuration.
type Config struct {
	// Session settings
	Workspace string `yaml:"workspace"` // Workspace identity the session name is derived from
	Session   string `yaml:"session"`   // Explicit session name, overrides the derived one
	AppName   string `yaml:"app_name"`  // Label for the global base window
	Socket    string `yaml:"socket"`    // Dedicated tmux server socket path

	// Activity monitoring
	Activity    bool   `yaml:"activity"`     // Enable activity/idle tracking
	ControlMode bool   `yaml:"control_mode"` // Use the control-mode event stream instead of polling
	Poll        string `yaml:"poll"`         // Go duration string, e.g. "1s"
	ActiveDelay string `yaml:"active_delay"` // Go duration string, e.g. "1500ms"
	Grace       string `yaml:"grace"`        // Go duration string, e.g. "5s"

	// Reconciliation
	Reconcile string `yaml:"reconcile"` // Go duration string, e.g. "5s"

	// Watch TUI refresh
	Refresh string `yaml:"refresh"` // Go duration string, e.g. "2s"

	// Event publishing
	EventSocket string `yaml:"event_socket"` // Unix datagram socket for lifecycle events (empty: disabled)
	EventTTL    string `yaml:"event_ttl"`    // Retention of the in-memory event log, e.g. "10m"

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// Parsed durations (not from YAML, set after loading)
	PollDuration        time.Duration `yaml:"-"`
	ActiveDelayDuration time.Duration `yaml:"-"`
	GraceDuration       time.Duration `yaml:"-"`
	ReconcileDuration   time.Duration `yaml:"-"`
	RefreshDuration     time.Duration `yaml:"-"`
	EventTTLDuration    time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		AppName:     "termkeeper",
		Activity:    true,
		Poll:        "1s",
		ActiveDelay: "1500ms",
		Grace:       "5s",
		Reconcile:   "5s",
		Refresh:     "2s",
		EventTTL:    "10m",
	}
}

// Load reads configuration from file and environment variables.
// Environment variables always override file values.
func Load() (*Config, error) {
	cfg := Defaults()

	// Try to load config file
	if path, data, err := findConfigFile(); err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg)
	}

	// Environment variables override everything
	mergeEnv(cfg)

	// Parse durations
	for _, d := range []struct {
		name     string
		raw      string
		fallback time.Duration
		out      *time.Duration
	}{
		{"poll", cfg.Poll, time.Second, &cfg.PollDuration},
		{"active_delay", cfg.ActiveDelay, 1500 * time.Millisecond, &cfg.ActiveDelayDuration},
		{"grace", cfg.Grace, 5 * time.Second, &cfg.GraceDuration},
		{"reconcile", cfg.Reconcile, 5 * time.Second, &cfg.ReconcileDuration},
		{"refresh", cfg.Refresh, 2 * time.Second, &cfg.RefreshDuration},
		{"event_ttl", cfg.EventTTL, 10 * time.Minute, &cfg.EventTTLDuration},
	} {
		v, err := parseDurationOrDisable(d.raw, d.fallback)
		if err != nil {
			return nil, fmt.Errorf("invalid %s interval %q: %w", d.name, d.raw, err)
		}
		*d.out = v
	}

	return cfg, nil
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	// 1. Current directory
	if data, err := os.ReadFile(".termkeeper.yaml"); err == nil {
		return ".termkeeper.yaml", data, nil
	}

	// 2. XDG config dir / ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "termkeeper", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	if file.Workspace != "" {
		cfg.Workspace = file.Workspace
	}
	if file.Session != "" {
		cfg.Session = file.Session
	}
	if file.AppName != "" {
		cfg.AppName = file.AppName
	}
	if file.Socket != "" {
		cfg.Socket = file.Socket
	}
	if file.Activity {
		cfg.Activity = file.Activity
	}
	if file.ControlMode {
		cfg.ControlMode = file.ControlMode
	}
	if file.Poll != "" {
		cfg.Poll = file.Poll
	}
	if file.ActiveDelay != "" {
		cfg.ActiveDelay = file.ActiveDelay
	}
	if file.Grace != "" {
		cfg.Grace = file.Grace
	}
	if file.Reconcile != "" {
		cfg.Reconcile = file.Reconcile
	}
	if file.Refresh != "" {
		cfg.Refresh = file.Refresh
	}
	if file.EventSocket != "" {
		cfg.EventSocket = file.EventSocket
	}
	if file.EventTTL != "" {
		cfg.EventTTL = file.EventTTL
	}
	if file.OTELEndpoint != "" {
		cfg.OTELEndpoint = file.OTELEndpoint
	}
	if file.OTELHeaders != "" {
		cfg.OTELHeaders = file.OTELHeaders
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) {
	if v := os.Getenv("TERMKEEPER_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("TERMKEEPER_SESSION"); v != "" {
		cfg.Session = v
	}
	if v := os.Getenv("TERMKEEPER_APP_NAME"); v != "" {
		cfg.AppName = v
	}
	if v := os.Getenv("TERMKEEPER_SOCKET"); v != "" {
		cfg.Socket = v
	}
	if v := os.Getenv("TERMKEEPER_ACTIVITY"); v == "false" || v == "0" {
		cfg.Activity = false
	}
	if v := os.Getenv("TERMKEEPER_CONTROL_MODE"); v == "true" || v == "1" {
		cfg.ControlMode = true
	}
	if v := os.Getenv("TERMKEEPER_POLL"); v != "" {
		cfg.Poll = v
	}
	if v := os.Getenv("TERMKEEPER_ACTIVE_DELAY"); v != "" {
		cfg.ActiveDelay = v
	}
	if v := os.Getenv("TERMKEEPER_GRACE"); v != "" {
		cfg.Grace = v
	}
	if v := os.Getenv("TERMKEEPER_RECONCILE"); v != "" {
		cfg.Reconcile = v
	}
	if v := os.Getenv("TERMKEEPER_REFRESH"); v != "" {
		cfg.Refresh = v
	}
	if v := os.Getenv("TERMKEEPER_EVENT_SOCKET"); v != "" {
		cfg.EventSocket = v
	}
	if v := os.Getenv("TERMKEEPER_EVENT_TTL"); v != "" {
		cfg.EventTTL = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		cfg.OTELHeaders = v
	}
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
