// Package config handles configuration loading and validation for ecolearn.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kartik102005/ecolearn/internal/core/styles"
)

// Backend modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Config holds the application configuration.
type Config struct {
	Backend       BackendConfig       `yaml:"backend"`
	Local         LocalConfig         `yaml:"local"`
	Timeouts      TimeoutConfig       `yaml:"timeouts"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Database      DatabaseConfig      `yaml:"database"`
	TUI           TUIConfig           `yaml:"tui"`
	// LegacyKeys are KV keys written by older clients. They are removed on sign-out.
	LegacyKeys []string `yaml:"legacy_keys"`
	DataDir    string   `yaml:"-"` // set by caller, not from config file
}

// BackendConfig selects the data backend.
type BackendConfig struct {
	Mode    string `yaml:"mode"`     // local or remote
	URL     string `yaml:"url"`      // project url, remote only
	AnonKey string `yaml:"anon_key"` // public api key, remote only
}

// LocalConfig configures the demo backend.
type LocalConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// TimeoutConfig holds the deadlines applied to backend calls.
type TimeoutConfig struct {
	SessionSoft  time.Duration `yaml:"session_soft"`
	SessionHard  time.Duration `yaml:"session_hard"`
	ProfileFetch time.Duration `yaml:"profile_fetch"`
	SignIn       time.Duration `yaml:"sign_in"`
	SignOut      time.Duration `yaml:"sign_out"`
}

// NotificationsConfig tunes the inbox and event bus.
type NotificationsConfig struct {
	MaxEntries int `yaml:"max_entries"`
	BusBuffer  int `yaml:"bus_buffer"`
}

// DatabaseConfig holds SQLite connection pool settings.
type DatabaseConfig struct {
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

// TUIConfig holds terminal UI settings.
type TUIConfig struct {
	Theme string `yaml:"theme"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{Mode: ModeLocal},
		Local: LocalConfig{
			JWTSecret:  "ecolearn-demo-secret",
			SessionTTL: 7 * 24 * time.Hour,
		},
		Timeouts: TimeoutConfig{
			SessionSoft:  5 * time.Second,
			SessionHard:  10 * time.Second,
			ProfileFetch: 7 * time.Second,
			SignIn:       10 * time.Second,
			SignOut:      5 * time.Second,
		},
		Notifications: NotificationsConfig{
			MaxEntries: 50,
			BusBuffer:  64,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			BusyTimeout:  5 * time.Second,
		},
		TUI:        TUIConfig{Theme: styles.DefaultTheme},
		LegacyKeys: []string{"user", "profile", "eco-user", "eco-profile"},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	d := DefaultConfig()

	if c.Backend.Mode == "" {
		c.Backend.Mode = d.Backend.Mode
	}
	if c.TUI.Theme == "" {
		c.TUI.Theme = d.TUI.Theme
	}
	if c.Local.JWTSecret == "" {
		c.Local.JWTSecret = d.Local.JWTSecret
	}
	if c.Local.SessionTTL == 0 {
		c.Local.SessionTTL = d.Local.SessionTTL
	}

	durations := []struct {
		dst *time.Duration
		def time.Duration
	}{
		{&c.Timeouts.SessionSoft, d.Timeouts.SessionSoft},
		{&c.Timeouts.SessionHard, d.Timeouts.SessionHard},
		{&c.Timeouts.ProfileFetch, d.Timeouts.ProfileFetch},
		{&c.Timeouts.SignIn, d.Timeouts.SignIn},
		{&c.Timeouts.SignOut, d.Timeouts.SignOut},
		{&c.Database.BusyTimeout, d.Database.BusyTimeout},
	}
	for _, v := range durations {
		if *v.dst == 0 {
			*v.dst = v.def
		}
	}

	if c.Notifications.MaxEntries == 0 {
		c.Notifications.MaxEntries = d.Notifications.MaxEntries
	}
	if c.Notifications.BusBuffer == 0 {
		c.Notifications.BusBuffer = d.Notifications.BusBuffer
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = d.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = d.Database.MaxIdleConns
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if !slices.Contains([]string{ModeLocal, ModeRemote}, c.Backend.Mode) {
		return fmt.Errorf("backend.mode must be %q or %q, got %q", ModeLocal, ModeRemote, c.Backend.Mode)
	}

	if c.Backend.Mode == ModeRemote && c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required when backend.mode is %q", ModeRemote)
	}

	if _, ok := styles.GetPalette(c.TUI.Theme); !ok {
		return fmt.Errorf("tui.theme %q is unknown, available: %s", c.TUI.Theme, strings.Join(styles.ThemeNames(), ", "))
	}

	if c.Timeouts.SessionHard < c.Timeouts.SessionSoft {
		return fmt.Errorf("timeouts.session_hard (%s) must not be shorter than timeouts.session_soft (%s)",
			c.Timeouts.SessionHard, c.Timeouts.SessionSoft)
	}

	if c.Notifications.MaxEntries < 1 {
		return fmt.Errorf("notifications.max_entries must be at least 1")
	}

	if c.Notifications.BusBuffer < 0 {
		return fmt.Errorf("notifications.bus_buffer cannot be negative")
	}

	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns cannot exceed database.max_open_conns")
	}

	return nil
}
