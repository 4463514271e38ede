package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/hay-kot/criterio"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// ValidateDeep performs comprehensive validation of the configuration including
// backend reachability settings and file accessibility. The configPath argument
// specifies the config file location to validate (empty string skips config file check).
// This calls Validate() first for basic structural validation, then adds I/O checks.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		c.validateFileAccess(configPath),
		c.validateBackend(),
		c.validateTimeouts(),
	)
}

// Warnings returns non-fatal configuration issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if c.Backend.Mode == ModeLocal && c.Local.JWTSecret == DefaultConfig().Local.JWTSecret {
		warnings = append(warnings, ValidationWarning{
			Category: "Local",
			Item:     "jwt_secret",
			Message:  "using the built-in demo secret; local sessions are not private",
		})
	}
	if c.Backend.Mode == ModeRemote && c.Backend.AnonKey == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Backend",
			Item:     "anon_key",
			Message:  "no anon key set; most hosted projects reject unauthenticated requests",
		})
	}

	return warnings
}

// validateFileAccess checks config file and data directory.
func (c *Config) validateFileAccess(configPath string) error {
	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
	)
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}

func (c *Config) validateBackend() error {
	if c.Backend.Mode != ModeRemote {
		return criterio.Run("local.jwt_secret", c.Local.JWTSecret, minLength(16))
	}
	return criterio.Run("backend.url", c.Backend.URL, isHTTPURL)
}

func isHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func minLength(n int) func(string) error {
	return func(s string) error {
		if len(s) < n {
			return fmt.Errorf("must be at least %d characters", n)
		}
		return nil
	}
}

// validateTimeouts rejects negative deadlines, which would fire immediately.
func (c *Config) validateTimeouts() error {
	var errs criterio.FieldErrorsBuilder
	for _, t := range []struct {
		field string
		d     time.Duration
	}{
		{"timeouts.session_soft", c.Timeouts.SessionSoft},
		{"timeouts.session_hard", c.Timeouts.SessionHard},
		{"timeouts.profile_fetch", c.Timeouts.ProfileFetch},
		{"timeouts.sign_in", c.Timeouts.SignIn},
		{"timeouts.sign_out", c.Timeouts.SignOut},
		{"local.session_ttl", c.Local.SessionTTL},
	} {
		if t.d < 0 {
			errs = errs.Append(t.field, fmt.Errorf("cannot be negative, got %s", t.d))
		}
	}
	return errs.ToError()
}
