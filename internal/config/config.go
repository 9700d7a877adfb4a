// Package config provides TOML configuration file loading for the client.
// The configuration file lives at ~/.moldline/config.toml by default, but can
// be overridden with the --config flag. CLI flags always take precedence over
// file values.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the client configuration file structure.
type Config struct {
	// ChatAPIURL is the base URL of the chat REST API.
	ChatAPIURL string `toml:"chat_api_url"`

	// AuthAPIURL is the base URL of the auth REST API.
	AuthAPIURL string `toml:"auth_api_url"`

	// WSURL is the real-time endpoint, e.g. wss://host/ws.
	WSURL string `toml:"ws_url"`

	// ReconnectDelayMs is the fixed delay between reconnect attempts.
	// Default: 2000
	ReconnectDelayMs int `toml:"reconnect_delay_ms"`

	// HTTPTimeoutMs bounds one REST request.
	// Default: 15000
	HTTPTimeoutMs int `toml:"http_timeout_ms"`

	// CredentialStore selects the backend: file, sqlite or memory.
	// Default: file
	CredentialStore string `toml:"credential_store"`

	// CredentialPath is where the file and sqlite backends keep credentials.
	// Default: ~/.moldline/credentials (file) or ~/.moldline/credentials.db (sqlite)
	CredentialPath string `toml:"credential_path"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// RefreshPerSecond caps conversation list reloads caused by live messages.
	// Default: 2
	RefreshPerSecond float64 `toml:"refresh_per_second"`
}

// Dir returns the client's state directory, ~/.moldline.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".moldline"), nil
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads a TOML config file and fills unset fields with defaults.
//
// An empty path tries the default location and is not an error when that
// file is missing. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); errors.Is(err, os.ErrNotExist) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.ChatAPIURL == "" {
		c.ChatAPIURL = DefaultChatAPIURL
	}
	if c.AuthAPIURL == "" {
		c.AuthAPIURL = DefaultAuthAPIURL
	}
	if c.WSURL == "" {
		c.WSURL = DefaultWSURL
	}
	if c.ReconnectDelayMs == 0 {
		c.ReconnectDelayMs = DefaultReconnectDelayMs
	}
	if c.HTTPTimeoutMs == 0 {
		c.HTTPTimeoutMs = DefaultHTTPTimeoutMs
	}
	if c.CredentialStore == "" {
		c.CredentialStore = DefaultCredentialStore
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.RefreshPerSecond == 0 {
		c.RefreshPerSecond = DefaultRefreshPerSecond
	}
	if c.CredentialPath == "" {
		if dir, err := Dir(); err == nil {
			name := "credentials"
			if c.CredentialStore == "sqlite" {
				name = "credentials.db"
			}
			c.CredentialPath = filepath.Join(dir, name)
		}
	}
}

// Validate rejects values the client cannot run with.
func (c *Config) Validate() error {
	if err := checkURL("chat_api_url", c.ChatAPIURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("auth_api_url", c.AuthAPIURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("ws_url", c.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.ReconnectDelayMs <= 0 {
		return fmt.Errorf("reconnect_delay_ms must be positive, got %d", c.ReconnectDelayMs)
	}
	if c.HTTPTimeoutMs <= 0 {
		return fmt.Errorf("http_timeout_ms must be positive, got %d", c.HTTPTimeoutMs)
	}
	if c.RefreshPerSecond <= 0 {
		return fmt.Errorf("refresh_per_second must be positive, got %v", c.RefreshPerSecond)
	}
	switch c.CredentialStore {
	case "file", "sqlite":
		if c.CredentialPath == "" {
			return fmt.Errorf("credential_path is required for the %s store", c.CredentialStore)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown credential_store %q (want file, sqlite or memory)", c.CredentialStore)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// ReconnectDelay returns ReconnectDelayMs as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// HTTPTimeout returns HTTPTimeoutMs as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutMs) * time.Millisecond
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: %q is not a %s URL", field, raw, schemes[0])
}
