// Package config loads the TOML configuration shared by the three binaries.
//
// The daemons read SystemPath; the front-end reads UserPath. A missing file
// is not an error: every field has a default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/downlinkdev/downlink/internal/helper"
)

// SystemPath is read by downlink-helper and downlink-monitor.
const SystemPath = "/etc/downlink/config.toml"

// DefaultInterface is the interface monitored when none is configured.
const DefaultInterface = "awdl0"

// maxInterfaceName is IFNAMSIZ minus the terminating NUL.
const maxInterfaceName = 15

// Config is the on-disk configuration.
type Config struct {
	Interface  string        `toml:"interface"`
	SocketPath string        `toml:"socket_path"`
	StateDir   string        `toml:"state_dir,omitempty"` // empty: state.DefaultDir()
	LogLevel   string        `toml:"log_level"`
	Helper     HelperConfig  `toml:"helper"`
	Monitor    MonitorConfig `toml:"monitor"`
}

// HelperConfig configures downlink-helper.
type HelperConfig struct {
	// AllowedUIDs may connect to the broker in addition to root. Empty
	// allows every local user.
	AllowedUIDs []uint32 `toml:"allowed_uids"`
	// MetricsAddr serves Prometheus metrics when set. Must be loopback.
	MetricsAddr string `toml:"metrics_addr,omitempty"`
}

// MonitorConfig configures downlink-monitor.
type MonitorConfig struct {
	// MetricsTextfile receives the counters in node_exporter textfile
	// format after every intervention.
	MetricsTextfile string `toml:"metrics_textfile,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Interface:  DefaultInterface,
		SocketPath: helper.SocketPath,
		LogLevel:   "info",
	}
}

// UserPath returns $XDG_CONFIG_HOME/downlink/config.toml, or
// ~/.config/downlink/config.toml.
func UserPath() (string, error) {
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		return filepath.Join(d, "downlink", "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, ".config", "downlink", "config.toml"), nil
}

// Load reads path over the defaults. A missing file yields Default().
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return cfg, fmt.Errorf("parse config %s:%d:%d: %w", path, row, col, err)
		}
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// fill restores defaults for keys set to empty strings.
func (c *Config) fill() {
	d := Default()
	if c.Interface == "" {
		c.Interface = d.Interface
	}
	if c.SocketPath == "" {
		c.SocketPath = d.SocketPath
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate checks values that would otherwise fail deep inside a daemon.
func (c Config) Validate() error {
	if n := len(c.Interface); n == 0 || n > maxInterfaceName {
		return fmt.Errorf("interface %q: name must be 1-%d bytes", c.Interface, maxInterfaceName)
	}
	if !filepath.IsAbs(c.SocketPath) {
		return fmt.Errorf("socket_path %q: must be absolute", c.SocketPath)
	}
	if addr := c.Helper.MetricsAddr; addr != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("helper.metrics_addr %q: %w", addr, err)
		}
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return fmt.Errorf("helper.metrics_addr %q: must be a loopback address", addr)
		}
	}
	return nil
}

// Save writes c to path, creating the parent directory.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
