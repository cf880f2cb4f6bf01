// Package config loads the warden configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full daemon configuration. It is loaded once at
// startup and injected into constructors; nothing reads it as mutable
// package state.
type Config struct {
	// RootDir is the shared root under which the watched directory and
	// all agent partitions live.
	RootDir string `yaml:"root_dir"`
	// DBPath is the SQLite registry location.
	DBPath string `yaml:"db_path"`
	// ListenAddr is the status API listen address.
	ListenAddr string `yaml:"listen_addr"`
	// PollSeconds is the poll loop interval.
	PollSeconds int `yaml:"poll_seconds"`
	// Timezone is the IANA zone used when computing task next-run
	// instants. Empty means local time.
	Timezone string `yaml:"timezone"`
	// Controller identifies the controller's own agent entry.
	Controller ControllerConfig `yaml:"controller"`
	// ModelAliases maps short model hints to canonical runtime model
	// identifiers. Unrecognized hints pass through unchanged.
	ModelAliases map[string]string `yaml:"model_aliases"`
}

// ControllerConfig names the controller's own identity and the aliases
// under which spec files may address it.
type ControllerConfig struct {
	Identity string   `yaml:"identity"`
	Aliases  []string `yaml:"aliases"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		RootDir:     filepath.Join(homeDir, "warden"),
		DBPath:      filepath.Join(homeDir, ".warden", "warden.db"),
		ListenAddr:  "127.0.0.1:7410",
		PollSeconds: 15,
		Controller: ControllerConfig{
			Identity: "warden",
			Aliases:  []string{"warden-agent", "controller"},
		},
		ModelAliases: map[string]string{
			"opus":   "claude-opus-4",
			"sonnet": "claude-sonnet-4",
			"haiku":  "claude-3-5-haiku",
		},
	}
}

// Load reads a YAML config file, filling unset fields from defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.PollSeconds <= 0 {
		cfg.PollSeconds = DefaultConfig().PollSeconds
	}
	return cfg, nil
}

// LoadOrDefault loads the config at path, falling back to defaults when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// OpsDir is the watched spec drop directory.
func (c *Config) OpsDir() string {
	return filepath.Join(c.RootDir, "agent-ops")
}

// Interval is the poll loop interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// Location resolves the configured timezone, defaulting to local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// ResolveModel maps a model hint through the alias table. Unknown hints
// pass through unchanged.
func (c *Config) ResolveModel(hint string) string {
	if canonical, ok := c.ModelAliases[strings.ToLower(strings.TrimSpace(hint))]; ok {
		return canonical
	}
	return hint
}

// IsSelf reports whether name addresses the controller's own identity,
// matching the identity or any alias case-insensitively.
func (c *Config) IsSelf(name string) bool {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, c.Controller.Identity) {
		return true
	}
	for _, alias := range c.Controller.Aliases {
		if strings.EqualFold(name, alias) {
			return true
		}
	}
	return false
}
