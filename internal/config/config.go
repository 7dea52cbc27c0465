// Package config holds the hivemind runtime configuration, loaded from a
// YAML file under the workspace .hivemind directory with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all hivemind configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Knowledge base storage
	Store StoreConfig `yaml:"store"`

	// Maintenance passes
	Refine RefineConfig `yaml:"refine"`

	// Guard policies
	Policy PolicyConfig `yaml:"policy"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// RefineConfig configures the action refinement pass.
type RefineConfig struct {
	FailureThreshold float64 `yaml:"failure_threshold"`
	MinActions       int     `yaml:"min_actions"`
	WindowHours      int     `yaml:"window_hours"`
}

// PolicyConfig configures the policy enforcer.
type PolicyConfig struct {
	// File is a YAML policy set loaded at startup. Empty means none.
	File string `yaml:"file"`
}

// LoggingConfig configures category file logging.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode" json:"debug_mode"`
	Format    string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "hivemind",
		Version: "0.3.0",

		Store: StoreConfig{
			DatabasePath: filepath.Join(".hivemind", "hivemind.db"),
		},

		Refine: RefineConfig{
			FailureThreshold: 0.3,
			MinActions:       3,
			WindowHours:      24,
		},

		Policy: PolicyConfig{},

		Logging: LoggingConfig{
			DebugMode: false,
			Format:    "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadDefault loads the config from the workspace .hivemind directory.
func LoadDefault() (*Config, error) {
	return Load(filepath.Join(FindWorkspaceRoot(), ".hivemind", "config.yaml"))
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("HIVEMIND_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if file := os.Getenv("HIVEMIND_POLICY_FILE"); file != "" {
		c.Policy.File = file
	}
	if v := os.Getenv("HIVEMIND_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = debug
		}
	}
	if v := os.Getenv("HIVEMIND_FAILURE_THRESHOLD"); v != "" {
		if threshold, err := strconv.ParseFloat(v, 64); err == nil && threshold > 0 {
			c.Refine.FailureThreshold = threshold
		}
	}
}

// FindWorkspaceRoot walks up from the working directory looking for an
// existing .hivemind directory; falls back to the working directory itself.
func FindWorkspaceRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for d := dir; ; {
		if info, err := os.Stat(filepath.Join(d, ".hivemind")); err == nil && info.IsDir() {
			return d
		}
		parent := filepath.Dir(d)
		if parent == d {
			return dir
		}
		d = parent
	}
}
