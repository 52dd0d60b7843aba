package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pilotline/internal/action"
)

const (
	DefaultHeartbeatTTLSeconds = 120
	DefaultDeletionBatchSize   = 50
)

// Config models pilotline.yml.
type Config struct {
	Nodes struct {
		HeartbeatTTLSeconds int `yaml:"heartbeat_ttl_seconds"`
	} `yaml:"nodes"`
	Deletion struct {
		BatchSize int `yaml:"batch_size"`
	} `yaml:"deletion"`
	Policies struct {
		Presets map[string]PolicyPreset `yaml:"presets"`
	} `yaml:"policies"`
	Dispatch struct {
		Enabled         bool `yaml:"enabled"`
		IntervalSeconds int  `yaml:"interval_seconds"`
	} `yaml:"dispatch"`
}

// PolicyPreset is a named launch policy: one model per role plus free-form
// options carried into the snapshot.
type PolicyPreset struct {
	Models  map[string]string `yaml:"models"`
	Options map[string]any    `yaml:"options,omitempty"`
}

// HeartbeatTTLSeconds returns the configured node freshness window.
func (c *Config) HeartbeatTTLSeconds() int {
	if c == nil || c.Nodes.HeartbeatTTLSeconds <= 0 {
		return DefaultHeartbeatTTLSeconds
	}
	return c.Nodes.HeartbeatTTLSeconds
}

// DeletionBatchSize returns the per-table row budget of one deletion step.
func (c *Config) DeletionBatchSize() int {
	if c == nil || c.Deletion.BatchSize <= 0 {
		return DefaultDeletionBatchSize
	}
	return c.Deletion.BatchSize
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Policies.Presets) == 0 {
		return fmt.Errorf("config.policies.presets is required")
	}
	for name, preset := range c.Policies.Presets {
		if len(preset.Models) == 0 {
			return fmt.Errorf("preset %s has no models", name)
		}
		for role, model := range preset.Models {
			if !action.ValidRole(role) {
				return fmt.Errorf("preset %s has unknown role %s", name, role)
			}
			if !action.ValidModel(model) {
				return fmt.Errorf("preset %s has unknown model %s for role %s", name, model, role)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pilotline.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `nodes:
  heartbeat_ttl_seconds: 120

deletion:
  batch_size: 50

dispatch:
  enabled: false
  interval_seconds: 2

policies:
  presets:
    balanced:
      models:
        supervisor: standard
        planner: standard
        coder: standard
        reviewer: standard
      options:
        auto_retry: true
        review_every_phase: true

    economical:
      models:
        supervisor: standard
        planner: lite
        coder: lite
        reviewer: standard
      options:
        auto_retry: false
        review_every_phase: false

    thorough:
      models:
        supervisor: max
        planner: max
        coder: standard
        reviewer: max
      options:
        auto_retry: true
        review_every_phase: true
`
