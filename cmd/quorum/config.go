// ABOUTME: YAML config file loading for the quorum CLI, wrapping the orchestrator's typed Config.
// ABOUTME: Validates eagerly so bad files fail before any backend is constructed.
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/2389-research/quorum/orchestrator"
)

// fileConfig is the on-disk YAML shape: the orchestrator's knobs inline plus
// CLI-level paths.
type fileConfig struct {
	orchestrator.Config `yaml:",inline"`

	LogDir   string `yaml:"log_dir"`
	EventLog string `yaml:"event_log"`
}

// loadConfigFile reads, parses, and validates a session config file.
func loadConfigFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := fileConfig{Config: orchestrator.DefaultConfig()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fileConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	if len(cfg.Agents) == 0 {
		return fileConfig{}, fmt.Errorf("invalid config: at least one agent is required")
	}
	for _, a := range cfg.Agents {
		if a.ID == "" {
			return fileConfig{}, fmt.Errorf("invalid config: every agent needs an id")
		}
	}
	return cfg, nil
}
