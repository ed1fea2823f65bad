// Package config loads grits's runtime configuration from YAML, with
// environment-variable overrides and sensible in-code defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every ambient setting the core needs that is not itself one
// of the per-component configs defined closer to their owning packages
// (layers.Config lives in internal/layers, ExecutorConfig in internal/atoms,
// consensus.Config in internal/consensus).
type Config struct {
	Workspace string `yaml:"workspace"`

	LLM struct {
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Logging struct {
		DebugMode bool   `yaml:"debug_mode"`
		Level     string `yaml:"level"`
	} `yaml:"logging"`

	Consensus struct {
		KThreshold       int           `yaml:"k_threshold"`
		MaxAtoms         int           `yaml:"max_atoms"`
		MinVotes         int           `yaml:"min_votes"`
		InitialBatchSize int           `yaml:"initial_batch_size"`
		Timeout          time.Duration `yaml:"timeout"`
		ParallelEnabled  bool          `yaml:"parallel_enabled"`
		DiscardRedFlags  bool          `yaml:"discard_red_flags"`
	} `yaml:"consensus"`

	Orchestrator struct {
		MaxRetries    int           `yaml:"max_retries"`
		RetryDelay    time.Duration `yaml:"retry_delay"`
		MaxParallel   int           `yaml:"max_parallel_tasks"`
	} `yaml:"orchestrator"`
}

// Default returns a Config populated with the system's documented defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.LLM.Provider = "genai"
	cfg.LLM.Model = "gemini-2.5-flash"
	cfg.LLM.Temperature = 0.7
	cfg.Logging.Level = "info"
	cfg.Consensus.KThreshold = 2
	cfg.Consensus.MaxAtoms = 7
	cfg.Consensus.MinVotes = 1
	cfg.Consensus.InitialBatchSize = 3
	cfg.Consensus.Timeout = 60 * time.Second
	cfg.Consensus.ParallelEnabled = true
	cfg.Consensus.DiscardRedFlags = true
	cfg.Orchestrator.MaxRetries = 3
	cfg.Orchestrator.RetryDelay = 2 * time.Second
	cfg.Orchestrator.MaxParallel = 3
	return cfg
}

// Load reads configuration from a YAML file at path. A missing file is not
// an error: the defaults are returned, with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes cfg as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GRITS_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("GRITS_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("GRITS_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}
