// Package config loads the agent runtime's configuration: an optional YAML
// file overridden by environment variables, following the teacher's
// config.Load shape (gopkg.in/yaml.v3, env overrides applied after decode,
// defaults applied after that) at a scale suited to this runtime's much
// smaller surface.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store names the event-store backend an Config.Database section selects.
type Store string

const (
	StoreMemory   Store = "memory"
	StoreSQLite   Store = "sqlite"
	StorePostgres Store = "postgres"
)

// Defaults mirror spec.md §6's hard-coded fallbacks, used whenever the YAML
// file and environment are both silent on a value.
const (
	DefaultTemperature         = 1.0
	DefaultMaxCompletionTokens = 4096
	DefaultMaxToolTurns        = 50
	DefaultMaxOutputSize       = 1048576
	DefaultHistorySize         = 10000
	DefaultSystemPromptCap     = 1024
)

// DatabaseConfig names the event-store backend and its connection
// parameters (spec.md §6 environment variables).
type DatabaseConfig struct {
	Backend Store  `yaml:"backend"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Name    string `yaml:"name"`
	User    string `yaml:"user"`
	SQLite  string `yaml:"sqlite_path"`
}

// ProviderConfig names the default provider/model pair the root agent
// starts with.
type ProviderConfig struct {
	Default string `yaml:"default"`
	Model   string `yaml:"model"`
}

// LimitsConfig holds the numeric fallbacks spec.md §6 names; zero values
// are replaced with the package Default constants by applyDefaults.
type LimitsConfig struct {
	Temperature         float64 `yaml:"temperature"`
	MaxCompletionTokens int     `yaml:"max_completion_tokens"`
	MaxToolTurns        int     `yaml:"max_tool_turns"`
	MaxOutputSize       int     `yaml:"max_output_size"`
	HistorySize         int     `yaml:"history_size"`
	SystemPromptCap     int     `yaml:"system_prompt_cap"`
}

// Config is the agent runtime's top-level configuration.
type Config struct {
	RuntimeDir string         `yaml:"runtime_dir"`
	LogDir     string         `yaml:"log_dir"`
	LogLevel   string         `yaml:"log_level"`
	Database   DatabaseConfig `yaml:"database"`
	Provider   ProviderConfig `yaml:"provider"`
	Limits     LimitsConfig   `yaml:"limits"`
}

// Load reads path as YAML if it exists (a missing file is not an error —
// the runtime is fully usable from environment variables and defaults
// alone), applies environment overrides, then fills in defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// No config file is a valid starting point.
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("IKIGAI_RUNTIME_DIR")); v != "" {
		cfg.RuntimeDir = v
	}
	if v := strings.TrimSpace(os.Getenv("IKIGAI_LOG_DIR")); v != "" {
		cfg.LogDir = v
	}
	if v := strings.TrimSpace(os.Getenv("IKIGAI_DB_HOST")); v != "" {
		cfg.Database.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("IKIGAI_DB_PORT")); v != "" {
		if n, err := parsePort(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("IKIGAI_DB_NAME")); v != "" {
		cfg.Database.Name = v
	}
	if v := strings.TrimSpace(os.Getenv("IKIGAI_DB_USER")); v != "" {
		cfg.Database.User = v
	}
	if v := strings.TrimSpace(os.Getenv("IKIGAI_DEFAULT_PROVIDER")); v != "" {
		cfg.Provider.Default = v
	}
}

func parsePort(v string) (int, error) {
	var n int
	_, err := fmt.Sscanf(v, "%d", &n)
	return n, err
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Backend == "" {
		cfg.Database.Backend = StoreMemory
	}
	if cfg.Provider.Default == "" {
		cfg.Provider.Default = "anthropic"
	}
	if cfg.Limits.Temperature == 0 {
		cfg.Limits.Temperature = DefaultTemperature
	}
	if cfg.Limits.MaxCompletionTokens == 0 {
		cfg.Limits.MaxCompletionTokens = DefaultMaxCompletionTokens
	}
	if cfg.Limits.MaxToolTurns == 0 {
		cfg.Limits.MaxToolTurns = DefaultMaxToolTurns
	}
	if cfg.Limits.MaxOutputSize == 0 {
		cfg.Limits.MaxOutputSize = DefaultMaxOutputSize
	}
	if cfg.Limits.HistorySize == 0 {
		cfg.Limits.HistorySize = DefaultHistorySize
	}
	if cfg.Limits.SystemPromptCap == 0 {
		cfg.Limits.SystemPromptCap = DefaultSystemPromptCap
	}
}
