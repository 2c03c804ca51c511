// Package config loads daemon configuration from environment variables,
// layered under an on-disk YAML file at <state_dir>/config.toml (the name
// is kept for continuity with the daemon's persisted-state layout; the
// content is YAML — see DESIGN.md for the naming/serialization decision).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ConfigVersion is the on-disk config schema version this binary understands.
const ConfigVersion = "1.0.0"

// Config holds daemon configuration.
type Config struct {
	ConfigVersion  string `yaml:"config_version"`
	CurrentVersion string `yaml:"-"` // defaults to 0.1.0 in Load, surfaced read-only at /health as current_version

	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	LogLevel     string `yaml:"log_level"`
	CacheSize    int    `yaml:"cache_size"`
	CacheTTLSecs int    `yaml:"cache_ttl_seconds"`
	AutoStart    bool   `yaml:"auto_start"`
	HealthChecks bool   `yaml:"health_checks"`

	StateDir string `yaml:"-"`
	DataDir  string `yaml:"-"`

	// Proxy / translator settings.
	PrimaryUpstreamURL     string   `yaml:"primary_upstream_url"`
	AlternateUpstreamURL   string   `yaml:"alternate_upstream_url"`
	AlternateAPIKeyEnv     string   `yaml:"alternate_api_key_env"`
	RouteSet               []string `yaml:"route_set"`
	DefaultAlternateModel  string   `yaml:"default_alternate_model"`
	AlternateProviderStyle string   `yaml:"alternate_provider_style"`
	StrictRequestSchema    bool     `yaml:"strict_request_schema"`

	// Model cache settings.
	ModelDownloadMaxRetries int `yaml:"model_download_max_retries"`

	// Permission gate policy defaults.
	DangerouslySkipConfirmations bool `yaml:"dangerously_skip_confirmations"`
	AutoApproveRead               bool `yaml:"auto_approve_read"`
	DefaultTimeoutMS               int  `yaml:"default_timeout_ms"`

	// Agents is the registered agent-type registry surfaced at
	// /api/agents.
	Agents []AgentDefinition `yaml:"agents"`
}

// AgentDefinition is one registered agent type and its routing hint.
type AgentDefinition struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	RouteToAlternate bool `yaml:"route_to_alternate"`
}

// Load builds a Config from a YAML file (if present) overlaid with
// environment variables, falling back to hardcoded defaults.
func Load() (*Config, error) {
	stateDir := envOr("CCO_STATE_DIR", defaultStateDir())
	dataDir := envOr("CCO_DATA_DIR", stateDir)

	cfg := &Config{
		ConfigVersion:                 ConfigVersion,
		Host:                          "127.0.0.1",
		Port:                          3000,
		LogLevel:                      "INFO",
		CacheSize:                     1000,
		CacheTTLSecs:                  300,
		AutoStart:                     false,
		HealthChecks:                  true,
		CurrentVersion:                "0.1.0",
		StateDir:                      stateDir,
		DataDir:                       dataDir,
		PrimaryUpstreamURL:            "https://api.anthropic.com",
		AlternateUpstreamURL:          "https://api.openai.com",
		AlternateAPIKeyEnv:            "CCO_ALTERNATE_API_KEY",
		RouteSet:                      []string{"code-reviewer"},
		DefaultAlternateModel:         "gpt-4o",
		AlternateProviderStyle:        "azure",
		ModelDownloadMaxRetries:       5,
		DangerouslySkipConfirmations: false,
		AutoApproveRead:               true,
		DefaultTimeoutMS:              5000,
		Agents: []AgentDefinition{
			{Type: "general", Description: "default coding agent", RouteToAlternate: false},
			{Type: "code-reviewer", Description: "read-heavy review agent", RouteToAlternate: true},
		},
	}

	configPath := filepath.Join(stateDir, "config.toml")
	if b, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
		if err := checkVersion(cfg.ConfigVersion); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	if v := os.Getenv("CCO_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("CCO_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Port)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CCO_DANGEROUSLY_SKIP_CONFIRMATIONS"); v != "" {
		cfg.DangerouslySkipConfirmations = v == "true"
	}

	if cfg.Host != "127.0.0.1" && cfg.Host != "localhost" && cfg.Host != "::1" {
		return nil, fmt.Errorf("config: refusing to bind non-loopback host %q", cfg.Host)
	}

	return cfg, nil
}

// Save writes cfg to <state_dir>/config.toml atomically.
func Save(cfg *Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", cfg.StateDir, err)
	}
	target := filepath.Join(cfg.StateDir, "config.toml")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, target)
}

func checkVersion(raw string) error {
	if raw == "" {
		return nil
	}
	onDisk, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("config: invalid config_version %q: %w", raw, err)
	}
	understood, _ := semver.NewVersion(ConfigVersion)
	if onDisk.Major() > understood.Major() {
		return fmt.Errorf("config: on-disk config_version %s is newer than this binary understands (%s)", raw, ConfigVersion)
	}
	return nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cco"
	}
	return filepath.Join(home, ".cco")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
