// Package config provides unified configuration management for dirigent.
// Configuration is loaded from multiple sources with the following precedence:
// embedded defaults → global file → env vars → local file → CLI flags
package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/worksonmyai/dirigent/internal/protocol"
)

//go:embed defaults/config.yaml
var defaultsFS embed.FS

// Error indicates invalid configuration values.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// TransportConfig holds chat transport settings.
type TransportConfig struct {
	Binary             string `yaml:"binary"`
	ExtraFlags         string `yaml:"extra_flags"`
	SendTimeoutSeconds int    `yaml:"send_timeout_seconds"`

	SendTimeoutSet bool `yaml:"-"`
}

// GitConfig holds git workflow configuration.
type GitConfig struct {
	BranchPrefix string `yaml:"branch_prefix"`
}

// Config holds all configuration settings for dirigent.
// Fields ending in *Set track whether that field was explicitly set in config.
// This allows distinguishing explicit false/0 from "not set", enabling proper
// merge behavior where local config can override global config with zero values.
type Config struct {
	// Workflow settings
	MaxIterations    int    `yaml:"max_iterations"`
	InitCreateBranch bool   `yaml:"init_create_branch"`
	WriteTests       bool   `yaml:"write_tests"`
	BackgroundMode   bool   `yaml:"background_mode"`
	AgentMode        string `yaml:"agent_mode"`

	// PreferredModels is the ordered model fallback list.
	PreferredModels []string `yaml:"preferred_models"`

	// Idle monitor settings
	IdleTimeoutSeconds    int `yaml:"idle_timeout_seconds"`
	CheckAgentFrequencyMs int `yaml:"check_agent_frequency_ms"`
	EnsureChatFrequencyMs int `yaml:"ensure_chat_frequency_ms"`

	// Settle delays after sends
	SettleShortSeconds int `yaml:"settle_short_seconds"`
	SettleLongSeconds  int `yaml:"settle_long_seconds"`

	Transport TransportConfig `yaml:"transport"`
	Git       GitConfig       `yaml:"git"`

	// Set tracking for merge behavior
	MaxIterationsSet    bool `yaml:"-"`
	InitCreateBranchSet bool `yaml:"-"`
	WriteTestsSet       bool `yaml:"-"`
	BackgroundModeSet   bool `yaml:"-"`
	IdleTimeoutSet      bool `yaml:"-"`
	CheckAgentFreqSet   bool `yaml:"-"`
	EnsureChatFreqSet   bool `yaml:"-"`
	SettleShortSet      bool `yaml:"-"`
	SettleLongSet       bool `yaml:"-"`

	// Private: track where config was loaded from
	configDir string
	localDir  string
	sources   []string
}

// Sources returns the ordered list of sources that contributed to this config.
func (c *Config) Sources() []string {
	return c.sources
}

// LocalDir returns the local project config directory if one was detected.
func (c *Config) LocalDir() string {
	return c.localDir
}

// ConfigDir returns the global config directory.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Load loads all configuration from the default locations.
// It auto-detects .dirigent/ in the current working directory for local
// overrides and installs defaults if needed.
func Load() (*Config, error) {
	globalDir := DefaultConfigDir()

	var localDir string
	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, ".dirigent")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			localDir = candidate
		}
	}

	return LoadWithDirs(globalDir, localDir)
}

// LoadWithDirs loads configuration with explicit global and local directories.
// Local config (.dirigent/) overrides global config (~/.config/dirigent/)
// per-field. If localDir is empty, only global config is used.
func LoadWithDirs(globalDir, localDir string) (*Config, error) {
	if err := InstallDefaults(globalDir); err != nil {
		return nil, fmt.Errorf("install defaults: %w", err)
	}

	cfg, err := loadEmbedded()
	if err != nil {
		return nil, fmt.Errorf("load embedded defaults: %w", err)
	}
	cfg.sources = append(cfg.sources, "embedded")

	globalPath := filepath.Join(globalDir, "config.yaml")
	if globalCfg, err := loadFile(globalPath); err == nil {
		cfg.mergeFrom(globalCfg)
		cfg.sources = append(cfg.sources, globalPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("load global config: %w", err)
	}

	cfg.applyEnv()

	if localDir != "" {
		localPath := filepath.Join(localDir, "config.yaml")
		if localCfg, err := loadFile(localPath); err == nil {
			cfg.mergeFrom(localCfg)
			cfg.sources = append(cfg.sources, localPath)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load local config: %w", err)
		}
	}

	cfg.configDir = globalDir
	cfg.localDir = localDir

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfigDir returns the default global configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "dirigent")
	}
	return filepath.Join(home, ".config", "dirigent")
}

// InstallDefaults creates the config directory and installs default config
// if not exists.
func InstallDefaults(configDir string) error {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	promptsDir := filepath.Join(configDir, "prompts")
	if err := os.MkdirAll(promptsDir, 0o700); err != nil {
		return fmt.Errorf("create prompts dir: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		data, err := defaultsFS.ReadFile("defaults/config.yaml")
		if err != nil {
			return fmt.Errorf("read embedded config: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
	}

	return nil
}

func loadEmbedded() (*Config, error) {
	data, err := defaultsFS.ReadFile("defaults/config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded defaults: %w", err)
	}
	return parseConfig(data)
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user's config file
	if err != nil {
		return nil, err
	}
	return parseConfigWithTracking(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// parseConfigWithTracking parses YAML config and tracks which fields were set.
func parseConfigWithTracking(data []byte) (*Config, error) {
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	track := func(key string, flag *bool) {
		if _, ok := raw[key]; ok {
			*flag = true
		}
	}
	track("max_iterations", &cfg.MaxIterationsSet)
	track("init_create_branch", &cfg.InitCreateBranchSet)
	track("write_tests", &cfg.WriteTestsSet)
	track("background_mode", &cfg.BackgroundModeSet)
	track("idle_timeout_seconds", &cfg.IdleTimeoutSet)
	track("check_agent_frequency_ms", &cfg.CheckAgentFreqSet)
	track("ensure_chat_frequency_ms", &cfg.EnsureChatFreqSet)
	track("settle_short_seconds", &cfg.SettleShortSet)
	track("settle_long_seconds", &cfg.SettleLongSet)

	if tr, ok := raw["transport"].(map[string]any); ok {
		if _, ok := tr["send_timeout_seconds"]; ok {
			cfg.Transport.SendTimeoutSet = true
		}
	}

	return cfg, nil
}

// applyEnv applies environment variables to the config.
// Env vars sit between global and local config in precedence.
func (c *Config) applyEnv() {
	envInt := func(name string, dst *int, set *bool) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
				if set != nil {
					*set = true
				}
				c.sources = append(c.sources, "env:"+name)
			}
		}
	}
	envBool := func(name string, dst *bool, set *bool) {
		if v := os.Getenv(name); v != "" {
			*dst = v == "true" || v == "1"
			if set != nil {
				*set = true
			}
			c.sources = append(c.sources, "env:"+name)
		}
	}

	envInt("DIRIGENT_MAX_ITERATIONS", &c.MaxIterations, &c.MaxIterationsSet)
	envBool("DIRIGENT_CREATE_BRANCH", &c.InitCreateBranch, &c.InitCreateBranchSet)
	envBool("DIRIGENT_WRITE_TESTS", &c.WriteTests, &c.WriteTestsSet)
	envBool("DIRIGENT_BACKGROUND", &c.BackgroundMode, &c.BackgroundModeSet)
	envInt("DIRIGENT_IDLE_TIMEOUT", &c.IdleTimeoutSeconds, &c.IdleTimeoutSet)

	if v := os.Getenv("DIRIGENT_AGENT_MODE"); v != "" {
		c.AgentMode = v
		c.sources = append(c.sources, "env:DIRIGENT_AGENT_MODE")
	}
	if v := os.Getenv("DIRIGENT_MODELS"); v != "" {
		models := strings.Split(v, ",")
		for i := range models {
			models[i] = strings.TrimSpace(models[i])
		}
		c.PreferredModels = models
		c.sources = append(c.sources, "env:DIRIGENT_MODELS")
	}
	if v := os.Getenv("DIRIGENT_AGENT_BINARY"); v != "" {
		c.Transport.Binary = v
		c.sources = append(c.sources, "env:DIRIGENT_AGENT_BINARY")
	}
	if v := os.Getenv("DIRIGENT_AGENT_FLAGS"); v != "" {
		c.Transport.ExtraFlags = v
		c.sources = append(c.sources, "env:DIRIGENT_AGENT_FLAGS")
	}
}

// mergeFrom merges non-empty/set values from src into c.
func (c *Config) mergeFrom(src *Config) {
	mergeInt := func(set bool, val int, dst *int, dstSet *bool) {
		if set {
			*dst = val
			*dstSet = true
		}
	}
	mergeBool := func(set, val bool, dst, dstSet *bool) {
		if set {
			*dst = val
			*dstSet = true
		}
	}

	mergeInt(src.MaxIterationsSet, src.MaxIterations, &c.MaxIterations, &c.MaxIterationsSet)
	mergeBool(src.InitCreateBranchSet, src.InitCreateBranch, &c.InitCreateBranch, &c.InitCreateBranchSet)
	mergeBool(src.WriteTestsSet, src.WriteTests, &c.WriteTests, &c.WriteTestsSet)
	mergeBool(src.BackgroundModeSet, src.BackgroundMode, &c.BackgroundMode, &c.BackgroundModeSet)
	mergeInt(src.IdleTimeoutSet, src.IdleTimeoutSeconds, &c.IdleTimeoutSeconds, &c.IdleTimeoutSet)
	mergeInt(src.CheckAgentFreqSet, src.CheckAgentFrequencyMs, &c.CheckAgentFrequencyMs, &c.CheckAgentFreqSet)
	mergeInt(src.EnsureChatFreqSet, src.EnsureChatFrequencyMs, &c.EnsureChatFrequencyMs, &c.EnsureChatFreqSet)
	mergeInt(src.SettleShortSet, src.SettleShortSeconds, &c.SettleShortSeconds, &c.SettleShortSet)
	mergeInt(src.SettleLongSet, src.SettleLongSeconds, &c.SettleLongSeconds, &c.SettleLongSet)
	mergeInt(src.Transport.SendTimeoutSet, src.Transport.SendTimeoutSeconds,
		&c.Transport.SendTimeoutSeconds, &c.Transport.SendTimeoutSet)

	if src.AgentMode != "" {
		c.AgentMode = src.AgentMode
	}
	if len(src.PreferredModels) > 0 {
		c.PreferredModels = src.PreferredModels
	}
	if src.Transport.Binary != "" {
		c.Transport.Binary = src.Transport.Binary
	}
	if src.Transport.ExtraFlags != "" {
		c.Transport.ExtraFlags = src.Transport.ExtraFlags
	}
	if src.Git.BranchPrefix != "" {
		c.Git.BranchPrefix = src.Git.BranchPrefix
	}
}

// ApplyCLIFlags applies CLI flag overrides to the config.
// CLI flags have the highest precedence.
func (c *Config) ApplyCLIFlags(maxIterations int, background, createBranch bool) {
	if maxIterations > 0 {
		c.MaxIterations = maxIterations
		c.MaxIterationsSet = true
		c.sources = append(c.sources, "cli:max-iterations")
	}
	if background {
		c.BackgroundMode = true
		c.BackgroundModeSet = true
		c.sources = append(c.sources, "cli:background")
	}
	if createBranch {
		c.InitCreateBranch = true
		c.InitCreateBranchSet = true
		c.sources = append(c.sources, "cli:branch")
	}
}

func (c *Config) validate() error {
	if c.MaxIterations < 1 {
		return &Error{Key: "max_iterations", Reason: "must be at least 1"}
	}
	if c.AgentMode != "" && !protocol.AgentMode(c.AgentMode).IsValid() {
		return &Error{Key: "agent_mode", Reason: fmt.Sprintf("unknown mode %q", c.AgentMode)}
	}
	if c.IdleTimeoutSeconds < 1 {
		return &Error{Key: "idle_timeout_seconds", Reason: "must be at least 1"}
	}
	if c.CheckAgentFrequencyMs < 100 {
		return &Error{Key: "check_agent_frequency_ms", Reason: "must be at least 100"}
	}
	if c.EnsureChatFrequencyMs < 1000 {
		return &Error{Key: "ensure_chat_frequency_ms", Reason: "must be at least 1000"}
	}
	return nil
}
