// Package config loads per-project YAML configuration: agent rosters,
// channel credentials, delegation limits, and the ambient logging/storage
// settings every subsystem reads from.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure, one instance per project.
type Config struct {
	Version  string                 `mapstructure:"version" yaml:"version"`
	Provider ProviderConfig         `mapstructure:"provider" yaml:"provider"`
	Ollama   OllamaConfig           `mapstructure:"ollama" yaml:"ollama"`
	Log      LogConfig              `mapstructure:"log" yaml:"log"`
	Storage  StorageConfig          `mapstructure:"storage" yaml:"storage"`
	Common   CommonConfig           `mapstructure:"common" yaml:"common"`
	Channels ChannelsConfig         `mapstructure:"channels" yaml:"channels"`
	Agents   map[string]AgentConfig `mapstructure:"agents" yaml:"agents,omitempty"`
	Delegate DelegateConfig         `mapstructure:"delegate" yaml:"delegate,omitempty"`
	SystemAI SystemAIConfig         `mapstructure:"system_ai" yaml:"system_ai,omitempty"`
	Gateway  GatewayConfig          `mapstructure:"gateway" yaml:"gateway,omitempty"`
}

// GatewayConfig configures the process's own metrics/health listener —
// not a GUI HTTP surface (spec.md's Non-goals exclude that), just the
// Prometheus scrape endpoint from internal/registry.Metrics.
type GatewayConfig struct {
	Host string `mapstructure:"host" yaml:"host,omitempty"`
	Port int    `mapstructure:"port" yaml:"port,omitempty"`
}

// AgentConfig configures one named agent within a project.
type AgentConfig struct {
	Enabled       *bool    `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Description   string   `mapstructure:"description" yaml:"description,omitempty"`
	Provider      string   `mapstructure:"provider" yaml:"provider,omitempty"`
	Model         string   `mapstructure:"model" yaml:"model,omitempty"`
	SystemPrompt  string   `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	Tools         []string `mapstructure:"tools" yaml:"tools,omitempty"`
	Tags          []string `mapstructure:"tags" yaml:"tags,omitempty"`
	MaxDepth      int      `mapstructure:"max_depth" yaml:"max_depth,omitempty"`
	Timeout       string   `mapstructure:"timeout" yaml:"timeout,omitempty"`
	MaxIterations int      `mapstructure:"max_iterations" yaml:"max_iterations,omitempty"`
	MaxTokens     int      `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	Temperature   float64  `mapstructure:"temperature" yaml:"temperature,omitempty"`
}

// IsEnabled returns true if the agent is enabled. A nil Enabled pointer
// defaults to true (backward compatible with hand-edited configs).
func (c *AgentConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GetTimeout parses Timeout into a duration. Empty or "0"/"none"/"infinite"
// means no timeout.
func (c *AgentConfig) GetTimeout() time.Duration {
	if c.Timeout == "" || c.Timeout == "0" || c.Timeout == "none" || c.Timeout == "infinite" {
		return 0
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// GetMaxDepth returns how many further delegation hops this agent may
// initiate; 0 means inherit the global DelegateConfig limit.
func (c *AgentConfig) GetMaxDepth() int {
	return c.MaxDepth
}

// DelegateConfig holds global delegation defaults.
type DelegateConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	MaxStackDepth  int    `mapstructure:"max_stack_depth" yaml:"max_stack_depth,omitempty"`
	DefaultTimeout string `mapstructure:"default_timeout" yaml:"default_timeout,omitempty"`
}

// GetDefaultTimeout parses DefaultTimeout, defaulting to 5 minutes.
func (c *DelegateConfig) GetDefaultTimeout() time.Duration {
	if c.DefaultTimeout == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(c.DefaultTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetMaxStackDepth returns the max delegation chain depth, 0 = unlimited.
func (c *DelegateConfig) GetMaxStackDepth() int {
	return c.MaxStackDepth
}

// SystemAIConfig configures the cross-project system-AI runner, which
// owns its own task store separate from any one project's.
type SystemAIConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Model        string `mapstructure:"model" yaml:"model,omitempty"`
	DBPath       string `mapstructure:"db_path" yaml:"db_path,omitempty"`
	GmailAccount string `mapstructure:"gmail_account" yaml:"gmail_account,omitempty"`
}

// ProviderConfig selects the default AI provider backend.
type ProviderConfig struct {
	Default string   `mapstructure:"default" yaml:"default"`
	Enabled []string `mapstructure:"enabled" yaml:"enabled"`
}

// GetEnabledProviders returns the configured provider list, falling back
// to Default, then to "ollama".
func (c *ProviderConfig) GetEnabledProviders() []string {
	if len(c.Enabled) > 0 {
		return c.Enabled
	}
	if c.Default != "" {
		return []string{c.Default}
	}
	return []string{"ollama"}
}

// OllamaConfig configures the local Ollama provider adapter.
type OllamaConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Model     string `mapstructure:"model" yaml:"model"`
	Timeout   string `mapstructure:"timeout" yaml:"timeout"`
	KeepAlive string `mapstructure:"keep_alive" yaml:"keep_alive"`
}

// LogConfig configures the process-wide zerolog logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// StorageConfig configures the SQLite-backed stores.
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// CommonConfig holds cross-cutting runtime knobs.
type CommonConfig struct {
	PollingInterval time.Duration `mapstructure:"polling_interval" yaml:"polling_interval,omitempty"`
	OutputsDir      string        `mapstructure:"outputs_dir" yaml:"outputs_dir,omitempty"`
	GuidesDir       string        `mapstructure:"guides_dir" yaml:"guides_dir,omitempty"`
}

// ChannelsConfig groups per-channel settings.
type ChannelsConfig struct {
	Gmail GmailConfig `mapstructure:"gmail" yaml:"gmail"`
	Nostr NostrConfig `mapstructure:"nostr" yaml:"nostr"`
	GUI   GUIConfig   `mapstructure:"gui" yaml:"gui"`
}

// GmailConfig configures the Gmail ingress poller.
type GmailConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval,omitempty"`
	CredentialsFile string        `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`
	TokenFile       string        `mapstructure:"token_file" yaml:"token_file,omitempty"`
	TargetAgent     string        `mapstructure:"target_agent" yaml:"target_agent,omitempty"`
	OwnerEmails     []string      `mapstructure:"owner_emails" yaml:"owner_emails,omitempty"`
}

// NostrConfig configures the Nostr relay subscription.
type NostrConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Relays       []string `mapstructure:"relays" yaml:"relays,omitempty"`
	PrivateKey   string   `mapstructure:"private_key" yaml:"private_key,omitempty"`
	TargetAgent  string   `mapstructure:"target_agent" yaml:"target_agent,omitempty"`
	OwnerPubkeys []string `mapstructure:"owner_pubkeys" yaml:"owner_pubkeys,omitempty"`
}

// GUIConfig configures the egress-only GUI WebSocket channel.
type GUIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

var (
	globalConfig     *Config
	agentsConfigPath string // path to the standalone agents.yaml, if any
	mu               sync.RWMutex
)

// Load reads the configuration file at path (environment variables,
// prefixed AGENTCORE_, take precedence over file values, which take
// precedence over defaults). Every caller that needs config holds the
// returned *Config directly rather than reaching back into this
// package's state (spec.md §9's "avoid ambient globals; pass the core
// handle to runners") — GetConfig/GetAgentsConfigPath below exist only
// because cmd/agentcored's metrics bring-up and internal/server's
// config-watcher wiring run after Load returns and need the same
// values without threading them through as extra parameters.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("AGENTCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var configPath string
	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigParseError); ok {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if configPath != "" {
		agentsConfigPath = filepath.Join(filepath.Dir(configPath), "agents.yaml")
		agentsDirPath := filepath.Join(filepath.Dir(configPath), "agents")

		if agentsData, err := os.ReadFile(agentsConfigPath); err == nil {
			var agentsFile struct {
				Agents map[string]AgentConfig `yaml:"agents"`
			}
			if err := yaml.Unmarshal(agentsData, &agentsFile); err == nil && agentsFile.Agents != nil {
				cfg.Agents = agentsFile.Agents
			}
		}

		if dirAgents, err := loadAgentsFromDir(agentsDirPath); err == nil && len(dirAgents) > 0 {
			if cfg.Agents == nil {
				cfg.Agents = make(map[string]AgentConfig)
			}
			for name, agent := range dirAgents {
				cfg.Agents[name] = agent
			}
			slog.Info("loaded agents from directory", "path", agentsDirPath, "count", len(dirAgents))
		}
	}

	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the currently loaded configuration, or nil.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// GetAgentsConfigPath returns the path to the standalone agents.yaml.
func GetAgentsConfigPath() string {
	mu.RLock()
	defer mu.RUnlock()
	return agentsConfigPath
}

// loadAgentsFromDir loads every *.yaml/*.yml file under dir, supporting
// both the standard `agents: {name: {...}}` wrapper and a single-agent
// form where the file name (minus extension) is the agent's name.
func loadAgentsFromDir(dir string) (map[string]AgentConfig, error) {
	result := make(map[string]AgentConfig)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return result, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read agents dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		filePath := filepath.Join(dir, name)
		data, err := os.ReadFile(filePath)
		if err != nil {
			slog.Warn("failed to read agent file", "path", filePath, "error", err)
			continue
		}

		var multiFile struct {
			Agents map[string]AgentConfig `yaml:"agents"`
		}
		if err := yaml.Unmarshal(data, &multiFile); err == nil && len(multiFile.Agents) > 0 {
			for agentName, agentCfg := range multiFile.Agents {
				result[agentName] = agentCfg
			}
			continue
		}

		var singleAgent AgentConfig
		if err := yaml.Unmarshal(data, &singleAgent); err == nil && singleAgent.Description != "" {
			agentName := strings.TrimSuffix(name, ext)
			result[agentName] = singleAgent
			continue
		}

		slog.Warn("skipped agent file: unrecognized format", "path", filePath)
	}

	return result, nil
}

// Reset clears the global configuration state. Used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	agentsConfigPath = ""
	viper.Reset()
}
