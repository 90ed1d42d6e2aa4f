package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. STOCKPILOT_LLM_API_KEY.
const EnvPrefix = "STOCKPILOT"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file if it exists, applies environment overrides on
// top of the defaults and fills in derived paths. It does not validate.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType(configType(configPath))
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".stockpilot")
	}
	if cfg.Session.Path == "" {
		cfg.Session.Path = filepath.Join(cfg.DataDir, "sessions.db")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "stockpilot.log")
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".stockpilot", "stockpilot.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// configType maps the file extension to a viper config type. JSON is the default.
func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_turns", d.LLM.MaxTurns)
	v.SetDefault("llm.max_retries", d.LLM.MaxRetries)

	v.SetDefault("toolhost.protocol", d.ToolHost.Protocol)
	v.SetDefault("toolhost.base_url", d.ToolHost.BaseURL)
	v.SetDefault("toolhost.headers", d.ToolHost.Headers)
	v.SetDefault("toolhost.command", d.ToolHost.Command)
	v.SetDefault("toolhost.args", d.ToolHost.Args)
	v.SetDefault("toolhost.timeout", d.ToolHost.Timeout)
	v.SetDefault("toolhost.cache_ttl", d.ToolHost.CacheTTL)

	v.SetDefault("agent.max_discovery_retries", d.Agent.MaxDiscoveryRetries)
	v.SetDefault("agent.confirmation_timeout", d.Agent.ConfirmationTimeout)

	v.SetDefault("session.driver", d.Session.Driver)
	v.SetDefault("session.path", d.Session.Path)
	v.SetDefault("session.context_size", d.Session.ContextSize)
	v.SetDefault("session.retention_days", d.Session.RetentionDays)
	v.SetDefault("session.retention_schedule", d.Session.RetentionSchedule)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.audit_file", d.Logging.AuditFile)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}
