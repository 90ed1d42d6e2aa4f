package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the StockPilot configuration.
type Config struct {
	LLM      LLMConfig      `json:"llm" mapstructure:"llm"`
	ToolHost ToolHostConfig `json:"toolhost" mapstructure:"toolhost"`
	Agent    AgentConfig    `json:"agent" mapstructure:"agent"`
	Session  SessionConfig  `json:"session" mapstructure:"session"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`

	// Data directory for the session database and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"`
	Model       string  `json:"model" mapstructure:"model"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTurns    int     `json:"max_turns" mapstructure:"max_turns"`
	// MaxRetries is passed to the provider SDK for transient HTTP failures.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`
}

// ToolHostConfig describes how to reach the remote tool host.
type ToolHostConfig struct {
	Protocol string            `json:"protocol" mapstructure:"protocol"` // rest, jsonrpc, stdio
	BaseURL  string            `json:"base_url" mapstructure:"base_url"`
	Headers  map[string]string `json:"headers" mapstructure:"headers"`
	Command  string            `json:"command" mapstructure:"command"`
	Args     []string          `json:"args" mapstructure:"args"`
	Timeout  time.Duration     `json:"timeout" mapstructure:"timeout"`
	CacheTTL time.Duration     `json:"cache_ttl" mapstructure:"cache_ttl"`
}

// AgentConfig tunes the orchestrator.
type AgentConfig struct {
	MaxDiscoveryRetries int           `json:"max_discovery_retries" mapstructure:"max_discovery_retries"`
	ConfirmationTimeout time.Duration `json:"confirmation_timeout" mapstructure:"confirmation_timeout"`
}

// SessionConfig selects the session store.
type SessionConfig struct {
	Driver            string `json:"driver" mapstructure:"driver"` // sqlite, memory
	Path              string `json:"path" mapstructure:"path"`
	ContextSize       int    `json:"context_size" mapstructure:"context_size"`
	RetentionDays     int    `json:"retention_days" mapstructure:"retention_days"`
	RetentionSchedule string `json:"retention_schedule" mapstructure:"retention_schedule"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig controls the prometheus endpoint started by serve.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   1024,
			Temperature: 0.2,
			MaxTurns:    10,
			MaxRetries:  2,
		},
		ToolHost: ToolHostConfig{
			Protocol: "rest",
			BaseURL:  "http://localhost:8000",
			Timeout:  10 * time.Second,
			CacheTTL: 5 * time.Minute,
		},
		Agent: AgentConfig{
			MaxDiscoveryRetries: 3,
			ConfirmationTimeout: 300 * time.Second,
		},
		Session: SessionConfig{
			Driver:            "sqlite",
			ContextSize:       10,
			RetentionDays:     30,
			RetentionSchedule: "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = "***"
	}
	if len(c.ToolHost.Headers) > 0 {
		masked.ToolHost.Headers = make(map[string]string, len(c.ToolHost.Headers))
		for k := range c.ToolHost.Headers {
			masked.ToolHost.Headers[k] = "***"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateProvider(c.LLM.Provider); err != nil {
		return err
	}
	if err := v.ValidateAPIKey(c.LLM.APIKey, c.LLM.Provider); err != nil {
		return err
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if err := v.ValidateMaxTokens(c.LLM.MaxTokens); err != nil {
		return err
	}
	if err := v.ValidateTemperature(c.LLM.Temperature); err != nil {
		return err
	}
	if c.LLM.MaxTurns <= 0 {
		return fmt.Errorf("llm.max_turns must be positive, got %d", c.LLM.MaxTurns)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative, got %d", c.LLM.MaxRetries)
	}

	if err := v.ValidateToolHost(c.ToolHost); err != nil {
		return err
	}

	if c.Agent.MaxDiscoveryRetries <= 0 {
		return fmt.Errorf("agent.max_discovery_retries must be positive, got %d", c.Agent.MaxDiscoveryRetries)
	}
	if err := v.ValidateDuration("agent.confirmation_timeout", c.Agent.ConfirmationTimeout); err != nil {
		return err
	}

	if err := v.ValidateSession(c.Session); err != nil {
		return err
	}
	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}
