package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-ant-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 10, cfg.LLM.MaxTurns)
	assert.Equal(t, "rest", cfg.ToolHost.Protocol)
	assert.Equal(t, 10*time.Second, cfg.ToolHost.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.ToolHost.CacheTTL)
	assert.Equal(t, 3, cfg.Agent.MaxDiscoveryRetries)
	assert.Equal(t, 300*time.Second, cfg.Agent.ConfirmationTimeout)
	assert.Equal(t, 10, cfg.Session.ContextSize)
	assert.Equal(t, 30, cfg.Session.RetentionDays)
	assert.Equal(t, "0 3 * * *", cfg.Session.RetentionSchedule)
	assert.True(t, cfg.Logging.Redaction)
}

func TestConfigValidate(t *testing.T) {
	t.Run("should accept a complete config", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("should accept the stdio protocol with a command", func(t *testing.T) {
		cfg := validConfig()
		cfg.ToolHost.Protocol = "stdio"
		cfg.ToolHost.BaseURL = ""
		cfg.ToolHost.Command = "sheets-connector"
		assert.NoError(t, cfg.Validate())
	})

	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"should require an API key", func(c *Config) { c.LLM.APIKey = "" }, "API key cannot be empty"},
		{"should check the key prefix", func(c *Config) { c.LLM.APIKey = "abc" }, "sk-ant-"},
		{"should reject unknown providers", func(c *Config) { c.LLM.Provider = "gemini" }, "llm.provider"},
		{"should require a model", func(c *Config) { c.LLM.Model = "" }, "llm.model"},
		{"should bound temperature", func(c *Config) { c.LLM.Temperature = 1.5 }, "temperature"},
		{"should require positive max turns", func(c *Config) { c.LLM.MaxTurns = 0 }, "llm.max_turns"},
		{"should reject unknown protocols", func(c *Config) { c.ToolHost.Protocol = "grpc" }, "toolhost.protocol"},
		{"should require a base URL", func(c *Config) { c.ToolHost.BaseURL = "" }, "toolhost.base_url"},
		{"should require an http base URL", func(c *Config) { c.ToolHost.BaseURL = "localhost:8000" }, "http(s)"},
		{"should require a command for stdio", func(c *Config) { c.ToolHost.Protocol = "stdio" }, "toolhost.command"},
		{"should require a positive timeout", func(c *Config) { c.ToolHost.Timeout = 0 }, "toolhost.timeout"},
		{"should require a positive cache TTL", func(c *Config) { c.ToolHost.CacheTTL = -time.Second }, "toolhost.cache_ttl"},
		{"should require discovery retries", func(c *Config) { c.Agent.MaxDiscoveryRetries = 0 }, "max_discovery_retries"},
		{"should require a confirmation timeout", func(c *Config) { c.Agent.ConfirmationTimeout = 0 }, "confirmation_timeout"},
		{"should reject unknown drivers", func(c *Config) { c.Session.Driver = "postgres" }, "session.driver"},
		{"should require a context size", func(c *Config) { c.Session.ContextSize = 0 }, "context_size"},
		{"should reject a bad schedule", func(c *Config) { c.Session.RetentionSchedule = "every day" }, "retention_schedule"},
		{"should reject unknown log levels", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"should require a metrics address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }, "metrics.addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestConfigString(t *testing.T) {
	t.Run("should mask secrets", func(t *testing.T) {
		cfg := validConfig()
		cfg.ToolHost.Headers = map[string]string{"Authorization": "Bearer secret"}

		out := cfg.String()

		assert.NotContains(t, out, "sk-ant-test")
		assert.NotContains(t, out, "Bearer secret")
		assert.Contains(t, out, "***")
		assert.Equal(t, "sk-ant-test", cfg.LLM.APIKey)
		assert.Equal(t, "Bearer secret", cfg.ToolHost.Headers["Authorization"])
	})
}
