package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("should return defaults when the file does not exist", func(t *testing.T) {
		tmpDir := t.TempDir()

		cfg, err := Load(filepath.Join(tmpDir, "missing.json"))

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
		assert.Equal(t, 10*time.Second, cfg.ToolHost.Timeout)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("should derive paths from the data directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := writeFile(t, tmpDir, "config.json", `{"data_dir": "`+filepath.ToSlash(tmpDir)+`"}`)

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tmpDir, "sessions.db"), cfg.Session.Path)
		assert.Equal(t, filepath.Join(tmpDir, "stockpilot.log"), cfg.Logging.File)
	})

	t.Run("should read JSON with duration strings", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "config.json", `{
			"llm": {"provider": "openai", "api_key": "sk-test", "model": "gpt-4o-mini"},
			"toolhost": {"protocol": "jsonrpc", "base_url": "http://tools:9000/rpc", "timeout": "3s", "cache_ttl": "1m"},
			"agent": {"confirmation_timeout": "2m"}
		}`)

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.LLM.Provider)
		assert.Equal(t, "sk-test", cfg.LLM.APIKey)
		assert.Equal(t, "jsonrpc", cfg.ToolHost.Protocol)
		assert.Equal(t, 3*time.Second, cfg.ToolHost.Timeout)
		assert.Equal(t, time.Minute, cfg.ToolHost.CacheTTL)
		assert.Equal(t, 2*time.Minute, cfg.Agent.ConfirmationTimeout)
		assert.Equal(t, 3, cfg.Agent.MaxDiscoveryRetries)
	})

	t.Run("should read YAML", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "config.yaml", `
toolhost:
  protocol: stdio
  command: sheets-connector
  args: ["--readonly", "--sheet", "stock"]
session:
  driver: memory
  context_size: 4
`)

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "stdio", cfg.ToolHost.Protocol)
		assert.Equal(t, []string{"--readonly", "--sheet", "stock"}, cfg.ToolHost.Args)
		assert.Equal(t, "memory", cfg.Session.Driver)
		assert.Equal(t, 4, cfg.Session.ContextSize)
	})

	t.Run("should read TOML", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "config.toml", `
[logging]
level = "debug"
pretty = true

[metrics]
enabled = true
addr = ":9100"
`)

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.True(t, cfg.Logging.Pretty)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, ":9100", cfg.Metrics.Addr)
	})

	t.Run("should let the environment override the file", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "config.json", `{"llm": {"api_key": "sk-ant-file"}}`)
		t.Setenv("STOCKPILOT_LLM_API_KEY", "sk-ant-env")
		t.Setenv("STOCKPILOT_TOOLHOST_BASE_URL", "http://inventory:8000")
		t.Setenv("STOCKPILOT_SESSION_CONTEXT_SIZE", "6")

		cfg, err := Load(path)

		require.NoError(t, err)
		assert.Equal(t, "sk-ant-env", cfg.LLM.APIKey)
		assert.Equal(t, "http://inventory:8000", cfg.ToolHost.BaseURL)
		assert.Equal(t, 6, cfg.Session.ContextSize)
	})

	t.Run("should apply the environment without a file", func(t *testing.T) {
		t.Setenv("STOCKPILOT_LLM_PROVIDER", "openai")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))

		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.LLM.Provider)
	})

	t.Run("should fail on a malformed file", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "config.json", `{"llm": `)

		_, err := Load(path)

		assert.ErrorContains(t, err, "failed to read config file")
	})
}

func TestConfigType(t *testing.T) {
	assert.Equal(t, "yaml", configType("a.yml"))
	assert.Equal(t, "yaml", configType("a.YAML"))
	assert.Equal(t, "toml", configType("a.toml"))
	assert.Equal(t, "json", configType("a.json"))
	assert.Equal(t, "json", configType("a"))
}
