package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/stockpilot/pkg/session"
)

// writeConfig writes a JSON config rooted in a temp dir and returns its path.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stockpilot.json")
	body := fmt.Sprintf(`{
  "data_dir": %q,
  "logging": {"console": false},
  "session": {"path": %q}%s
}`, dir, filepath.Join(dir, "sessions.db"), extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile, logLevel = "", ""

	cmd := GetRootCmd()
	// Flag values survive between Execute calls on the shared command tree.
	for _, sub := range cmd.Commands() {
		if help := sub.Flags().Lookup("help"); help != nil {
			_ = help.Value.Set("false")
			help.Changed = false
		}
	}
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return output.String(), err
}

func TestToolsCommand(t *testing.T) {
	t.Run("should describe the command in help", func(t *testing.T) {
		out, err := execute(t, "tools", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "Discover the tools exposed by the configured tool host")
		assert.Equal(t, "List the tools exposed by the tool host", toolsCmd.Short)
	})

	t.Run("should print compiled signatures", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/mcp/tools", r.URL.Path)
			_, _ = w.Write([]byte(`{"tools":[
				{"name":"delete_item","description":"Delete an item","parameters":{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}},
				{"name":"list_items","parameters":{"type":"object","properties":{"limit":{"type":"integer"}}}}
			]}`))
		}))
		defer server.Close()

		path, _ := writeConfig(t, fmt.Sprintf(`,
  "toolhost": {"protocol": "rest", "base_url": %q}`, server.URL))

		out, err := execute(t, "--config", path, "tools")
		require.NoError(t, err)
		assert.Contains(t, out, "delete_item(name: text)  Delete an item")
		assert.Contains(t, out, "list_items(limit?: int)")
	})

	t.Run("should fail when the tool host is unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		path, _ := writeConfig(t, fmt.Sprintf(`,
  "toolhost": {"protocol": "rest", "base_url": %q, "timeout": "1s"}`, url))

		_, err := execute(t, "--config", path, "tools")
		assert.ErrorContains(t, err, "failed to discover tools")
	})

	t.Run("should reject an invalid tool host", func(t *testing.T) {
		path, _ := writeConfig(t, `,
  "toolhost": {"protocol": "carrier-pigeon"}`)

		_, err := execute(t, "--config", path, "tools")
		assert.ErrorContains(t, err, "invalid configuration")
	})
}

func TestCleanupCommand(t *testing.T) {
	t.Run("should delete stale sessions", func(t *testing.T) {
		path, dir := writeConfig(t, "")

		old := time.Now().Add(-40 * 24 * time.Hour)
		store, err := session.NewSQLiteStore(session.SQLiteConfig{
			Path:   filepath.Join(dir, "sessions.db"),
			Logger: zerolog.Nop(),
			Now:    func() time.Time { return old },
		})
		require.NoError(t, err)
		_, err = store.Create(context.Background(), "stale", nil)
		require.NoError(t, err)
		require.NoError(t, store.Close())

		fresh, err := session.NewSQLiteStore(session.SQLiteConfig{
			Path:   filepath.Join(dir, "sessions.db"),
			Logger: zerolog.Nop(),
		})
		require.NoError(t, err)
		_, err = fresh.Create(context.Background(), "fresh", nil)
		require.NoError(t, err)
		require.NoError(t, fresh.Close())

		out, err := execute(t, "--config", path, "cleanup", "--days", "30")
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted 1 sessions")

		check, err := session.NewSQLiteStore(session.SQLiteConfig{
			Path:   filepath.Join(dir, "sessions.db"),
			Logger: zerolog.Nop(),
		})
		require.NoError(t, err)
		defer check.Close()
		assert.Equal(t, 1, check.Count(context.Background()))
	})
}

func TestChatCommand(t *testing.T) {
	t.Run("should explain how to leave in help", func(t *testing.T) {
		out, err := execute(t, "chat", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "/quit")
	})

	t.Run("should default the session id", func(t *testing.T) {
		flag := chatCmd.Flags().Lookup("session")
		require.NotNil(t, flag)
		assert.Equal(t, "cli", flag.DefValue)
	})

	t.Run("should require valid llm settings", func(t *testing.T) {
		path, _ := writeConfig(t, `,
  "llm": {"provider": "anthropic", "api_key": ""}`)

		_, err := execute(t, "--config", path, "chat")
		assert.ErrorContains(t, err, "invalid configuration")
	})
}

func TestNewMetricsServer(t *testing.T) {
	server := newMetricsServer("127.0.0.1:0")
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
