package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch(t *testing.T) {
	t.Run("should require a path and callback", func(t *testing.T) {
		_, err := Watch(WatcherConfig{OnChange: func(*Config) {}})
		assert.Error(t, err)
		_, err = Watch(WatcherConfig{Path: "config.json"})
		assert.Error(t, err)
	})

	t.Run("should deliver a valid config after a write", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"llm": {"api_key": "sk-ant-a"}}`), 0644))

		changes := make(chan *Config, 4)
		w, err := Watch(WatcherConfig{
			Path:     path,
			OnChange: func(cfg *Config) { changes <- cfg },
			Debounce: 10 * time.Millisecond,
			Logger:   zerolog.Nop(),
		})
		require.NoError(t, err)
		defer w.Stop()

		require.NoError(t, os.WriteFile(path, []byte(`{"llm": {"api_key": "sk-ant-a"}, "logging": {"level": "debug"}}`), 0644))

		select {
		case cfg := <-changes:
			assert.Equal(t, "debug", cfg.Logging.Level)
		case <-time.After(5 * time.Second):
			t.Fatal("no reload observed")
		}
	})

	t.Run("should ignore an invalid config and other files", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"llm": {"api_key": "sk-ant-a"}}`), 0644))

		changes := make(chan *Config, 4)
		w, err := Watch(WatcherConfig{
			Path:     path,
			OnChange: func(cfg *Config) { changes <- cfg },
			Debounce: 10 * time.Millisecond,
			Logger:   zerolog.Nop(),
		})
		require.NoError(t, err)
		defer w.Stop()

		require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0644))
		require.NoError(t, os.WriteFile(path, []byte(`{"llm": {"api_key": "sk-ant-a"}, "logging": {"level": "loud"}}`), 0644))

		select {
		case cfg := <-changes:
			t.Fatalf("unexpected reload with level %q", cfg.Logging.Level)
		case <-time.After(300 * time.Millisecond):
		}
	})

	t.Run("should stop cleanly twice", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		w, err := Watch(WatcherConfig{Path: path, OnChange: func(*Config) {}, Logger: zerolog.Nop()})
		require.NoError(t, err)

		require.NoError(t, w.Stop())
		assert.NoError(t, w.Stop())
	})
}
