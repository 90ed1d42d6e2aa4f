package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/stockpilot/internal/config"
	"github.com/harun/stockpilot/internal/logger"
	"github.com/harun/stockpilot/internal/observability"
	"github.com/harun/stockpilot/pkg/session"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run background maintenance",
	Long: `Run the long-lived maintenance process: the session retention schedule,
the Prometheus metrics endpoint when metrics.enabled is set, and a config file
watcher that applies logging.level changes without a restart.
Blocks until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	v := config.NewValidator()
	if err := v.ValidateSession(cfg.Session); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	base := log.Zerolog()

	store, err := newSessionStore(cfg, base)
	if err != nil {
		return err
	}
	defer store.Close()

	retention, err := session.NewRetention(session.RetentionConfig{
		Store:    store,
		Days:     cfg.Session.RetentionDays,
		Schedule: cfg.Session.RetentionSchedule,
		Logger:   base,
	})
	if err != nil {
		return err
	}
	if err := retention.Start(); err != nil {
		return err
	}
	defer retention.Stop()

	errCh := make(chan error, 1)
	var server *http.Server
	if cfg.Metrics.Enabled {
		server = newMetricsServer(cfg.Metrics.Addr)
		go func() {
			base.Info().Str("addr", cfg.Metrics.Addr).Msg("Starting metrics server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	watcher := watchConfig(log, base)
	if watcher != nil {
		defer watcher.Stop()
	}

	fmt.Fprintln(cmd.OutOrStdout(), "StockPilot maintenance running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		base.Info().Msg("Shutting down")
		err = nil
	case err = <-errCh:
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := server.Shutdown(shutdownCtx); serr != nil {
			base.Warn().Err(serr).Msg("Metrics server shutdown failed")
		}
	}
	return err
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// watchConfig reloads logging.level on config edits. A missing config
// directory only disables the watcher.
func watchConfig(log *logger.Logger, base zerolog.Logger) *config.Watcher {
	path := config.NewLoader(cfgFile).GetConfigPath()
	watcher, err := config.Watch(config.WatcherConfig{
		Path:   path,
		Logger: base,
		OnChange: func(cfg *config.Config) {
			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			if err := log.SetLevel(level); err != nil {
				base.Warn().Err(err).Msg("Ignoring invalid log level")
				return
			}
			base.Info().Str("level", level).Msg("Log level reloaded")
		},
	})
	if err != nil {
		base.Warn().Err(err).Str("path", path).Msg("Config watcher disabled")
		return nil
	}
	return watcher
}
