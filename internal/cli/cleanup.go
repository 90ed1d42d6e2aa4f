package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/stockpilot/internal/config"
	"github.com/harun/stockpilot/pkg/session"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stale sessions",
	Long:  `Delete sessions that have not been updated within the retention window.`,
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention window in days (default is session.retention_days)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("days") {
		cfg.Session.RetentionDays = cleanupDays
	}
	if err := config.NewValidator().ValidateSession(cfg.Session); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	store, err := newSessionStore(cfg, log.Zerolog())
	if err != nil {
		return err
	}
	defer store.Close()

	retention, err := session.NewRetention(session.RetentionConfig{
		Store:    store,
		Days:     cfg.Session.RetentionDays,
		Schedule: cfg.Session.RetentionSchedule,
		Logger:   log.Zerolog(),
	})
	if err != nil {
		return err
	}

	deleted, err := retention.RunOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d sessions\n", deleted)
	return nil
}
