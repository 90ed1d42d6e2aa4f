package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultRetentionDays     = 30
	DefaultRetentionSchedule = "0 3 * * *"
)

// RetentionConfig configures Retention.
type RetentionConfig struct {
	Store    Store
	Days     int
	Schedule string
	Logger   zerolog.Logger
}

// Retention deletes stale sessions on a cron schedule.
type Retention struct {
	store    Store
	days     int
	schedule string
	logger   zerolog.Logger

	parser cron.Parser

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRetention validates the schedule and creates a Retention.
func NewRetention(cfg RetentionConfig) (*Retention, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Days <= 0 {
		cfg.Days = DefaultRetentionDays
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultRetentionSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule: %w", err)
	}

	return &Retention{
		store:    cfg.Store,
		days:     cfg.Days,
		schedule: cfg.Schedule,
		logger:   cfg.Logger.With().Str("component", "retention").Logger(),
		parser:   parser,
	}, nil
}

// RunOnce deletes sessions older than the retention window.
func (r *Retention) RunOnce(ctx context.Context) (int, error) {
	deleted, err := r.store.DeleteOlderThan(ctx, r.days)
	if err != nil {
		r.logger.Error().Err(err).Msg("Retention run failed")
		return 0, err
	}
	r.logger.Info().Int("deleted", deleted).Int("days", r.days).Msg("Retention run complete")
	return deleted, nil
}

// Start schedules RunOnce.
func (r *Retention) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("retention is already running")
	}
	r.cron = cron.New(cron.WithParser(r.parser))
	if _, err := r.cron.AddFunc(r.schedule, func() {
		_, _ = r.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule retention: %w", err)
	}
	r.cron.Start()
	r.running = true

	r.logger.Info().Str("schedule", r.schedule).Int("days", r.days).Msg("Session retention started")
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (r *Retention) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return fmt.Errorf("retention is not running")
	}
	<-r.cron.Stop().Done()
	r.running = false

	r.logger.Info().Msg("Session retention stopped")
	return nil
}
