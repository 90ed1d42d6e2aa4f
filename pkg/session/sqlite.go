package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/stockpilot/internal/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	Path        string
	ContextSize int
	Logger      zerolog.Logger
	Now         func() time.Time
}

// SQLiteStore keeps sessions in a SQLite database. History and metadata are
// stored as JSON columns.
type SQLiteStore struct {
	db     *sql.DB
	window int
	logger zerolog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) the database at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		window: windowSize(cfg.ContextSize),
		logger: cfg.Logger.With().Str("component", "session").Logger(),
		now:    cfg.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Int("window", s.window).Msg("Session store initialized")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			history TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get loads a session.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, history, metadata, created_at, updated_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return sess, nil
}

// Create inserts an empty session.
func (s *SQLiteStore) Create(ctx context.Context, id string, metadata map[string]string) (*Session, error) {
	now := s.now()
	meta := mergeMetadata(nil, metadata)
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, history, metadata, created_at, updated_at)
		 VALUES (?, '[]', ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, string(metaJSON), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}

	s.logger.Debug().Str("session_id", id).Msg("Session created")
	return &Session{
		ID:        id,
		History:   []Message{},
		Metadata:  meta,
		CreatedAt: time.UnixMilli(now.UnixMilli()),
		UpdatedAt: time.UnixMilli(now.UnixMilli()),
	}, nil
}

// Save replaces the history of an existing session.
func (s *SQLiteStore) Save(ctx context.Context, id string, history []Message, metadata map[string]string) (*Session, error) {
	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, history, metadata, created_at, updated_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	sess.History = Truncate(history, s.window)
	sess.Metadata = mergeMetadata(sess.Metadata, metadata)
	sess.UpdatedAt = time.UnixMilli(s.now().UnixMilli())

	historyJSON, err := json.Marshal(sess.History)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	metaJSON, err := json.Marshal(sess.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET history = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		string(historyJSON), string(metaJSON), sess.UpdatedAt.UnixMilli(), id); err != nil {
		return nil, fmt.Errorf("failed to save session %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session %s: %w", id, err)
	}
	return sess, nil
}

// DeleteOlderThan removes sessions not updated within the last days days.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("days must be non-negative, got %d", days)
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}

	observability.RecordSessionsDeleted(int(n))
	s.logger.Info().Int64("deleted", n).Int("days", days).Msg("Old sessions deleted")
	return int(n), nil
}

// Count returns the number of stored sessions.
func (s *SQLiteStore) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to count sessions")
		return 0
	}
	return n
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess                 Session
		historyJSON, metaStr string
		created, updated     int64
	)
	if err := row.Scan(&sess.ID, &historyJSON, &metaStr, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(historyJSON), &sess.History); err != nil {
		return nil, fmt.Errorf("corrupt history: %w", err)
	}
	if err := json.Unmarshal([]byte(metaStr), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("corrupt metadata: %w", err)
	}
	if sess.History == nil {
		sess.History = []Message{}
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]string{}
	}
	sess.CreatedAt = time.UnixMilli(created)
	sess.UpdatedAt = time.UnixMilli(updated)
	return &sess, nil
}
