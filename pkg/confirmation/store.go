package confirmation

import (
	"context"
	"sync"
	"time"

	"github.com/harun/stockpilot/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// DefaultTimeout is how long a pending confirmation stays valid.
const DefaultTimeout = 300 * time.Second

// PendingConfirmation is an armed, unresolved destructive action.
type PendingConfirmation struct {
	ID         string
	SessionID  string
	ActionType ActionType
	Details    map[string]interface{}
	// UserText is the message that triggered the confirmation; it is replayed on yes.
	UserText string
	ArmedAt  time.Time
}

func (p *PendingConfirmation) clone() *PendingConfirmation {
	c := *p
	c.Details = make(map[string]interface{}, len(p.Details))
	for k, v := range p.Details {
		c.Details[k] = v
	}
	return &c
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Timeout time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Store holds at most one pending confirmation per session.
type Store struct {
	mu      sync.Mutex
	pending map[string]*PendingConfirmation
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// NewStore creates a Store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		pending: make(map[string]*PendingConfirmation),
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With().Str("component", "confirmation").Logger(),
		now:     cfg.Now,
	}
}

// Arm records a pending confirmation for sessionID, replacing any existing one.
func (s *Store) Arm(ctx context.Context, sessionID string, action ActionType, details map[string]interface{}, userText string) *PendingConfirmation {
	id, err := gonanoid.New()
	if err != nil {
		id = sessionID + "-" + s.now().Format("20060102150405.000")
	}

	p := &PendingConfirmation{
		ID:         id,
		SessionID:  sessionID,
		ActionType: action,
		Details:    details,
		UserText:   userText,
		ArmedAt:    s.now(),
	}

	s.mu.Lock()
	s.pending[sessionID] = p
	count := len(s.pending)
	out := p.clone()
	s.mu.Unlock()

	observability.SetPendingConfirmations(count)
	observability.RecordConfirmationAudit(ctx, sessionID, "armed", string(action), map[string]interface{}{
		"confirmation_id": id,
	})
	s.logger.Info().
		Str("session_id", sessionID).
		Str("action_type", string(action)).
		Str("confirmation_id", id).
		Msg("Confirmation armed")

	return out
}

// Peek returns the pending confirmation for sessionID. An entry older than
// the timeout is evicted and reported as absent.
func (s *Store) Peek(ctx context.Context, sessionID string) (*PendingConfirmation, bool) {
	s.mu.Lock()
	p, ok := s.pending[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	if s.expired(p) {
		delete(s.pending, sessionID)
		count := len(s.pending)
		s.mu.Unlock()

		observability.SetPendingConfirmations(count)
		observability.RecordConfirmationAudit(ctx, sessionID, "expired", string(p.ActionType), map[string]interface{}{
			"confirmation_id": p.ID,
		})
		s.logger.Info().Str("session_id", sessionID).Str("confirmation_id", p.ID).Msg("Confirmation expired")
		return nil, false
	}
	out := p.clone()
	s.mu.Unlock()
	return out, true
}

// Clear removes the pending confirmation for sessionID and reports whether one existed.
func (s *Store) Clear(ctx context.Context, sessionID string) bool {
	s.mu.Lock()
	p, ok := s.pending[sessionID]
	delete(s.pending, sessionID)
	count := len(s.pending)
	s.mu.Unlock()

	if ok {
		observability.SetPendingConfirmations(count)
		observability.RecordConfirmationAudit(ctx, sessionID, "cleared", string(p.ActionType), map[string]interface{}{
			"confirmation_id": p.ID,
		})
	}
	return ok
}

// Sweep evicts every expired entry and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	removed := 0
	for id, p := range s.pending {
		if s.expired(p) {
			delete(s.pending, id)
			removed++
		}
	}
	count := len(s.pending)
	s.mu.Unlock()

	if removed > 0 {
		observability.SetPendingConfirmations(count)
		s.logger.Debug().Int("removed", removed).Msg("Expired confirmations swept")
	}
	return removed
}

// Len returns the number of stored entries, including ones not yet evicted.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Timeout returns the expiry window.
func (s *Store) Timeout() time.Duration { return s.timeout }

func (s *Store) expired(p *PendingConfirmation) bool {
	return s.now().Sub(p.ArmedAt) > s.timeout
}
