package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a volatile Store for tests and single-process use.
// Returned sessions are clones.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	window   int
	now      func() time.Time
}

// NewMemoryStore creates a MemoryStore. A nil now uses time.Now.
func NewMemoryStore(contextSize int, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		sessions: make(map[string]*Session),
		window:   windowSize(contextSize),
		now:      now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id].Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, id string, metadata map[string]string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	now := s.now()
	sess := &Session{
		ID:        id,
		History:   []Message{},
		Metadata:  mergeMetadata(nil, metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[id] = sess
	return sess.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, id string, history []Message, metadata map[string]string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.History = Truncate(history, s.window)
	sess.Metadata = mergeMetadata(sess.Metadata, metadata)
	sess.UpdatedAt = s.now()
	return sess.Clone(), nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	if days < 0 {
		return 0, fmt.Errorf("days must be non-negative, got %d", days)
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) Close() error { return nil }
