package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// DefaultContextSize is the number of message pairs kept per session.
const DefaultContextSize = 10

// MaxIDLength bounds session identifiers.
const MaxIDLength = 128

var (
	// ErrNotFound is returned by Save when the session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("session already exists")
)

// Message represents a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is a persisted conversation.
type Session struct {
	ID        string            `json:"id"`
	History   []Message         `json:"history"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.History = append([]Message(nil), s.History...)
	c.Metadata = mergeMetadata(nil, s.Metadata)
	return &c
}

// Store persists sessions.
type Store interface {
	// Get returns nil and no error when the session does not exist.
	Get(ctx context.Context, id string) (*Session, error)
	Create(ctx context.Context, id string, metadata map[string]string) (*Session, error)
	// Save replaces the history, truncated to the rolling window, and merges metadata.
	Save(ctx context.Context, id string, history []Message, metadata map[string]string) (*Session, error)
	DeleteOlderThan(ctx context.Context, days int) (int, error)
	// Count returns 0 when the backing store fails.
	Count(ctx context.Context) int
	Close() error
}

// ValidationError describes an unusable session id.
type ValidationError struct {
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid session id: %s", e.Reason)
}

// ValidateID checks that id is safe to use as a key and in file names.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{ID: id, Reason: "session id cannot be empty"}
	}
	if len(id) > MaxIDLength {
		return &ValidationError{ID: id, Reason: fmt.Sprintf("session id cannot exceed %d characters", MaxIDLength)}
	}
	if strings.Contains(id, "..") {
		return &ValidationError{ID: id, Reason: "session id cannot contain '..'"}
	}
	if strings.ContainsAny(id, "/\\") {
		return &ValidationError{ID: id, Reason: "session id cannot contain path separators"}
	}
	for _, r := range id {
		if r == 0 {
			return &ValidationError{ID: id, Reason: "session id cannot contain null bytes"}
		}
		if unicode.IsControl(r) {
			return &ValidationError{ID: id, Reason: "session id cannot contain control characters"}
		}
	}
	return nil
}

// Truncate returns a copy of the last max messages of history.
func Truncate(history []Message, max int) []Message {
	if max <= 0 {
		return []Message{}
	}
	if len(history) > max {
		history = history[len(history)-max:]
	}
	return append([]Message{}, history...)
}

func mergeMetadata(dst, src map[string]string) map[string]string {
	out := make(map[string]string, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func windowSize(contextSize int) int {
	if contextSize <= 0 {
		contextSize = DefaultContextSize
	}
	return 2 * contextSize
}
