package runtime

import (
	"context"
	"fmt"
)

// Tool is a callable the model may use. Call returns the text handed back to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Call(ctx context.Context, args map[string]interface{}) string
}

// Message is a prior conversation turn supplied as context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCallRecord is one tool call made during a turn.
type ToolCallRecord struct {
	ID        string                 `json:"id"`
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
	Result    string                 `json:"result,omitempty"`
}

// ErrorKind classifies a failed turn.
type ErrorKind string

const (
	KindModelBehavior  ErrorKind = "model_behavior"
	KindTurnLimit      ErrorKind = "turn_limit_exceeded"
	KindAuthentication ErrorKind = "authentication"
	KindRateLimited    ErrorKind = "rate_limited"
	KindQuotaExceeded  ErrorKind = "quota_exceeded"
	KindConnection     ErrorKind = "connection"
	KindUnexpected     ErrorKind = "unexpected"
)

// TurnError describes why a turn failed.
type TurnError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *TurnError) Unwrap() error { return e.Err }

// TurnResult is either a reply (Err == nil) or a classified failure.
// ToolCalls holds the calls made before the outcome was known in both cases.
type TurnResult struct {
	Text      string
	ToolCalls []ToolCallRecord
	Err       *TurnError
}

// OK reports whether the turn produced a reply.
func (r TurnResult) OK() bool { return r.Err == nil }

// Runtime creates agents bound to one model backend.
type Runtime interface {
	// Initialize checks that the backend is usable.
	Initialize(ctx context.Context) error
	NewAgent(instructions string, tools []Tool) (Agent, error)
}

// Agent runs turns against a fixed instruction set and tool list.
type Agent interface {
	RunTurn(ctx context.Context, history []Message, text string) TurnResult
}
