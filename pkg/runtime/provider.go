package runtime

import (
	"context"
	"errors"
)

// ErrMalformedOutput marks model output that cannot be interpreted, such as
// tool arguments that are not a JSON object.
var ErrMalformedOutput = errors.New("model returned malformed output")

// Provider performs one completion call against a model API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Validator is implemented by providers that can check their configuration up front.
type Validator interface {
	Validate() error
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Messages    []ProviderMessage
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// ProviderMessage is one message in a completion request. Role is user,
// assistant or tool.
type ProviderMessage struct {
	Role       string
	Content    string
	ToolCalls  []ProviderToolCall
	ToolCallID string
}

// ProviderToolCall is a tool call requested by the model.
type ProviderToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolSpec advertises a tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Completion is a provider-neutral completion result.
type Completion struct {
	Text         string
	ToolCalls    []ProviderToolCall
	InputTokens  int
	OutputTokens int
}
