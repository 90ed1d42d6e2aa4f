package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu       sync.Mutex
	replies  []*Completion
	errs     []error
	requests []Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := len(p.requests)
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.replies) {
		return p.replies[i], nil
	}
	return p.replies[len(p.replies)-1], nil
}

type echoTool struct {
	name  string
	calls []map[string]interface{}
}

func (t *echoTool) Name() string                       { return t.name }
func (t *echoTool) Description() string                { return "echo " + t.name }
func (t *echoTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (t *echoTool) Call(ctx context.Context, args map[string]interface{}) string {
	t.calls = append(t.calls, args)
	return "ran " + t.name
}

type keylessProvider struct{ scriptedProvider }

func (p *keylessProvider) Validate() error { return errors.New("no key") }

func newAgent(t *testing.T, provider Provider, maxTurns int, tools ...Tool) Agent {
	t.Helper()
	rt := NewLoopRuntime(LoopConfig{Provider: provider, Model: "test-model", MaxTurns: maxTurns, Logger: zerolog.Nop()})
	require.NoError(t, rt.Initialize(context.Background()))
	agent, err := rt.NewAgent("be helpful", tools)
	require.NoError(t, err)
	return agent
}

func TestLoopRuntimeInitialize(t *testing.T) {
	t.Run("should require a provider and model", func(t *testing.T) {
		assert.Error(t, NewLoopRuntime(LoopConfig{Model: "m"}).Initialize(context.Background()))
		assert.Error(t, NewLoopRuntime(LoopConfig{Provider: &scriptedProvider{}}).Initialize(context.Background()))
	})

	t.Run("should surface provider validation failures", func(t *testing.T) {
		rt := NewLoopRuntime(LoopConfig{Provider: &keylessProvider{}, Model: "m"})
		assert.Error(t, rt.Initialize(context.Background()))
	})

	t.Run("should refuse agents before initialization", func(t *testing.T) {
		_, err := NewLoopRuntime(LoopConfig{Provider: &scriptedProvider{}, Model: "m"}).NewAgent("", nil)
		assert.Error(t, err)
	})

	t.Run("should reject duplicate tool names", func(t *testing.T) {
		rt := NewLoopRuntime(LoopConfig{Provider: &scriptedProvider{}, Model: "m", Logger: zerolog.Nop()})
		require.NoError(t, rt.Initialize(context.Background()))
		_, err := rt.NewAgent("", []Tool{&echoTool{name: "a"}, &echoTool{name: "a"}})
		assert.Error(t, err)
	})
}

func TestRunTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("should return a plain reply", func(t *testing.T) {
		provider := &scriptedProvider{replies: []*Completion{{Text: "You have 3 items."}}}
		agent := newAgent(t, provider, 0)

		result := agent.RunTurn(ctx, []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}, "how many items?")
		require.True(t, result.OK())
		assert.Equal(t, "You have 3 items.", result.Text)
		assert.Empty(t, result.ToolCalls)

		req := provider.requests[0]
		assert.Equal(t, "be helpful", req.System)
		require.Len(t, req.Messages, 3)
		assert.Equal(t, "how many items?", req.Messages[2].Content)
	})

	t.Run("should execute tools and feed results back", func(t *testing.T) {
		provider := &scriptedProvider{replies: []*Completion{
			{ToolCalls: []ProviderToolCall{{ID: "c1", Name: "list_items", Arguments: map[string]interface{}{"limit": 5.0}}}},
			{Text: "Here are your items."},
		}}
		tool := &echoTool{name: "list_items"}
		agent := newAgent(t, provider, 0, tool)

		result := agent.RunTurn(ctx, nil, "list items")
		require.True(t, result.OK())
		assert.Equal(t, "Here are your items.", result.Text)
		require.Len(t, result.ToolCalls, 1)
		assert.Equal(t, ToolCallRecord{ID: "c1", Tool: "list_items", Arguments: map[string]interface{}{"limit": 5.0}, Result: "ran list_items"}, result.ToolCalls[0])
		require.Len(t, tool.calls, 1)

		second := provider.requests[1].Messages
		require.Len(t, second, 3)
		assert.Equal(t, "assistant", second[1].Role)
		assert.Equal(t, "tool", second[2].Role)
		assert.Equal(t, "c1", second[2].ToolCallID)
		assert.Equal(t, "ran list_items", second[2].Content)
	})

	t.Run("should report unknown tools to the model", func(t *testing.T) {
		provider := &scriptedProvider{replies: []*Completion{
			{ToolCalls: []ProviderToolCall{{Name: "ghost"}}},
			{Text: "done"},
		}}
		agent := newAgent(t, provider, 0)

		result := agent.RunTurn(ctx, nil, "x")
		require.True(t, result.OK())
		require.Len(t, result.ToolCalls, 1)
		assert.Contains(t, result.ToolCalls[0].Result, "unknown tool")
		assert.NotEmpty(t, result.ToolCalls[0].ID)
	})

	t.Run("should stop at the turn limit", func(t *testing.T) {
		provider := &scriptedProvider{replies: []*Completion{
			{ToolCalls: []ProviderToolCall{{ID: "c", Name: "loop"}}},
		}}
		agent := newAgent(t, provider, 3, &echoTool{name: "loop"})

		result := agent.RunTurn(ctx, nil, "x")
		require.NotNil(t, result.Err)
		assert.Equal(t, KindTurnLimit, result.Err.Kind)
		assert.Len(t, provider.requests, 3)
		assert.Len(t, result.ToolCalls, 3)
	})

	t.Run("should classify an empty reply as model behavior", func(t *testing.T) {
		agent := newAgent(t, &scriptedProvider{replies: []*Completion{{Text: "  "}}}, 0)
		result := agent.RunTurn(ctx, nil, "x")
		require.NotNil(t, result.Err)
		assert.Equal(t, KindModelBehavior, result.Err.Kind)
	})

	t.Run("should classify provider errors", func(t *testing.T) {
		provider := &scriptedProvider{
			errs:    []error{ErrMalformedOutput},
			replies: []*Completion{{Text: "unused"}},
		}
		result := newAgent(t, provider, 0).RunTurn(ctx, nil, "x")
		require.NotNil(t, result.Err)
		assert.Equal(t, KindModelBehavior, result.Err.Kind)
	})

	t.Run("should stop when the context is cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		provider := &scriptedProvider{replies: []*Completion{{Text: "unused"}}}
		result := newAgent(t, provider, 0).RunTurn(cancelled, nil, "x")
		require.NotNil(t, result.Err)
		assert.Equal(t, KindUnexpected, result.Err.Kind)
		assert.Empty(t, provider.requests)
	})
}
