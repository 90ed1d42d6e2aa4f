package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxTurns bounds the model/tool round trips of one turn.
	DefaultMaxTurns  = 10
	DefaultMaxTokens = 1024
)

// LoopConfig configures a LoopRuntime.
type LoopConfig struct {
	Provider    Provider
	Model       string
	MaxTokens   int
	Temperature float64
	MaxTurns    int
	Logger      zerolog.Logger
}

// LoopRuntime runs a tool-use loop over a Provider: call the model, execute
// the tools it asks for, feed the results back, until the model answers in
// text or the turn budget runs out.
type LoopRuntime struct {
	cfg    LoopConfig
	logger zerolog.Logger

	mu          sync.Mutex
	initialized bool
}

// NewLoopRuntime creates a LoopRuntime.
func NewLoopRuntime(cfg LoopConfig) *LoopRuntime {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &LoopRuntime{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "runtime").Logger(),
	}
}

// Initialize validates the provider configuration.
func (r *LoopRuntime) Initialize(ctx context.Context) error {
	if r.cfg.Provider == nil {
		return fmt.Errorf("model provider is required")
	}
	if r.cfg.Model == "" {
		return fmt.Errorf("model name is required")
	}
	if v, ok := r.cfg.Provider.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", r.cfg.Provider.Name(), err)
		}
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()

	r.logger.Info().
		Str("provider", r.cfg.Provider.Name()).
		Str("model", r.cfg.Model).
		Int("max_turns", r.cfg.MaxTurns).
		Msg("Model runtime initialized")
	return nil
}

// NewAgent binds instructions and tools. Tool names must be unique.
func (r *LoopRuntime) NewAgent(instructions string, tools []Tool) (Agent, error) {
	r.mu.Lock()
	initialized := r.initialized
	r.mu.Unlock()
	if !initialized {
		return nil, fmt.Errorf("runtime is not initialized")
	}

	agent := &loopAgent{
		runtime:      r,
		instructions: instructions,
		tools:        make(map[string]Tool, len(tools)),
		specs:        make([]ToolSpec, 0, len(tools)),
	}
	for _, tool := range tools {
		if _, dup := agent.tools[tool.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool name: %s", tool.Name())
		}
		agent.tools[tool.Name()] = tool
		agent.specs = append(agent.specs, ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return agent, nil
}

type loopAgent struct {
	runtime      *LoopRuntime
	instructions string
	tools        map[string]Tool
	specs        []ToolSpec
}

// RunTurn implements Agent.
func (a *loopAgent) RunTurn(ctx context.Context, history []Message, text string) TurnResult {
	cfg := a.runtime.cfg
	logger := a.runtime.logger

	messages := make([]ProviderMessage, 0, len(history)+1)
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		role := msg.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, ProviderMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, ProviderMessage{Role: "user", Content: text})

	records := []ToolCallRecord{}

	for turn := 0; turn < cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return TurnResult{ToolCalls: records, Err: Classify(err)}
		}

		completion, err := cfg.Provider.Complete(ctx, Request{
			Model:       cfg.Model,
			System:      a.instructions,
			Messages:    messages,
			Tools:       a.specs,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			turnErr := Classify(err)
			logger.Warn().Err(err).Str("error_kind", string(turnErr.Kind)).Int("turn", turn+1).Msg("Model call failed")
			return TurnResult{ToolCalls: records, Err: turnErr}
		}

		if len(completion.ToolCalls) == 0 {
			if strings.TrimSpace(completion.Text) == "" {
				return TurnResult{ToolCalls: records, Err: &TurnError{
					Kind:   KindModelBehavior,
					Detail: "model returned an empty reply",
				}}
			}
			return TurnResult{Text: completion.Text, ToolCalls: records}
		}

		calls := completion.ToolCalls
		for i := range calls {
			calls[i].ID = fillRecord(ToolCallRecord{ID: calls[i].ID, Tool: calls[i].Name}).ID
		}
		messages = append(messages, ProviderMessage{
			Role:      "assistant",
			Content:   completion.Text,
			ToolCalls: calls,
		})

		for _, call := range calls {
			result := a.execute(ctx, call)
			records = append(records, fillRecord(ToolCallRecord{
				ID:        call.ID,
				Tool:      call.Name,
				Arguments: call.Arguments,
				Result:    result,
			}))
			messages = append(messages, ProviderMessage{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}

		logger.Debug().Int("turn", turn+1).Int("tool_calls", len(calls)).Msg("Tool round complete")
	}

	return TurnResult{ToolCalls: records, Err: &TurnError{
		Kind:   KindTurnLimit,
		Detail: fmt.Sprintf("exceeded %d model turns", cfg.MaxTurns),
	}}
}

func (a *loopAgent) execute(ctx context.Context, call ProviderToolCall) string {
	tool, ok := a.tools[call.Name]
	if !ok {
		return fmt.Sprintf("Tool execution failed: unknown tool %q", call.Name)
	}
	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	return tool.Call(ctx, args)
}
