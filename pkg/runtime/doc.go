// Package runtime binds a language model to a set of tools and runs bounded
// conversational turns.
//
// RunTurn never returns a Go error. Failures are carried in TurnResult.Err as
// a *TurnError whose Kind the caller switches on.
//
// Usage:
//
//	rt := runtime.NewLoopRuntime(runtime.LoopConfig{
//		Provider: runtime.NewAnthropicProvider(runtime.AnthropicConfig{APIKey: key}),
//		Model:    "claude-3-5-sonnet-20241022",
//	})
//	_ = rt.Initialize(ctx)
//	agent, _ := rt.NewAgent(instructions, tools)
//	result := agent.RunTurn(ctx, history, "list my items")
package runtime
