// Package agent orchestrates tool discovery and per-message processing.
//
// Invariants:
// - DiscoverAndRegister moves the orchestrator Uninitialized -> ToolsDiscovered -> Ready;
//   an unreachable tool host degrades to Ready with no tools instead of failing.
// - Messages for one session run one at a time through a commandqueue lane.
// - At most one confirmation is pending per session; destructive tools are held
//   until the user replies yes.
// - ProcessMessage always returns a Response and never panics.
//
// Usage:
//
//	orch, _ := agent.New(agent.Config{Tools: client, Runtime: rt, Sessions: store, Logger: logger})
//	if err := orch.DiscoverAndRegister(ctx); err != nil {
//		return err
//	}
//	resp := orch.ProcessMessage(ctx, "session-1", "delete item Sugar")
//	_ = resp.Status
package agent
