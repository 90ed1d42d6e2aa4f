// Package toolclient discovers and invokes tools exposed by a remote tool host.
//
// Invariants:
// - The catalog is replaced wholesale on refresh; readers keep the previous snapshot during a refresh.
// - Only one refresh talks to the host at a time.
// - InvokeTool never retries, so side-effecting tools run at most once per call.
// - Transport failures surface as ErrUnreachable or ErrTimeout, bad payloads as *ProtocolError,
//   and host-reported failures as *ExecutionError.
//
// Usage:
//
//	client, _ := toolclient.New(toolclient.Config{
//		Transport: toolclient.NewRESTTransport(toolclient.RESTConfig{BaseURL: "http://localhost:8000"}),
//	})
//	catalog, _ := client.DiscoverTools(ctx)
//	result, _ := client.InvokeTool(ctx, "list_items", map[string]interface{}{"limit": 10})
//	_, _ = catalog, result
package toolclient
