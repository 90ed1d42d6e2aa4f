// Package commandqueue provides lane-based task execution with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order, one at a time unless the
//   lane is configured with a higher concurrency.
// - Tasks in different lanes may execute concurrently.
// - A lane exists only while it has queued or running work.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Config{Logger: logger})
//	defer queue.Close()
//	result, err := queue.EnqueueWithContext(ctx, commandqueue.SessionLane("abc"),
//		func(ctx context.Context) (interface{}, error) {
//			return "ok", nil
//		}, nil)
package commandqueue
