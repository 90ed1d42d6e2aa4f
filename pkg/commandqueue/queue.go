package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/stockpilot/internal/observability"
	"github.com/harun/stockpilot/internal/tracing"
)

const tracerName = "stockpilot/commandqueue"

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("command queue closed")
	// ErrLaneCleared is delivered to tasks dropped by ClearLane.
	ErrLaneCleared = errors.New("lane cleared")
	// ErrTaskPanicked wraps a recovered panic from a task.
	ErrTaskPanicked = errors.New("task panicked")
)

// Task is a unit of work executed inside a lane.
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions tune a single enqueue.
type TaskOptions struct {
	// WarnAfter logs a warning when the task is still queued after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// Config configures a CommandQueue.
type Config struct {
	// Concurrency per lane name. Lanes not listed run one task at a time.
	Concurrency map[string]int
	Logger      zerolog.Logger
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
}

// CommandQueue serializes tasks per lane. Lanes are created on first use and
// dropped again once they go idle, so per-session lanes do not accumulate.
type CommandQueue struct {
	cfg    Config
	lanes  map[string]*laneState
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// SessionLane returns the lane name used for a conversation session.
func SessionLane(sessionID string) string {
	return "session-" + sessionID
}

// New creates a CommandQueue.
func New(cfg Config) *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		cfg:    cfg,
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue runs task in lane with a background context.
func (cq *CommandQueue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext appends task to lane and blocks until it has run.
// If ctx ends while the task is still queued, the task is dropped and
// ctx.Err() is returned. Once started, the task runs to completion and its
// own ctx observes the cancellation.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if task == nil {
		return nil, fmt.Errorf("enqueue on lane %q: nil task", lane)
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	record := &taskRecord{
		id:         gonanoid.Must(),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}
	if options != nil {
		record.options = *options
	}

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil, ErrClosed
	}
	ls := cq.laneLocked(lane)
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	cq.pumpLocked(lane, ls)
	cq.mu.Unlock()

	observability.SetQueueSize(lane, queueSize)
	cq.cfg.Logger.Debug().
		Str("lane", lane).
		Str("task_id", record.id).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	if record.options.WarnAfter > 0 {
		go cq.warnIfWaiting(lane, record)
	}

	select {
	case res := <-record.result:
		if res.err != nil {
			tracing.RecordError(span, res.err)
		}
		return res.value, res.err
	case <-ctx.Done():
		if cq.dequeue(lane, record) {
			tracing.RecordError(span, ctx.Err())
			return nil, ctx.Err()
		}
		// Already running; wait for it to finish.
		res := <-record.result
		return res.value, res.err
	}
}

func (cq *CommandQueue) laneLocked(lane string) *laneState {
	ls, ok := cq.lanes[lane]
	if !ok {
		concurrency := cq.cfg.Concurrency[lane]
		if concurrency <= 0 {
			concurrency = 1
		}
		ls = &laneState{concurrency: concurrency}
		cq.lanes[lane] = ls
	}
	return ls
}

// pumpLocked starts queued tasks up to the lane's concurrency.
func (cq *CommandQueue) pumpLocked(lane string, ls *laneState) {
	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue[0] = nil
		ls.queue = ls.queue[1:]
		ls.running++
		cq.wg.Add(1)
		go cq.execute(lane, record)
	}
	observability.SetQueueSize(lane, len(ls.queue))
}

func (cq *CommandQueue) dequeue(lane string, record *taskRecord) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return false
	}
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			observability.SetQueueSize(lane, len(ls.queue))
			cq.dropIfIdleLocked(lane, ls)
			return true
		}
	}
	return false
}

func (cq *CommandQueue) dropIfIdleLocked(lane string, ls *laneState) {
	if ls.running == 0 && len(ls.queue) == 0 {
		delete(cq.lanes, lane)
	}
}

func (cq *CommandQueue) execute(lane string, record *taskRecord) {
	defer cq.wg.Done()

	ctx, span := tracing.StartSpan(record.ctx, tracerName, "commandqueue.execute",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, cq.cfg.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	start := time.Now()
	value, err := cq.run(runCtx, record.task)
	duration := time.Since(start)

	cq.mu.Lock()
	ls := cq.lanes[lane]
	ls.running--
	cq.pumpLocked(lane, ls)
	cq.dropIfIdleLocked(lane, ls)
	cq.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		tracing.RecordError(span, err)
		logger.Debug().Str("task_id", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
		return
	}
	logger.Debug().Str("task_id", record.id).Dur("duration", duration).Msg("Task completed")
}

func (cq *CommandQueue) run(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			cq.cfg.Logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Task panicked")
			value, err = nil, fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task(ctx)
}

func (cq *CommandQueue) warnIfWaiting(lane string, record *taskRecord) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-cq.ctx.Done():
		return
	}

	cq.mu.Lock()
	pos := -1
	if ls, ok := cq.lanes[lane]; ok {
		for i, r := range ls.queue {
			if r == record {
				pos = i
				break
			}
		}
	}
	cq.mu.Unlock()

	if pos < 0 {
		return
	}
	wait := time.Since(record.enqueuedAt)
	cq.cfg.Logger.Warn().
		Str("lane", lane).
		Str("task_id", record.id).
		Dur("wait", wait).
		Int("queue_pos", pos).
		Msg("Task waiting longer than expected")
	if record.options.OnWait != nil {
		record.options.OnWait(wait, pos)
	}
}

// QueueSize returns the number of tasks waiting in lane.
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok := cq.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// RunningCount returns the number of tasks executing in lane.
func (cq *CommandQueue) RunningCount(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok := cq.lanes[lane]; ok {
		return ls.running
	}
	return 0
}

// LaneCount returns the number of lanes with queued or running work.
func (cq *CommandQueue) LaneCount() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return len(cq.lanes)
}

// ClearLane rejects every queued task in lane with ErrLaneCleared.
// Running tasks are not affected.
func (cq *CommandQueue) ClearLane(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return 0
	}
	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: ErrLaneCleared}
	}
	ls.queue = nil
	observability.SetQueueSize(lane, 0)
	cq.dropIfIdleLocked(lane, ls)

	cq.cfg.Logger.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	return count
}

// Close rejects new work, cancels running tasks and waits for them to return.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	for lane, ls := range cq.lanes {
		for _, record := range ls.queue {
			record.result <- taskResult{err: ErrClosed}
		}
		ls.queue = nil
		observability.SetQueueSize(lane, 0)
	}
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}
