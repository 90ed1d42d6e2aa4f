package commandqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T, concurrency map[string]int) *CommandQueue {
	t.Helper()
	cq := New(Config{Concurrency: concurrency, Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = cq.Close() })
	return cq
}

// blockUntil enqueues a task that holds the lane until release is closed.
func blockUntil(cq *CommandQueue, lane string, started chan<- struct{}, release <-chan struct{}) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(lane, func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
		done <- err
	}()
	return done
}

func TestCommandQueue_Enqueue(t *testing.T) {
	t.Run("should return the task result", func(t *testing.T) {
		cq := newQueue(t, nil)

		result, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
			return "result", nil
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, "result", result)
	})

	t.Run("should return the task error unchanged", func(t *testing.T) {
		cq := newQueue(t, nil)
		expected := errors.New("task failed")

		result, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
			return nil, expected
		}, nil)

		assert.Same(t, expected, err)
		assert.Nil(t, result)
	})

	t.Run("should reject a nil task", func(t *testing.T) {
		cq := newQueue(t, nil)

		_, err := cq.Enqueue("test", nil, nil)
		assert.Error(t, err)
	})

	t.Run("should turn a panic into an error", func(t *testing.T) {
		cq := newQueue(t, nil)

		_, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
			panic("boom")
		}, nil)

		assert.ErrorIs(t, err, ErrTaskPanicked)
		assert.Contains(t, err.Error(), "boom")

		result, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
			return 1, nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result)
	})

	t.Run("should drop the lane once idle", func(t *testing.T) {
		cq := newQueue(t, nil)

		_, err := cq.Enqueue(SessionLane("s1"), func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, cq.LaneCount())
	})
}

func TestCommandQueue_Ordering(t *testing.T) {
	t.Run("should run tasks in one lane in FIFO order without overlap", func(t *testing.T) {
		cq := newQueue(t, nil)
		started := make(chan struct{})
		release := make(chan struct{})
		first := blockUntil(cq, "serial", started, release)
		<-started

		var (
			mu      sync.Mutex
			order   []int
			active  int
			overlap bool
			wg      sync.WaitGroup
		)
		for i := 0; i < 5; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = cq.Enqueue("serial", func(ctx context.Context) (interface{}, error) {
					mu.Lock()
					active++
					if active > 1 {
						overlap = true
					}
					order = append(order, i)
					mu.Unlock()
					time.Sleep(time.Millisecond)
					mu.Lock()
					active--
					mu.Unlock()
					return nil, nil
				}, nil)
			}()
			// Each goroutine must be queued before the next one starts.
			require.Eventually(t, func() bool { return cq.QueueSize("serial") == i+1 }, time.Second, time.Millisecond)
		}

		close(release)
		require.NoError(t, <-first)
		wg.Wait()

		assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
		assert.False(t, overlap)
	})

	t.Run("should run different lanes concurrently", func(t *testing.T) {
		cq := newQueue(t, nil)
		started := make(chan struct{})
		release := make(chan struct{})
		defer close(release)
		blockUntil(cq, SessionLane("a"), started, release)
		<-started

		result, err := cq.Enqueue(SessionLane("b"), func(ctx context.Context) (interface{}, error) {
			return "b", nil
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, "b", result)
		assert.Equal(t, 1, cq.RunningCount(SessionLane("a")))
	})

	t.Run("should honour configured lane concurrency", func(t *testing.T) {
		cq := newQueue(t, map[string]int{"wide": 2})
		release := make(chan struct{})
		s1, s2 := make(chan struct{}), make(chan struct{})
		d1 := blockUntil(cq, "wide", s1, release)
		d2 := blockUntil(cq, "wide", s2, release)

		<-s1
		<-s2
		assert.Equal(t, 2, cq.RunningCount("wide"))

		close(release)
		require.NoError(t, <-d1)
		require.NoError(t, <-d2)
	})
}

func TestCommandQueue_Cancellation(t *testing.T) {
	t.Run("should drop a queued task when its context ends", func(t *testing.T) {
		cq := newQueue(t, nil)
		started := make(chan struct{})
		release := make(chan struct{})
		first := blockUntil(cq, "lane", started, release)
		<-started

		ctx, cancel := context.WithCancel(context.Background())
		ran := false
		done := make(chan error, 1)
		go func() {
			_, err := cq.EnqueueWithContext(ctx, "lane", func(ctx context.Context) (interface{}, error) {
				ran = true
				return nil, nil
			}, nil)
			done <- err
		}()
		require.Eventually(t, func() bool { return cq.QueueSize("lane") == 1 }, time.Second, time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		assert.Equal(t, 0, cq.QueueSize("lane"))

		close(release)
		require.NoError(t, <-first)
		assert.False(t, ran)
	})

	t.Run("should pass cancellation to a running task", func(t *testing.T) {
		cq := newQueue(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, err := cq.EnqueueWithContext(ctx, "lane", func(ctx context.Context) (interface{}, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			}, nil)
			done <- err
		}()
		<-started

		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
}

func TestCommandQueue_ClearLane(t *testing.T) {
	t.Run("should reject queued tasks only", func(t *testing.T) {
		cq := newQueue(t, nil)
		started := make(chan struct{})
		release := make(chan struct{})
		first := blockUntil(cq, "test", started, release)
		<-started

		errs := make(chan error, 3)
		for i := 0; i < 3; i++ {
			go func() {
				_, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
					return nil, nil
				}, nil)
				errs <- err
			}()
		}
		require.Eventually(t, func() bool { return cq.QueueSize("test") == 3 }, time.Second, time.Millisecond)

		assert.Equal(t, 3, cq.ClearLane("test"))
		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, <-errs, ErrLaneCleared)
		}

		close(release)
		assert.NoError(t, <-first)
	})

	t.Run("should return zero for an unknown lane", func(t *testing.T) {
		cq := newQueue(t, nil)
		assert.Equal(t, 0, cq.ClearLane("missing"))
	})
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	t.Run("should report a task that waits too long", func(t *testing.T) {
		cq := newQueue(t, nil)
		started := make(chan struct{})
		release := make(chan struct{})
		first := blockUntil(cq, "slow", started, release)
		<-started

		waited := make(chan int, 1)
		done := make(chan error, 1)
		go func() {
			_, err := cq.Enqueue("slow", func(ctx context.Context) (interface{}, error) {
				return nil, nil
			}, &TaskOptions{
				WarnAfter: 5 * time.Millisecond,
				OnWait:    func(wait time.Duration, pos int) { waited <- pos },
			})
			done <- err
		}()

		select {
		case pos := <-waited:
			assert.Equal(t, 0, pos)
		case <-time.After(time.Second):
			t.Fatal("OnWait was not called")
		}

		close(release)
		require.NoError(t, <-first)
		require.NoError(t, <-done)
	})
}

func TestCommandQueue_Close(t *testing.T) {
	t.Run("should reject work after close", func(t *testing.T) {
		cq := New(Config{Logger: zerolog.Nop()})
		require.NoError(t, cq.Close())

		_, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)
		assert.ErrorIs(t, err, ErrClosed)
		assert.NoError(t, cq.Close())
	})

	t.Run("should cancel running tasks and wait for them", func(t *testing.T) {
		cq := New(Config{Logger: zerolog.Nop()})
		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, err := cq.Enqueue("test", func(ctx context.Context) (interface{}, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			}, nil)
			done <- err
		}()
		<-started

		require.NoError(t, cq.Close())
		assert.ErrorIs(t, <-done, context.Canceled)
	})
}

func TestSessionLane(t *testing.T) {
	assert.Equal(t, "session-abc", SessionLane("abc"))
}
