package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_SubmitAndStop(t *testing.T) {
	p := NewWorkerPool(3, 10, nil)
	p.Start(context.Background())

	var done int32
	for i := 0; i < 10; i++ {
		p.Submit(func() { atomic.AddInt32(&done, 1) })
	}
	p.Submit(func() { panic("boom") })
	p.Stop()

	assert.Equal(t, int32(10), atomic.LoadInt32(&done))
}

func TestWorkerPool_TrySubmit(t *testing.T) {
	p := NewWorkerPool(1, 1, nil)
	assert.True(t, p.TrySubmit(func() {}))
	assert.False(t, p.TrySubmit(func() {}), "queue is full before workers start")
	p.Start(context.Background())
	p.Stop()
}

func TestRunAll(t *testing.T) {
	boom := errors.New("boom")

	t.Run("collects per task results", func(t *testing.T) {
		tasks := []Task{
			func(context.Context) error { return nil },
			func(context.Context) error { return boom },
			func(context.Context) error { panic("kaboom") },
		}

		results := RunAll(context.Background(), 2, nil, tasks)
		require.Len(t, results, 3)
		assert.NoError(t, results[0])
		assert.ErrorIs(t, results[1], boom)
		assert.ErrorContains(t, results[2], "kaboom")
	})

	t.Run("bounded concurrency", func(t *testing.T) {
		var running, peak int32
		tasks := make([]Task, 12)
		for i := range tasks {
			tasks[i] = func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			}
		}

		results := RunAll(context.Background(), 3, nil, tasks)
		for _, err := range results {
			assert.NoError(t, err)
		}
		assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results := RunAll(ctx, 1, nil, []Task{func(context.Context) error { return nil }})
		require.Len(t, results, 1)
		// 任务可能在取消前被领取，两种结果都合法
		if results[0] != nil {
			assert.ErrorIs(t, results[0], context.Canceled)
		}
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, RunAll(context.Background(), 2, nil, nil))
	})
}
