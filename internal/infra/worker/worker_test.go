package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestPool_RunsSubmittedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPool(2, 8, nopLog())
	p.Start(ctx)
	defer p.Stop()

	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func(context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(5), ran.Load())
}

func TestPool_RejectsWhenSaturated(t *testing.T) {
	p := NewPool(1, 1, nopLog())
	// not started: the single slot fills and the next submit is refused
	require.NoError(t, p.Submit(func(context.Context) error { return nil }))
	assert.ErrorIs(t, p.Submit(func(context.Context) error { return nil }), ErrQueueFull)
	assert.Error(t, p.Submit(nil))
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(1, 4, nopLog())
	p.Start(context.Background())
	p.Stop()
	p.Stop()
	assert.ErrorIs(t, p.Submit(func(context.Context) error { return nil }), ErrQueueFull)
}

func TestDispatcher_RunsJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPool(1, 1, nopLog())
	p.Start(ctx)
	defer p.Stop()

	done := make(chan string, 1)
	d := NewDispatcher(p)
	require.NoError(t, d.Dispatch("job-1", func(context.Context) { done <- "job-1" }))
	select {
	case id := <-done:
		assert.Equal(t, "job-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatched run never executed")
	}
}

type processorFunc func(ctx context.Context) (bool, error)

func (f processorFunc) ProcessNext(ctx context.Context) (bool, error) { return f(ctx) }

func TestJobPoller_DrainsQueue(t *testing.T) {
	var remaining atomic.Int32
	remaining.Store(3)
	poller := NewJobPoller(processorFunc(func(context.Context) (bool, error) {
		if remaining.Load() == 0 {
			return false, nil
		}
		remaining.Add(-1)
		return true, nil
	}), 10*time.Millisecond, nopLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPool(1, 1, nopLog())
	p.Start(ctx)
	defer p.Stop()
	go poller.Start(ctx, p)

	assert.Eventually(t, func() bool { return remaining.Load() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestJobPoller_DrainStopsOnError(t *testing.T) {
	calls := 0
	boom := errors.New("store down")
	poller := NewJobPoller(processorFunc(func(context.Context) (bool, error) {
		calls++
		return false, boom
	}), time.Second, nopLog())

	assert.ErrorIs(t, poller.drain(context.Background()), boom)
	assert.Equal(t, 1, calls)
}
