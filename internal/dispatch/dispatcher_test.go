package dispatch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/herd/internal/dispatch"
)

func TestDispatcher_WorkerBound(t *testing.T) {
	t.Parallel()

	d := dispatch.New(context.Background(), dispatch.Config{Workers: 2})
	var (
		running, peak atomic.Int32
		wg            sync.WaitGroup
	)
	for range 10 {
		wg.Add(1)
		require.NoError(t, d.Go("work", func(context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	require.NoError(t, d.Shutdown(context.Background(), time.Second))
}

func TestDispatcher_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	d := dispatch.New(context.Background(), dispatch.Config{})
	require.NoError(t, d.Go("boom", func(context.Context) { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, d.Go("after", func(context.Context) { close(done) }))
	<-done
	require.NoError(t, d.Shutdown(context.Background(), time.Second))
	assert.Equal(t, 1, d.Pools()[0].Panics())
}

func TestDispatcher_Schedule(t *testing.T) {
	t.Parallel()

	d := dispatch.New(context.Background(), dispatch.Config{})

	fired := make(chan struct{})
	_, err := d.Schedule("fire", 10*time.Millisecond, func(context.Context) { close(fired) })
	require.NoError(t, err)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	var cancelled atomic.Bool
	timer, err := d.Schedule("cancel", 50*time.Millisecond, func(context.Context) { cancelled.Store(true) })
	require.NoError(t, err)
	assert.True(t, timer.Stop())
	time.Sleep(100 * time.Millisecond)
	assert.False(t, cancelled.Load())

	require.NoError(t, d.Shutdown(context.Background(), time.Second))
}

func TestDispatcher_ShutdownCancelsPendingTimers(t *testing.T) {
	t.Parallel()

	d := dispatch.New(context.Background(), dispatch.Config{})
	var fired atomic.Bool
	_, err := d.Schedule("late", 50*time.Millisecond, func(context.Context) { fired.Store(true) })
	require.NoError(t, err)

	require.NoError(t, d.Shutdown(context.Background(), time.Second))
	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())

	require.ErrorIs(t, d.Go("x", func(context.Context) {}), dispatch.ErrClosed)
	_, err = d.Schedule("x", time.Millisecond, func(context.Context) {})
	require.ErrorIs(t, err, dispatch.ErrClosed)
}

func TestDispatcher_ForcedShutdown(t *testing.T) {
	t.Parallel()

	d := dispatch.New(context.Background(), dispatch.Config{})
	started := make(chan struct{})
	require.NoError(t, d.Go("stuck", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started

	err := d.Shutdown(context.Background(), 50*time.Millisecond)
	require.ErrorIs(t, err, dispatch.ErrShutdownTimeout)
	require.Error(t, d.Context().Err())
}

func TestDispatcher_SubmitDuringShutdown(t *testing.T) {
	t.Parallel()

	d := dispatch.New(context.Background(), dispatch.Config{Workers: 4})
	var (
		accepted, ran atomic.Int64
		wg            sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				err := d.Go("race", func(context.Context) { ran.Add(1) })
				if err != nil {
					assert.ErrorIs(t, err, dispatch.ErrClosed)
					return
				}
				accepted.Add(1)
			}
		}()
	}
	require.NoError(t, d.Shutdown(context.Background(), 5*time.Second))
	wg.Wait()

	// Every accepted task was counted before the pools were waited on.
	assert.Equal(t, accepted.Load(), ran.Load())
}
