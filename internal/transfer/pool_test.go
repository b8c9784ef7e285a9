package transfer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := NewPool(4, 16)
	defer p.Shutdown(context.Background())

	var done int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func() {
			defer wg.Done()
			atomic.AddInt32(&done, 1)
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, int32(50), atomic.LoadInt32(&done))
}

func TestPool_ConcurrencyBoundedByWorkers(t *testing.T) {
	p := NewPool(2, 16)
	defer p.Shutdown(context.Background())

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func() {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPool_SubmitBlocksUntilContextExpires(t *testing.T) {
	p := NewPool(1, 0)
	defer p.Shutdown(context.Background())

	release := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestPool_ShutdownDrainsQueue(t *testing.T) {
	p := NewPool(1, 8)

	var done int32
	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit(context.Background(), func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&done, 1)
		}))
	}

	p.Shutdown(context.Background())
	assert.Equal(t, int32(8), atomic.LoadInt32(&done))
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	p := NewPool(1, 1)
	p.Shutdown(context.Background())

	err := p.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrShuttingDown)
}
