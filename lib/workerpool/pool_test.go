package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := New(2)
	defer p.Close()

	var running, peak atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Submit(context.Background(), func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		}))
	}

	// pool is full: TrySubmit fails and Submit blocks until the context expires
	assert.False(t, p.TrySubmit(func() {}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Submit(ctx, func() {}), context.DeadlineExceeded)
	assert.Equal(t, 2, p.Running())
	assert.Equal(t, 2, p.Capacity())

	close(release)
	require.Eventually(t, func() bool { return p.Running() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())
}

func TestPoolCloseWaitsAndRejects(t *testing.T) {
	p := New(1)

	var done atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func() {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
	}))

	p.Close()
	assert.True(t, done.Load(), "Close must wait for running tasks")
	assert.ErrorIs(t, p.Submit(context.Background(), func() {}), ErrPoolClosed)
	assert.False(t, p.TrySubmit(func() {}))

	// closing twice is fine
	p.Close()
}

func TestPoolRecoversPanics(t *testing.T) {
	p := New(1)
	defer p.Close()

	require.NoError(t, p.Submit(context.Background(), func() { panic("boom") }))

	ran := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { close(ran) }))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("slot was not released after panic")
	}
}
