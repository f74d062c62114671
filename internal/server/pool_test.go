package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/guestbook/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsQueuedTasksAfterShutdown(t *testing.T) {
	testlog.Start(t)
	p := NewPool(1, 4)
	release := make(chan struct{})
	var ran atomic.Int32

	require.NoError(t, p.Submit(func(context.Context) {
		<-release
		ran.Add(1)
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(func(context.Context) { ran.Add(1) }))
	}
	require.Eventually(t, func() bool { return p.Busy() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, p.Queued())

	p.Shutdown()
	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrPoolClosed)
	assert.False(t, p.AwaitTermination(20*time.Millisecond))

	close(release)
	require.True(t, p.AwaitTermination(time.Second))
	assert.EqualValues(t, 4, ran.Load())
}

func TestPoolQueueFull(t *testing.T) {
	testlog.Start(t)
	p := NewPool(1, 1)
	release := make(chan struct{})
	defer func() {
		close(release)
		p.Shutdown()
		p.AwaitTermination(time.Second)
	}()

	require.NoError(t, p.Submit(func(context.Context) { <-release }))
	require.Eventually(t, func() bool { return p.Busy() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Submit(func(context.Context) {}))
	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrQueueFull)
}

func TestPoolSubmitWaitBlocksForSlot(t *testing.T) {
	testlog.Start(t)
	p := NewPool(1, 0)
	release := make(chan struct{})
	defer func() {
		p.Shutdown()
		p.AwaitTermination(time.Second)
	}()

	require.Eventually(t, func() bool {
		return p.Submit(func(context.Context) { <-release }) == nil
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, p.SubmitWait(func(context.Context) {}, 20*time.Millisecond), ErrQueueFull)

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()
	var ran atomic.Bool
	require.NoError(t, p.SubmitWait(func(context.Context) { ran.Store(true) }, time.Second))
	require.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
}

func TestPoolCancelUnblocksTasks(t *testing.T) {
	testlog.Start(t)
	p := NewPool(2, 0)
	for i := 0; i < 2; i++ {
		require.Eventually(t, func() bool {
			return p.Submit(func(ctx context.Context) { <-ctx.Done() }) == nil
		}, time.Second, time.Millisecond)
	}
	p.Shutdown()
	assert.False(t, p.AwaitTermination(20*time.Millisecond))
	p.Cancel()
	assert.True(t, p.AwaitTermination(time.Second))
	assert.Equal(t, 2, p.Workers())
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, NextBackoffDelay(cfg, 1))
	assert.Equal(t, 20*time.Millisecond, NextBackoffDelay(cfg, 2))
	assert.Equal(t, 40*time.Millisecond, NextBackoffDelay(cfg, 3))
	assert.Equal(t, 50*time.Millisecond, NextBackoffDelay(cfg, 4))

	cfg.Multiplier = 0.5
	assert.Equal(t, 10*time.Millisecond, NextBackoffDelay(cfg, 5))
	assert.Zero(t, NextBackoffDelay(BackoffConfig{}, 3))
}
