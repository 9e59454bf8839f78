package sct

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitStrategyAdapts(t *testing.T) {
	w := NewWaitStrategy()
	start := w.Limit()

	assert.True(t, w.Wait(func() bool { return true }, func() { t.Fatal("slept") }))
	assert.Equal(t, start+w.IncStep, w.Limit())

	slept := false
	assert.False(t, w.Wait(func() bool { return false }, func() { slept = true }))
	assert.True(t, slept)
	assert.Equal(t, start+w.IncStep-w.DecStep, w.Limit())

	for range 200 {
		w.Wait(func() bool { return false }, func() {})
	}
	assert.Equal(t, w.MinSpin, w.Limit())
}

func TestUntilDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := NewWaitStrategy().Until(ctx, func() bool { return false }, nil, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUntilConditionBeatsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, NewWaitStrategy().Until(ctx, func() bool { return true }, nil, 0))
}

func TestUntilWakesOnSignal(t *testing.T) {
	var ready atomic.Bool
	wake := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		ready.Store(true)
		close(wake)
	}()

	w := &WaitStrategy{MinSpin: 1, MaxSpin: 1, IncStep: 0, DecStep: 0}
	w.limit.Store(1)
	start := time.Now()
	err := w.Until(testCtx(t), ready.Load, func() <-chan struct{} { return wake }, time.Minute)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
