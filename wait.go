package sct

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// WaitStrategy spins on a condition before falling back to a blocking
// sleep. The spin budget adapts: it grows when spinning succeeds and
// shrinks when the sleep was needed.
type WaitStrategy struct {
	limit   atomic.Int32
	MinSpin int32
	MaxSpin int32
	IncStep int32
	DecStep int32
}

// NewWaitStrategy returns a strategy tuned for polling shared-memory
// queues, where each probe takes a lock.
func NewWaitStrategy() *WaitStrategy {
	w := &WaitStrategy{MinSpin: 16, MaxSpin: 1024, IncStep: 32, DecStep: 16}
	w.limit.Store(128)
	return w
}

// Limit returns the current spin budget.
func (w *WaitStrategy) Limit() int32 { return w.limit.Load() }

// Wait runs cond up to the spin budget, then calls sleep once and checks
// cond again. It reports whether cond held.
func (w *WaitStrategy) Wait(cond func() bool, sleep func()) bool {
	limit := w.limit.Load()
	for i := int32(0); i < limit; i++ {
		if cond() {
			w.limit.Store(min(limit+w.IncStep, w.MaxSpin))
			return true
		}
		if i&0x3F == 0 {
			runtime.Gosched()
		}
	}
	w.limit.Store(max(limit-w.DecStep, w.MinSpin))
	sleep()
	return cond()
}

// Until blocks until cond holds or ctx is done. wake, when non-nil,
// returns a channel that is closed or signalled when cond may have
// changed; it is fetched before cond is probed so a signal in between is
// not lost. poll bounds each sleep.
func (w *WaitStrategy) Until(ctx context.Context, cond func() bool, wake func() <-chan struct{}, poll time.Duration) error {
	if poll <= 0 {
		poll = time.Millisecond
	}
	timer := time.NewTimer(poll)
	defer timer.Stop()
	for {
		var ch <-chan struct{}
		if wake != nil {
			ch = wake()
		}
		sleep := func() {
			timer.Reset(poll)
			select {
			case <-ctx.Done():
			case <-ch:
			case <-timer.C:
			}
		}
		if w.Wait(cond, sleep) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
