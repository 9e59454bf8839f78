package sct

import (
	"context"
	"sync"

	"code.hybscloud.com/lfq"
)

// isrState hands pending queues from Isr to the dispatcher goroutine.
// Each queue is in the work queue at most once.
type isrState struct {
	mu   sync.Mutex // single producer for work
	work *lfq.SPSC[*callbackEntry]
	wake chan struct{}
}

func newISRState() *isrState {
	return &isrState{
		work: lfq.NewSPSC[*callbackEntry](descCount),
		wake: make(chan struct{}, 1),
	}
}

// Isr scans this party's callback queues and schedules those with data.
// It returns the number of queues scheduled.
func (m *Module) Isr() int {
	m.cbMu.Lock()
	entries := make([]*callbackEntry, 0, len(m.callbacks))
	for _, e := range m.callbacks {
		entries = append(entries, e)
	}
	m.cbMu.Unlock()

	s := m.isr
	s.mu.Lock()
	n := 0
	for _, e := range entries {
		if !e.queue.pending() || !e.queued.CompareAndSwap(false, true) {
			continue
		}
		if err := s.work.Enqueue(&e); err != nil {
			e.queued.Store(false)
			logWarn(ComponentISR, "dispatch queue full", "queue", e.queue.id, "err", err)
			continue
		}
		n++
	}
	s.mu.Unlock()
	if n > 0 {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return n
}

// dispatch runs callbacks until ctx is done.
func (m *Module) dispatch(ctx context.Context) {
	s := m.isr
	for {
		for {
			e, err := s.work.Dequeue()
			if lfq.IsWouldBlock(err) {
				break
			}
			e.queued.Store(false)
			e.fn(e.queue, e.param)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

// Run services interrupts for this party until ctx is done. Callbacks
// run on a single goroutine owned by Run.
func (m *Module) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.dispatch(ctx)
	}()
	in := m.intr.C(m.side.Consumes())
	m.Isr()
	for {
		select {
		case <-ctx.Done():
			<-done
			return ctx.Err()
		case <-in:
			m.Isr()
		}
	}
}
