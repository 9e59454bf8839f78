package sct

import (
	"sync"
	"time"
)

// doorbellPark bounds each futex wait so Stop is noticed.
const doorbellPark = 50 * time.Millisecond

// DoorbellInterrupt rings a counter word per direction in the region
// header. Waiters park on the word, so it works between processes that
// map the same region. On Linux the park is a futex wait; elsewhere it
// degrades to a short sleep.
type DoorbellInterrupt struct {
	r *Region

	once [2]sync.Once
	ch   [2]chan struct{}
	stop chan struct{}
}

// NewDoorbellInterrupt returns doorbells backed by r.
func NewDoorbellInterrupt(r *Region) *DoorbellInterrupt {
	return &DoorbellInterrupt{
		r:    r,
		ch:   [2]chan struct{}{make(chan struct{}, 1), make(chan struct{}, 1)},
		stop: make(chan struct{}),
	}
}

func doorbellWord(d Direction) Offset { return hdrDoorbell + Offset(d)*4 }

func (b *DoorbellInterrupt) Raise(d Direction) {
	b.r.Add32(doorbellWord(d), 1)
	doorbellWake(b.r.word(doorbellWord(d)))
}

// C starts watching d on first use. Rings after the first call are
// delivered.
func (b *DoorbellInterrupt) C(d Direction) <-chan struct{} {
	b.once[d].Do(func() {
		seen := b.r.Load32(doorbellWord(d))
		go b.watch(d, seen)
	})
	return b.ch[d]
}

// Stop ends the watcher goroutines.
func (b *DoorbellInterrupt) Stop() {
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
}

func (b *DoorbellInterrupt) watch(d Direction, seen uint32) {
	off := doorbellWord(d)
	addr := b.r.word(off)
	for {
		select {
		case <-b.stop:
			return
		default:
		}
		if err := doorbellWait(addr, seen, doorbellPark); err != nil {
			logError(ComponentISR, "doorbell wait failed", "direction", d, "err", err)
			time.Sleep(doorbellPark)
		}
		if v := b.r.Load32(off); v != seen {
			seen = v
			select {
			case b.ch[d] <- struct{}{}:
			default:
			}
		}
	}
}
