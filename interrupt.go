package sct

import (
	"sync"
	"time"
)

// Interrupt is the doorbell between the two parties. Raise signals the
// consumer of direction d; C returns the channel the consumer of d waits
// on.
type Interrupt interface {
	Raise(d Direction)
	C(d Direction) <-chan struct{}
}

// ChanInterrupt delivers doorbells between parties in one process.
// Signals coalesce.
type ChanInterrupt struct {
	ch [2]chan struct{}
}

// NewChanInterrupt returns an in-process doorbell pair.
func NewChanInterrupt() *ChanInterrupt {
	return &ChanInterrupt{ch: [2]chan struct{}{make(chan struct{}, 1), make(chan struct{}, 1)}}
}

func (c *ChanInterrupt) Raise(d Direction) {
	select {
	case c.ch[d] <- struct{}{}:
	default:
	}
}

func (c *ChanInterrupt) C(d Direction) <-chan struct{} { return c.ch[d] }

// PollInterrupt replaces the doorbell with a periodic tick for parties in
// different processes.
type PollInterrupt struct {
	interval time.Duration

	once sync.Once
	ch   chan struct{}
	stop chan struct{}
}

// NewPollInterrupt ticks every interval.
func NewPollInterrupt(interval time.Duration) *PollInterrupt {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &PollInterrupt{interval: interval, ch: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (p *PollInterrupt) Raise(Direction) {}

func (p *PollInterrupt) C(Direction) <-chan struct{} {
	p.once.Do(func() { go p.run() })
	return p.ch
}

// Stop ends the ticker goroutine.
func (p *PollInterrupt) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}

func (p *PollInterrupt) run() {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			select {
			case p.ch <- struct{}{}:
			default:
			}
		}
	}
}
