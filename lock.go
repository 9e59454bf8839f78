package sct

import (
	"fmt"
	"sync"

	"code.hybscloud.com/spin"
)

// Lock is a two-party Peterson lock living in shared memory. Party ids
// are 0 and 1. Each party must serialize its own callers; the lock only
// arbitrates between the two parties.
//
// A party that dies inside the critical section leaves the other
// spinning forever.
type Lock struct {
	r    *Region
	base Offset
}

// NewLock binds the lock words at base.
func NewLock(r *Region, base Offset) *Lock {
	return &Lock{r: r, base: base}
}

func (l *Lock) flag(id int) Offset { return l.base + Offset(id)*4 }
func (l *Lock) turn() Offset       { return l.base + 8 }

// Enter acquires the lock for party id.
func (l *Lock) Enter(id int) {
	if id != 0 && id != 1 {
		panic(fmt.Sprintf("sct: lock id %d", id))
	}
	other := id ^ 1
	l.r.Store32(l.flag(id), 1)
	l.r.Store32(l.turn(), uint32(id))
	sw := spin.Wait{}
	for l.r.Load32(l.flag(other)) == 1 && l.r.Load32(l.turn()) == uint32(id) {
		sw.Once()
	}
}

// Exit releases the lock for party id.
func (l *Lock) Exit(id int) {
	if id != 0 && id != 1 {
		panic(fmt.Sprintf("sct: lock id %d", id))
	}
	l.r.Store32(l.flag(id), 0)
}

// dirLock is what the queue layer holds for one direction.
type dirLock struct {
	local  *sync.Mutex
	shared *Lock // nil without OptionMulti
	id     int
}

func (d *dirLock) lock() {
	d.local.Lock()
	if d.shared != nil {
		d.shared.Enter(d.id)
	}
}

func (d *dirLock) unlock() {
	if d.shared != nil {
		d.shared.Exit(d.id)
	}
	d.local.Unlock()
}
