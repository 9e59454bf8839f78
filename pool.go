package sct

import (
	"fmt"
	"slices"
)

// BufHandle names a buffer descriptor in the board's arena.
type BufHandle int32

// Pool names the collection a buffer currently belongs to. A buffer is in
// exactly one pool at a time.
type Pool uint8

const (
	PoolNone    Pool = iota // being handed back to the host
	PoolFree                // board free list
	PoolBacklog             // a receive channel's backlog
	PoolOwned               // held by the application
)

func (p Pool) String() string {
	switch p {
	case PoolFree:
		return "free"
	case PoolBacklog:
		return "backlog"
	case PoolOwned:
		return "owned"
	}
	return "none"
}

// Buffer is a host buffer as the board application sees it.
type Buffer struct {
	Handle BufHandle
	Addr   ApertureAddress
	Size   uint32
}

type bufDesc struct {
	pci  PhysicalAddress
	ap   ApertureAddress
	size uint32
	pool Pool
	port uint32
	live bool
}

// bufArena owns every buffer descriptor the board knows about plus the
// free lists, keyed by buffer size.
type bufArena struct {
	descs []bufDesc
	spare []BufHandle
	free  map[uint32][]BufHandle
	sizes []uint32 // sorted keys of free
	nfree int
}

func newBufArena() *bufArena {
	return &bufArena{free: make(map[uint32][]BufHandle)}
}

// alloc records a new buffer outside any pool.
func (a *bufArena) alloc(pci PhysicalAddress, ap ApertureAddress, size uint32) BufHandle {
	d := bufDesc{pci: pci, ap: ap, size: size, pool: PoolNone, live: true}
	if n := len(a.spare); n > 0 {
		h := a.spare[n-1]
		a.spare = a.spare[:n-1]
		a.descs[h] = d
		return h
	}
	a.descs = append(a.descs, d)
	return BufHandle(len(a.descs) - 1)
}

func (a *bufArena) get(h BufHandle) (*bufDesc, error) {
	if h < 0 || int(h) >= len(a.descs) || !a.descs[h].live {
		return nil, fmt.Errorf("%w: buffer handle %d", ErrInvalidParameter, h)
	}
	return &a.descs[h], nil
}

// drop forgets a buffer once it has been handed back to the host.
func (a *bufArena) drop(h BufHandle) {
	a.descs[h] = bufDesc{}
	a.spare = append(a.spare, h)
}

func (a *bufArena) putFree(h BufHandle) {
	d := &a.descs[h]
	d.pool = PoolFree
	d.port = 0
	list, ok := a.free[d.size]
	if !ok {
		i, _ := slices.BinarySearch(a.sizes, d.size)
		a.sizes = slices.Insert(a.sizes, i, d.size)
	}
	a.free[d.size] = append(list, h)
	a.nfree++
}

// takeFree pops a buffer from the smallest free list holding buffers of
// at least want bytes.
func (a *bufArena) takeFree(want uint32) (BufHandle, bool) {
	i, _ := slices.BinarySearch(a.sizes, want)
	for ; i < len(a.sizes); i++ {
		size := a.sizes[i]
		list := a.free[size]
		if len(list) == 0 {
			continue
		}
		h := list[0]
		a.free[size] = list[1:]
		a.nfree--
		a.descs[h].pool = PoolNone
		return h, true
	}
	return 0, false
}

func (a *bufArena) freeCount() int { return a.nfree }

func (a *bufArena) buffer(h BufHandle) Buffer {
	d := &a.descs[h]
	return Buffer{Handle: h, Addr: d.ap, Size: d.size}
}

func removeHandle(list []BufHandle, h BufHandle) ([]BufHandle, bool) {
	i := slices.Index(list, h)
	if i < 0 {
		return list, false
	}
	return slices.Delete(list, i, i+1), true
}
