package sct

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Offset locates a word or record inside a Region. Zero is the nil
// offset; nothing valid lives at offset 0 except the header magic.
type Offset uint32

// Region is the memory shared by the board and the host. All 32-bit
// words are accessed atomically.
type Region struct {
	mem  []byte
	path string

	// local serializes queue access when the module runs without the
	// shared-memory lock. Only meaningful for parties in one process.
	local [2]sync.Mutex

	unmap func() error
}

// NewHeapRegion allocates a process-local region. Board and host in the
// same process can share it.
func NewHeapRegion(size int) *Region {
	size = alignUp(size, 8)
	words := make([]uint64, size/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	return &Region{mem: mem}
}

// Size returns the region length in bytes.
func (r *Region) Size() int { return len(r.mem) }

// Path returns the backing file, or "" for heap regions.
func (r *Region) Path() string { return r.path }

// Bytes returns n bytes starting at off.
func (r *Region) Bytes(off Offset, n int) []byte {
	return r.mem[off : int(off)+n : int(off)+n]
}

func (r *Region) word(off Offset) *uint32 {
	if off&3 != 0 || int(off)+4 > len(r.mem) {
		panic(fmt.Sprintf("sct: bad word offset %#x", uint32(off)))
	}
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

func (r *Region) Load32(off Offset) uint32 {
	return atomic.LoadUint32(r.word(off))
}

func (r *Region) Store32(off Offset, v uint32) {
	atomic.StoreUint32(r.word(off), v)
}

func (r *Region) CAS32(off Offset, old, v uint32) bool {
	return atomic.CompareAndSwapUint32(r.word(off), old, v)
}

// Add32 adds delta to the word at off and returns the new value.
func (r *Region) Add32(off Offset, delta uint32) uint32 {
	return atomic.AddUint32(r.word(off), delta)
}

func (r *Region) Or32(off Offset, mask uint32) {
	atomic.OrUint32(r.word(off), mask)
}

func (r *Region) And32(off Offset, mask uint32) {
	atomic.AndUint32(r.word(off), mask)
}

// Zero clears n bytes at off, a word at a time. off and n must be
// multiples of 4.
func (r *Region) Zero(off Offset, n int) {
	for i := 0; i < n; i += 4 {
		r.Store32(off+Offset(i), 0)
	}
}

// Close releases the mapping. Heap regions are left to the collector.
func (r *Region) Close() error {
	if r.unmap == nil {
		return nil
	}
	err := r.unmap()
	r.unmap = nil
	r.mem = nil
	return err
}

func alignUp(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}
