package sct

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ModuleOption configures the queue module.
type ModuleOption uint32

const (
	// OptionMulti arbitrates access with the shared-memory lock. Without
	// it both parties must live in one process.
	OptionMulti ModuleOption = 0x1
	// OptionPrimary lays out the region. Exactly one party sets it.
	OptionPrimary ModuleOption = 0x2
	// OptionSaveContext is accepted for compatibility and has no effect.
	OptionSaveContext ModuleOption = 0x4
)

// Queue flags stored in the descriptor options byte.
const (
	queueRing uint8 = 0x01
)

// Descriptor field offsets.
const (
	dLast     Offset = 0
	dFirst    Offset = 4
	dCallback Offset = 8
	dParam    Offset = 12
	dNext     Offset = 16
	dID       Offset = 20
	dStatus   Offset = 24
	dMeta     Offset = 28 // bitpos, options, dir, in-use
)

// QueueCallback runs on the dispatcher goroutine when its queue has data.
type QueueCallback func(q *Queue, param uint32)

type callbackEntry struct {
	fn     QueueCallback
	param  uint32
	slot   uint32
	queue  *Queue
	queued atomic.Bool
}

// Module is one party's view of the queue transport.
type Module struct {
	r     *Region
	side  Side
	opts  ModuleOption
	intr  Interrupt
	locks [2]dirLock
	mu    [2]sync.Mutex

	cbMu      sync.Mutex
	callbacks map[Offset]*callbackEntry
	nextSlot  uint32

	isr *isrState
}

// ModuleInit attaches side to the region. The primary party formats the
// header and must call Ready once its queues exist; the other party waits
// for that in WaitReady.
func ModuleInit(r *Region, side Side, opts ModuleOption, intr Interrupt) (*Module, error) {
	if r == nil || r.Size() < RegionSize() {
		return nil, fmt.Errorf("%w: region smaller than %d bytes", ErrParams, RegionSize())
	}
	if side > SideHost {
		return nil, fmt.Errorf("%w: side %d", ErrParams, side)
	}
	if intr == nil {
		intr = NewPollInterrupt(0)
	}
	m := &Module{
		r:         r,
		side:      side,
		opts:      opts,
		intr:      intr,
		callbacks: make(map[Offset]*callbackEntry),
	}
	for d := range 2 {
		dl := dirLock{local: &m.mu[d], id: int(side)}
		if opts&OptionMulti != 0 {
			dl.shared = NewLock(r, semOffset(Direction(d)))
		} else {
			dl.local = &r.local[d]
		}
		m.locks[d] = dl
	}
	m.isr = newISRState()

	if opts&OptionPrimary != 0 {
		m.format()
	}
	return m, nil
}

func (m *Module) format() {
	r := m.r
	r.Store32(hdrInitDone, 0)
	r.Zero(hdrVersion, headerSize-int(hdrVersion))
	r.Zero(regionLayout.descBase, descCount*descSize)
	r.Store32(hdrVersion, APIVersion)
	r.Store32(hdrLayoutSize, uint32(regionLayout.size))
	id := uuid.New()
	for i := range 4 {
		r.Store32(hdrSession+Offset(i*4), binary.LittleEndian.Uint32(id[i*4:]))
	}
	r.Store32(hdrMagic, regionMagic)
	logInfo(ComponentQueue, "region formatted", "session", id.String(), "size", regionLayout.size)
}

// Ready publishes the layout to the peer.
func (m *Module) Ready() {
	m.r.Store32(hdrInitDone, 1)
}

// WaitReady blocks until the primary party has published the layout.
func (m *Module) WaitReady(ctx context.Context) error {
	err := NewWaitStrategy().Until(ctx, func() bool {
		return m.r.Load32(hdrInitDone) == 1
	}, nil, 0)
	if err != nil {
		return fmt.Errorf("%w: waiting for peer layout: %w", ErrNotInitialized, err)
	}
	if got := m.r.Load32(hdrMagic); got != regionMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrNotInitialized, got)
	}
	if got := m.r.Load32(hdrVersion); got != APIVersion {
		return fmt.Errorf("%w: api version %d, want %d", ErrNotInitialized, got, APIVersion)
	}
	if got := m.r.Load32(hdrLayoutSize); got != uint32(regionLayout.size) {
		return fmt.Errorf("%w: layout size %d, want %d", ErrNotInitialized, got, regionLayout.size)
	}
	return nil
}

// Session returns the id written by the primary party at format time.
func (m *Module) Session() uuid.UUID { return regionSession(m.r) }

func regionSession(r *Region) uuid.UUID {
	var id uuid.UUID
	for i := range 4 {
		binary.LittleEndian.PutUint32(id[i*4:], r.Load32(hdrSession+Offset(i*4)))
	}
	return id
}

// Side returns the party this module acts for.
func (m *Module) Side() Side { return m.side }

// Region returns the shared region.
func (m *Module) Region() *Region { return m.r }

func (m *Module) lockAll() {
	m.locks[0].lock()
	m.locks[1].lock()
}

func (m *Module) unlockAll() {
	m.locks[1].unlock()
	m.locks[0].unlock()
}

// Queue is a handle on a descriptor.
type Queue struct {
	m   *Module
	off Offset
	id  uint32
	dir Direction
}

func (q *Queue) ID() uint32           { return q.id }
func (q *Queue) Direction() Direction { return q.dir }
func (q *Queue) Offset() Offset       { return q.off }

func (q *Queue) load(f Offset) uint32     { return q.m.r.Load32(q.off + f) }
func (q *Queue) store(f Offset, v uint32) { q.m.r.Store32(q.off+f, v) }

func (q *Queue) meta() (bitpos, opts uint8) {
	v := q.load(dMeta)
	return uint8(v), uint8(v >> 8)
}

func (q *Queue) isRing() bool {
	_, opts := q.meta()
	return opts&queueRing != 0
}

func packMeta(bitpos, opts uint8, d Direction) uint32 {
	return uint32(bitpos) | uint32(opts)<<8 | uint32(d)<<16 | 1<<24
}

// Create allocates a descriptor for id and links it into the queue list.
func (m *Module) Create(id uint32, d Direction) (*Queue, error) {
	return m.create(id, d, 0)
}

func (m *Module) create(id uint32, d Direction, opts uint8) (*Queue, error) {
	if id == 0 || d > HostToBoard {
		return nil, fmt.Errorf("%w: queue %#x dir %d", ErrParams, id, d)
	}
	m.lockAll()
	defer m.unlockAll()

	if m.findLocked(id) != 0 {
		return nil, fmt.Errorf("%w: %#x", ErrExists, id)
	}
	var off Offset
	for i := range descCount {
		o := regionLayout.descBase + Offset(i*descSize)
		if m.r.Load32(o+dMeta)>>24 == 0 {
			off = o
			break
		}
	}
	if off == 0 {
		return nil, fmt.Errorf("%w: queue %#x", ErrNoDescriptors, id)
	}
	m.r.Zero(off, descSize)
	m.r.Store32(off+dID, id)
	m.r.Store32(off+dMeta, packMeta(0, opts, d))
	m.r.Store32(off+dNext, m.r.Load32(hdrQueueHead))
	m.r.Store32(hdrQueueHead, uint32(off))
	trace(ComponentQueue, "created", "id", id, "dir", d, "desc", off)
	return &Queue{m: m, off: off, id: id, dir: d}, nil
}

// findLocked walks the queue list. Caller holds both locks.
func (m *Module) findLocked(id uint32) Offset {
	for off := Offset(m.r.Load32(hdrQueueHead)); off != 0; off = Offset(m.r.Load32(off + dNext)) {
		if m.r.Load32(off+dID) == id {
			return off
		}
	}
	return 0
}

// Lookup finds a queue created by either party.
func (m *Module) Lookup(id uint32) (*Queue, error) {
	m.lockAll()
	off := m.findLocked(id)
	m.unlockAll()
	if off == 0 {
		return nil, fmt.Errorf("%w: %#x", ErrNotFound, id)
	}
	d := Direction(m.r.Load32(off+dMeta) >> 16 & 0xff)
	return &Queue{m: m, off: off, id: id, dir: d}, nil
}

// Queues lists every linked descriptor.
func (m *Module) Queues() []*Queue {
	m.lockAll()
	defer m.unlockAll()
	var qs []*Queue
	for off := Offset(m.r.Load32(hdrQueueHead)); off != 0; off = Offset(m.r.Load32(off + dNext)) {
		d := Direction(m.r.Load32(off+dMeta) >> 16 & 0xff)
		qs = append(qs, &Queue{m: m, off: off, id: m.r.Load32(off + dID), dir: d})
	}
	return qs
}

// Delete unlinks q. The caller drains it first; records still linked are
// lost.
func (m *Module) Delete(q *Queue) error {
	m.lockAll()
	defer m.unlockAll()
	prev := hdrQueueHead
	for off := Offset(m.r.Load32(hdrQueueHead)); off != 0; off = Offset(m.r.Load32(off + dNext)) {
		if off == q.off {
			m.r.Store32(prev, m.r.Load32(off+dNext))
			m.r.Zero(off, descSize)
			m.cbMu.Lock()
			delete(m.callbacks, off)
			m.cbMu.Unlock()
			return nil
		}
		prev = off + dNext
	}
	return fmt.Errorf("%w: %#x", ErrNotFound, q.id)
}

// CallbackRegister installs fn for q. Callbacks are local to the
// registering party; the descriptor only records a slot number.
func (m *Module) CallbackRegister(q *Queue, fn QueueCallback, param uint32) error {
	if fn == nil {
		return fmt.Errorf("%w: nil callback", ErrParams)
	}
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	e, ok := m.callbacks[q.off]
	if !ok {
		m.nextSlot++
		e = &callbackEntry{slot: m.nextSlot, queue: q}
		m.callbacks[q.off] = e
	}
	e.fn, e.param = fn, param
	q.store(dCallback, e.slot)
	q.store(dParam, param)
	return nil
}

func (m *Module) checkNode(node Offset, size int) error {
	if node == 0 || size < 4 || int(node)+size > m.r.Size() {
		return fmt.Errorf("%w: record %#x size %d", ErrParams, uint32(node), size)
	}
	if node&31 != 0 {
		return fmt.Errorf("%w: record %#x", ErrAlign, uint32(node))
	}
	return nil
}

// Write appends the record at node to q and rings the peer. The first
// word of the record is overwritten with the link.
func (m *Module) Write(q *Queue, node Offset, size int) error {
	if q.isRing() {
		return fmt.Errorf("%w: %#x is a management queue", ErrParams, q.id)
	}
	if err := m.checkNode(node, size); err != nil {
		return err
	}
	r := m.r
	l := &m.locks[q.dir]
	l.lock()
	r.Store32(node, 0)
	if last := Offset(q.load(dLast)); last == 0 {
		q.store(dFirst, uint32(node))
	} else {
		r.Store32(last, uint32(node))
	}
	q.store(dLast, uint32(node))
	q.setStatusLocked()
	l.unlock()
	trace(ComponentQueue, "write", "id", q.id, "node", node)
	m.intr.Raise(q.dir)
	return nil
}

// Read pops the head record. An empty queue yields ErrQueueEmpty.
func (m *Module) Read(q *Queue) (Offset, error) {
	if q.isRing() {
		return 0, fmt.Errorf("%w: %#x is a management queue", ErrParams, q.id)
	}
	l := &m.locks[q.dir]
	l.lock()
	first := Offset(q.load(dFirst))
	if first == 0 {
		l.unlock()
		return 0, ErrQueueEmpty
	}
	next := m.r.Load32(first)
	q.store(dFirst, next)
	if next == 0 {
		q.store(dLast, 0)
		q.clearStatusLocked()
	}
	l.unlock()
	trace(ComponentQueue, "read", "id", q.id, "node", first)
	return first, nil
}

// Empty reports whether q holds no records. The answer may be stale.
func (q *Queue) Empty() bool {
	if q.isRing() {
		return q.load(dFirst) == q.load(dLast)
	}
	return q.load(dFirst) == 0
}

// StatusRegister ties q to bit bitpos of the status word at word. The bit
// tracks whether q is non-empty.
func (m *Module) StatusRegister(q *Queue, word Offset, bitpos uint8) error {
	if bitpos > 31 || word&3 != 0 || int(word)+4 > m.r.Size() {
		return fmt.Errorf("%w: status word %#x bit %d", ErrParams, uint32(word), bitpos)
	}
	l := &m.locks[q.dir]
	l.lock()
	defer l.unlock()
	_, opts := q.meta()
	q.store(dMeta, packMeta(bitpos, opts, q.dir))
	q.store(dStatus, uint32(word))
	if !q.Empty() {
		q.setStatusLocked()
	} else {
		q.clearStatusLocked()
	}
	return nil
}

// StatusUnregister detaches q from its status word.
func (m *Module) StatusUnregister(q *Queue) {
	l := &m.locks[q.dir]
	l.lock()
	defer l.unlock()
	q.clearStatusLocked()
	q.store(dStatus, 0)
}

// StatusRead returns the status word at word.
func (m *Module) StatusRead(word Offset) uint32 {
	return m.r.Load32(word)
}

func (q *Queue) setStatusLocked() {
	if w := Offset(q.load(dStatus)); w != 0 {
		bit, _ := q.meta()
		q.m.r.Or32(w, 1<<bit)
	}
}

func (q *Queue) clearStatusLocked() {
	if w := Offset(q.load(dStatus)); w != 0 {
		bit, _ := q.meta()
		q.m.r.And32(w, ^uint32(1<<bit))
	}
}

// pending reports whether q should be dispatched.
func (q *Queue) pending() bool {
	if w := Offset(q.load(dStatus)); w != 0 {
		bit, _ := q.meta()
		return q.m.r.Load32(w)&(1<<bit) != 0
	}
	return !q.Empty()
}
