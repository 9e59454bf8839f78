package sct

import "fmt"

// MgmtQueue is a management queue: a descriptor whose records live in a
// fixed ring of offsets instead of a linked list. data_first is the read
// index and data_last the write index.
type MgmtQueue struct {
	*Queue
	ring Offset
}

// CreateMgmt creates the management queue for d.
func (m *Module) CreateMgmt(d Direction) (*MgmtQueue, error) {
	q, err := m.create(MgmtQueueID(d), d, queueRing)
	if err != nil {
		return nil, err
	}
	m.r.Zero(regionLayout.mgmtRing[d], MgmtQueueSize*4)
	return &MgmtQueue{Queue: q, ring: regionLayout.mgmtRing[d]}, nil
}

// LookupMgmt finds the management queue for d.
func (m *Module) LookupMgmt(d Direction) (*MgmtQueue, error) {
	q, err := m.Lookup(MgmtQueueID(d))
	if err != nil {
		return nil, err
	}
	if !q.isRing() {
		return nil, fmt.Errorf("%w: %#x is not a management queue", ErrParams, q.id)
	}
	return &MgmtQueue{Queue: q, ring: regionLayout.mgmtRing[d]}, nil
}

func (q *MgmtQueue) slot(i uint32) Offset { return q.ring + Offset(i)*4 }

// Len returns the number of queued records.
func (q *MgmtQueue) Len() int {
	r, w := q.load(dFirst), q.load(dLast)
	return int((w + MgmtQueueSize - r) % MgmtQueueSize)
}

// MgmtWrite appends the record at node. The ring is sized to never fill
// once init completes; a full ring still fails with ErrQueueFull.
func (m *Module) MgmtWrite(q *MgmtQueue, node Offset) error {
	if err := m.checkNode(node, MgmtMsgSize); err != nil {
		return err
	}
	l := &m.locks[q.dir]
	l.lock()
	w := q.load(dLast)
	next := (w + 1) % MgmtQueueSize
	if next == q.load(dFirst) {
		l.unlock()
		logError(ComponentMgmt, "management queue full", "queue", q.id)
		return fmt.Errorf("%w: management queue %#x", ErrQueueFull, q.id)
	}
	m.r.Store32(q.slot(w), uint32(node))
	q.store(dLast, next)
	q.setStatusLocked()
	l.unlock()
	m.intr.Raise(q.dir)
	return nil
}

// MgmtRead pops the oldest record, or fails with ErrQueueEmpty.
func (m *Module) MgmtRead(q *MgmtQueue) (Offset, error) {
	l := &m.locks[q.dir]
	l.lock()
	defer l.unlock()
	r := q.load(dFirst)
	if r == q.load(dLast) {
		return 0, ErrQueueEmpty
	}
	node := Offset(m.r.Load32(q.slot(r)))
	r = (r + 1) % MgmtQueueSize
	q.store(dFirst, r)
	if r == q.load(dLast) {
		q.clearStatusLocked()
	}
	return node, nil
}
