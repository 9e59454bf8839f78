package sct

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// endpoint holds what the board and host have in common: the management
// queue pair, the channel table and the message queues. All state is
// guarded by mu; blocking calls drain the management queue themselves so
// they make progress without Run.
type endpoint struct {
	m    *Module
	side Side
	cfg  Config
	ws   *WaitStrategy

	mu     sync.Mutex
	notify chan struct{}
	ready  bool

	mgmtOut  *MgmtQueue
	mgmtIn   *MgmtQueue
	mgmtFree []Offset

	channels map[uint32]*Channel
	pending  []ConnectMsg // unanswered CONNECT requests in arrival order
	seq      uint32

	classOut [ClassCount]*Queue
	classIn  [ClassCount]*Queue
	retOut   *Queue
	retIn    *Queue
	msgFree  []Offset
	statusIn Offset

	session  uuid.UUID
	dead     bool
	timeouts int

	// side hooks
	onInit    func(InitMsg, ErrorCode)
	onBuffer  func(BufferMsg, ErrorCode)
	onRelease func(*Channel)
	busy      func(*Channel) bool
	adopt     func(Offset) bool
}

func newEndpoint(m *Module, cfg Config) *endpoint {
	return &endpoint{
		m:        m,
		side:     m.Side(),
		cfg:      cfg,
		ws:       NewWaitStrategy(),
		notify:   make(chan struct{}),
		channels: make(map[uint32]*Channel),
	}
}

// Module exposes the underlying queue module.
func (e *endpoint) Module() *Module { return e.m }

// Run services doorbells until ctx is done.
func (e *endpoint) Run(ctx context.Context) error {
	return e.m.Run(ctx)
}

// attachQueues binds the queue handles and registers this side's
// callbacks on the queues it consumes.
func (e *endpoint) attachQueues() error {
	in, out := e.side.Consumes(), e.side.Produces()
	var err error
	if e.mgmtIn, err = e.m.LookupMgmt(in); err != nil {
		return err
	}
	if e.mgmtOut, err = e.m.LookupMgmt(out); err != nil {
		return err
	}
	for c := range ClassCount {
		if e.classIn[c], err = e.m.Lookup(ClassQueueID(c, in)); err != nil {
			return err
		}
		if e.classOut[c], err = e.m.Lookup(ClassQueueID(c, out)); err != nil {
			return err
		}
	}
	if e.retIn, err = e.m.Lookup(ReturnQueueID(in)); err != nil {
		return err
	}
	if e.retOut, err = e.m.Lookup(ReturnQueueID(out)); err != nil {
		return err
	}

	service := func(*Queue, uint32) { e.service() }
	wake := func(*Queue, uint32) { e.wakeup() }
	if err := e.m.CallbackRegister(e.mgmtIn.Queue, service, 0); err != nil {
		return err
	}
	for c := range ClassCount {
		if err := e.m.CallbackRegister(e.classIn[c], wake, uint32(c)); err != nil {
			return err
		}
	}
	return e.m.CallbackRegister(e.retIn, wake, 0)
}

// service drains the management queue. Installed as the management queue
// callback.
func (e *endpoint) service() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainLocked()
}

func (e *endpoint) wakeup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcastLocked()
}

func (e *endpoint) broadcastLocked() {
	close(e.notify)
	e.notify = make(chan struct{})
}

func (e *endpoint) wakeCh() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notify
}

func (e *endpoint) drainLocked() int {
	if e.mgmtIn == nil || e.sessionLostLocked() {
		return 0
	}
	n := 0
	for {
		node, err := e.m.MgmtRead(e.mgmtIn)
		if err != nil {
			break
		}
		n++
		if e.adopt != nil && e.adopt(node) {
			continue
		}
		rec, err := DecodeMgmt(e.m.r.Bytes(node, MgmtMsgSize))
		e.mgmtFree = append(e.mgmtFree, node)
		if err != nil {
			logWarn(ComponentMgmt, "dropping management record", "node", node, "err", err)
			continue
		}
		trace(ComponentMgmt, "recv", "id", rec.Body.MgmtID(), "rsp", rec.Rsp)
		e.dispatchLocked(rec)
	}
	if n > 0 {
		e.timeouts = 0
		e.broadcastLocked()
	}
	return n
}

func (e *endpoint) dispatchLocked(rec MgmtRecord) {
	switch b := rec.Body.(type) {
	case InitMsg:
		if e.onInit != nil {
			e.onInit(b, rec.Rsp)
			return
		}
	case ConnectMsg:
		e.handleConnectLocked(b, rec.Rsp)
		return
	case DestroyMsg:
		e.handleDestroyLocked(b)
		return
	case BufferMsg:
		if e.onBuffer != nil {
			e.onBuffer(b, rec.Rsp)
			return
		}
	}
	logWarn(ComponentMgmt, "unexpected management record", "id", rec.Body.MgmtID(), "side", e.side)
}

// sendMgmtLocked encodes rec into a free management record and queues it
// to the peer.
func (e *endpoint) sendMgmtLocked(rec MgmtRecord) error {
	if len(e.mgmtFree) == 0 {
		return fmt.Errorf("%w: no free management records", ErrQueueFull)
	}
	node := e.mgmtFree[len(e.mgmtFree)-1]
	if err := EncodeMgmt(e.m.r.Bytes(node, MgmtMsgSize), rec); err != nil {
		return err
	}
	if err := e.m.MgmtWrite(e.mgmtOut, node); err != nil {
		return err
	}
	e.mgmtFree = e.mgmtFree[:len(e.mgmtFree)-1]
	trace(ComponentMgmt, "send", "id", rec.Body.MgmtID(), "rsp", rec.Rsp)
	return nil
}

// checkLocked gates every public operation.
func (e *endpoint) checkLocked() error {
	if !e.ready {
		return ErrNotInitialized
	}
	if e.dead || e.sessionLostLocked() {
		return ErrChannelDead
	}
	return nil
}

// sessionLostLocked detects the board formatting the region again under
// an attached host.
func (e *endpoint) sessionLostLocked() bool {
	if e.side != SideHost || !e.ready || e.dead {
		return e.dead
	}
	if e.m.Session() != e.session {
		e.markDeadLocked("board re-initialized the region")
		return true
	}
	return false
}

func (e *endpoint) markDeadLocked(reason string) {
	if e.dead {
		return
	}
	e.dead = true
	logError(ComponentChannel, "peer declared dead", "side", e.side, "reason", reason)
	e.broadcastLocked()
}

// noteTimeout counts a handshake or receive timeout toward dead
// detection.
func (e *endpoint) noteTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeouts++
	if n := e.cfg.DeadAfterTimeouts; n > 0 && e.timeouts >= n {
		e.markDeadLocked(fmt.Sprintf("%d consecutive timeouts", e.timeouts))
	}
}

// Dead reports whether the peer has been declared dead.
func (e *endpoint) Dead() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dead
}

// wait blocks until cond reports done or an error. cond runs with mu
// held, after the management queue has been drained.
func (e *endpoint) wait(ctx context.Context, cond func() (bool, error)) error {
	var cerr error
	err := e.ws.Until(ctx, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.drainLocked()
		ok, err := cond()
		if err != nil {
			cerr = err
			return true
		}
		return ok
	}, e.wakeCh, e.cfg.PollInterval)
	if err != nil {
		return err
	}
	return cerr
}
