package sct

import (
	"context"
	"errors"
	"fmt"
)

// Board is the firmware endpoint. It formats the region, owns the record
// pools and holds host buffers on behalf of its channels.
type Board struct {
	*endpoint
	tr    Translator
	arena *bufArena
	win   [2]PhysicalAddress
}

// NewBoard formats r, creates every queue and sends INIT to the host.
func NewBoard(r *Region, intr Interrupt, cfg *Config) (*Board, error) {
	cfg = cfg.orDefault()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tr, err := cfg.Translator()
	if err != nil {
		return nil, err
	}
	opts := OptionPrimary
	if cfg.Multi {
		opts |= OptionMulti
	}
	m, err := ModuleInit(r, SideBoard, opts, intr)
	if err != nil {
		return nil, err
	}
	b := &Board{
		endpoint: newEndpoint(m, *cfg),
		tr:       tr,
		arena:    newBufArena(),
		win:      [2]PhysicalAddress{PhysicalAddress(cfg.PCIMin), PhysicalAddress(cfg.PCIMax)},
	}
	b.onBuffer = b.handleBufferLocked
	b.onRelease = b.releaseChannelLocked
	b.busy = func(ch *Channel) bool { return len(ch.owned) > 0 }

	if err := b.createQueues(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFSMInit, err)
	}
	if err := b.attachQueues(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFSMInit, err)
	}
	b.statusIn = statusWord(b.side.Consumes(), 0)
	for i := range MgmtMsgCount {
		b.mgmtFree = append(b.mgmtFree, regionLayout.mgmtRec[SideBoard]+Offset(i*mgmtRecordSize))
	}
	for i := range MsgCount {
		b.msgFree = append(b.msgFree, regionLayout.msgRec[SideBoard]+Offset(i*msgRecordSize))
	}
	m.Ready()
	if err := b.sendInit(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFSMInit, err)
	}
	logInfo(ComponentChannel, "board initialized", "session", m.Session().String())
	return b, nil
}

func (b *Board) createQueues() error {
	m := b.m
	for d := BoardToHost; d <= HostToBoard; d++ {
		mq, err := m.CreateMgmt(d)
		if err != nil {
			return err
		}
		if err := m.StatusRegister(mq.Queue, statusWord(d, statusMiscWord), statusBitMgmt); err != nil {
			return err
		}
		rq, err := m.Create(ReturnQueueID(d), d)
		if err != nil {
			return err
		}
		if err := m.StatusRegister(rq, statusWord(d, statusMiscWord), statusBitReturn); err != nil {
			return err
		}
		for c := range ClassCount {
			q, err := m.Create(ClassQueueID(c, d), d)
			if err != nil {
				return err
			}
			w, bit := classStatus(c)
			if err := m.StatusRegister(q, statusWord(d, w), bit); err != nil {
				return err
			}
		}
	}
	return nil
}

// sendInit queues INIT followed by the host's management and message
// records.
func (b *Board) sendInit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg := InitMsg{
		MgmtMsgCount: MgmtMsgCount,
		MsgCount:     MsgCount,
		Status:       statusWord(BoardToHost, 0),
		PCIMin:       b.win[0],
		PCIMax:       b.win[1],
	}
	if err := b.sendMgmtLocked(MgmtRecord{Body: msg}); err != nil {
		return err
	}
	r := b.m.Region()
	for i := range MgmtMsgCount {
		node := regionLayout.mgmtRec[SideHost] + Offset(i*mgmtRecordSize)
		r.Zero(node, mgmtRecordSize)
		if err := b.m.MgmtWrite(b.mgmtOut, node); err != nil {
			return err
		}
	}
	for i := range MsgCount {
		node := regionLayout.msgRec[SideHost] + Offset(i*msgRecordSize)
		r.Zero(node, msgRecordSize)
		if err := b.m.MgmtWrite(b.mgmtOut, node); err != nil {
			return err
		}
	}
	b.ready = true
	return nil
}

// SetTranslator replaces the address translator.
func (b *Board) SetTranslator(tr Translator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tr = tr
}

// returnLocked hands a buffer pointer back to the host.
func (b *Board) returnLocked(port int32, addr PhysicalAddress, size uint32, code ErrorCode) error {
	return b.sendMgmtLocked(MgmtRecord{
		Rsp:  code,
		Body: BufferMsg{Kind: MgmtDMADone, Port: port, Addr: addr, Size: size},
	})
}

func (b *Board) handleBufferLocked(msg BufferMsg, _ ErrorCode) {
	reject := func(code ErrorCode) {
		logWarn(ComponentBuffer, "returning host buffer", "kind", msg.Kind, "port", msg.Port, "addr", msg.Addr, "rsp", code)
		if err := b.returnLocked(msg.Port, msg.Addr, msg.Size, code); err != nil {
			logError(ComponentBuffer, "buffer return failed", "addr", msg.Addr, "err", err)
		}
	}
	if msg.Kind == MgmtDMADone {
		logWarn(ComponentBuffer, "DMA_DONE sent to board", "addr", msg.Addr)
		return
	}
	if msg.Size == 0 || msg.Size > MaxBufferSize {
		reject(CodeInvalidParameter)
		return
	}
	ap, err := b.tr.ToAperture(msg.Addr)
	if err != nil {
		reject(CodeTranslate)
		return
	}
	switch msg.Kind {
	case MgmtHostSendBuf:
		h := b.arena.alloc(msg.Addr, ap, msg.Size)
		b.arena.putFree(h)
		trace(ComponentBuffer, "send buffer", "handle", h, "size", msg.Size)
	case MgmtHostRecvBuf:
		ch := b.channels[uint32(msg.Port)]
		if msg.Port < 0 || ch == nil || ch.role != RoleReceiver || ch.state != StateActive {
			reject(CodeChannelNotActive)
			return
		}
		if len(ch.backlog) >= MaxRecvBuffers {
			reject(CodeNoRecvBuffers)
			return
		}
		h := b.arena.alloc(msg.Addr, ap, msg.Size)
		d := &b.arena.descs[h]
		d.pool, d.port = PoolBacklog, ch.port
		ch.backlog = append(ch.backlog, h)
		trace(ComponentBuffer, "recv buffer", "handle", h, "port", ch.port, "size", msg.Size)
	}
}

// releaseChannelLocked returns a closed receive channel's backlog to the
// host.
func (b *Board) releaseChannelLocked(ch *Channel) {
	for _, h := range ch.backlog {
		d := b.arena.descs[h]
		if err := b.returnLocked(int32(ch.port), d.pci, d.size, CodeChannelClose); err != nil {
			logError(ComponentBuffer, "backlog return failed", "port", ch.port, "err", err)
		}
		b.arena.drop(h)
	}
	ch.backlog = nil
}

// HostBufCount returns the number of free send buffers the board holds.
func (b *Board) HostBufCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainLocked()
	return b.arena.freeCount()
}

func (b *Board) ownedLocked(ch *Channel, buf Buffer) (*bufDesc, error) {
	if ch.ep != b.endpoint {
		return nil, fmt.Errorf("%w: foreign channel", ErrInvalidParameter)
	}
	d, err := b.arena.get(buf.Handle)
	if err != nil {
		return nil, err
	}
	if d.pool != PoolOwned || d.port != ch.port {
		return nil, fmt.Errorf("%w: buffer %d not owned on port %d", ErrInvalidParameter, buf.Handle, ch.port)
	}
	return d, nil
}

// TxGetbuf takes a free send buffer of at least the channel's max size.
// It fails with ErrNoBuffer when none is free or the application already
// holds MaxAppOwnedBuffers on ch.
func (b *Board) TxGetbuf(ch *Channel) (Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainLocked()
	return b.txGetbufLocked(ch)
}

func (b *Board) txGetbufLocked(ch *Channel) (Buffer, error) {
	if err := b.checkLocked(); err != nil {
		return Buffer{}, err
	}
	if ch.role != RoleSender || ch.state != StateActive {
		return Buffer{}, fmt.Errorf("%w: port %d", ErrChannelNotActive, ch.port)
	}
	if len(ch.owned) >= MaxAppOwnedBuffers {
		return Buffer{}, fmt.Errorf("%w: %d buffers held on port %d", ErrNoBuffer, len(ch.owned), ch.port)
	}
	h, ok := b.arena.takeFree(ch.maxSize)
	if !ok {
		return Buffer{}, ErrNoBuffer
	}
	d := &b.arena.descs[h]
	d.pool, d.port = PoolOwned, ch.port
	ch.owned = append(ch.owned, h)
	return b.arena.buffer(h), nil
}

// TxGetbufWait is TxGetbuf blocking until a buffer is available.
func (b *Board) TxGetbufWait(ctx context.Context, ch *Channel) (Buffer, error) {
	var buf Buffer
	err := b.wait(ctx, func() (bool, error) {
		var err error
		buf, err = b.txGetbufLocked(ch)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrNoBuffer):
			return false, nil
		}
		return false, err
	})
	return buf, err
}

// TxPutbuf returns an unused send buffer to the free list.
func (b *Board) TxPutbuf(ch *Channel, buf Buffer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.ownedLocked(ch, buf); err != nil {
		return err
	}
	ch.owned, _ = removeHandle(ch.owned, buf.Handle)
	b.arena.putFree(buf.Handle)
	return nil
}

// TxSend hands a filled buffer to the host. The buffer leaves the board;
// the host decides when to supply it again.
func (b *Board) TxSend(ch *Channel, buf Buffer, n uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	d, err := b.ownedLocked(ch, buf)
	if err != nil {
		return err
	}
	if n > d.size {
		return fmt.Errorf("%w: %d bytes into %d byte buffer", ErrSendBufSize, n, d.size)
	}
	if ch.state != StateActive {
		return fmt.Errorf("%w: port %d", ErrChannelNotActive, ch.port)
	}
	if err := b.returnLocked(int32(ch.port), d.pci, n, CodeOK); err != nil {
		return err
	}
	ch.owned, _ = removeHandle(ch.owned, buf.Handle)
	b.arena.drop(buf.Handle)
	return nil
}

// RxRecvPoll moves the oldest backlog buffer of ch to the application.
// It fails with ErrNoBuffer when the backlog is empty, and with
// ErrChannelNotActive once the sender has closed and the backlog is
// drained.
func (b *Board) RxRecvPoll(ch *Channel) (Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainLocked()
	return b.rxRecvLocked(ch)
}

func (b *Board) rxRecvLocked(ch *Channel) (Buffer, error) {
	if err := b.checkLocked(); err != nil {
		return Buffer{}, err
	}
	if ch.role != RoleReceiver {
		return Buffer{}, fmt.Errorf("%w: port %d is a send channel", ErrChannelState, ch.port)
	}
	if len(ch.backlog) == 0 {
		if ch.state != StateActive {
			return Buffer{}, fmt.Errorf("%w: port %d", ErrChannelNotActive, ch.port)
		}
		return Buffer{}, ErrNoBuffer
	}
	if len(ch.owned) >= MaxAppOwnedBuffers {
		return Buffer{}, fmt.Errorf("%w: %d buffers held on port %d", ErrNoBuffer, len(ch.owned), ch.port)
	}
	h := ch.backlog[0]
	ch.backlog = ch.backlog[1:]
	b.arena.descs[h].pool = PoolOwned
	ch.owned = append(ch.owned, h)
	return b.arena.buffer(h), nil
}

// RxRecv blocks until ch has a buffer.
func (b *Board) RxRecv(ctx context.Context, ch *Channel) (Buffer, error) {
	var buf Buffer
	err := b.wait(ctx, func() (bool, error) {
		var err error
		buf, err = b.rxRecvLocked(ch)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrNoBuffer):
			return false, nil
		}
		return false, err
	})
	return buf, err
}

// RxPoll returns the first channel in chs with a pending buffer.
func (b *Board) RxPoll(chs []*Channel) (*Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainLocked()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	for _, ch := range chs {
		if ch.role == RoleReceiver && len(ch.backlog) > 0 {
			return ch, nil
		}
	}
	return nil, ErrNoBuffer
}

// RxPutbuf returns a consumed receive buffer to the host. failed tags the
// return so the host can tell the data was not processed.
func (b *Board) RxPutbuf(ch *Channel, buf Buffer, failed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, err := b.ownedLocked(ch, buf)
	if err != nil {
		return err
	}
	code := CodeOK
	if failed {
		code = CodeInvalidParameter
	}
	if err := b.returnLocked(int32(ch.port), d.pci, d.size, code); err != nil {
		return err
	}
	ch.owned, _ = removeHandle(ch.owned, buf.Handle)
	b.arena.drop(buf.Handle)
	return nil
}
