package sct

import (
	"context"
	"errors"
	"fmt"
)

// HostBuffer is a host-memory buffer known by its PCI address.
type HostBuffer struct {
	Addr PhysicalAddress
	Size uint32
}

// Delivery is a buffer coming back from the board. On a receive channel
// it carries N bytes of data; on a send channel it completes an earlier
// PostRecvBuffer. Err is set when the board returned the buffer unused.
type Delivery struct {
	Buf HostBuffer
	N   uint32
	Err error
}

// Host is the host-side endpoint.
type Host struct {
	*endpoint

	adoptMgmt uint32
	adoptMsg  uint32
	initSeen  bool
	window    [2]PhysicalAddress

	// outstanding maps buffers lent to the board to their full size.
	outstanding map[PhysicalAddress]uint32
	free        []HostBuffer
}

// NewHost attaches to a region the board formats. Call Init before any
// other operation.
func NewHost(r *Region, intr Interrupt, cfg *Config) (*Host, error) {
	cfg = cfg.orDefault()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var opts ModuleOption
	if cfg.Multi {
		opts |= OptionMulti
	}
	m, err := ModuleInit(r, SideHost, opts, intr)
	if err != nil {
		return nil, err
	}
	h := &Host{
		endpoint:    newEndpoint(m, *cfg),
		outstanding: make(map[PhysicalAddress]uint32),
	}
	h.onInit = h.handleInitLocked
	h.onBuffer = h.handleBufferLocked
	h.onRelease = h.releaseChannelLocked
	h.adopt = h.adoptLocked
	return h, nil
}

// Init waits for the board's INIT and adopts the records that follow it.
func (h *Host) Init(ctx context.Context) error {
	if err := h.m.WaitReady(ctx); err != nil {
		h.noteTimeout()
		return err
	}
	h.mu.Lock()
	if h.mgmtIn == nil {
		if err := h.attachQueues(); err != nil {
			h.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrIPCInit, err)
		}
	}
	h.session = h.m.Session()
	h.mu.Unlock()

	err := h.wait(ctx, func() (bool, error) {
		return h.initSeen && h.adoptMgmt == 0 && h.adoptMsg == 0, nil
	})
	if err != nil {
		h.noteTimeout()
		return fmt.Errorf("%w: waiting for INIT: %w", ErrBoardBootFail, err)
	}
	h.mu.Lock()
	h.ready = true
	h.mu.Unlock()
	logInfo(ComponentChannel, "host initialized", "session", h.session.String(),
		"mgmt_records", len(h.mgmtFree), "msg_records", len(h.msgFree))
	return nil
}

func (h *Host) handleInitLocked(msg InitMsg, rsp ErrorCode) {
	if rsp != CodeOK {
		logError(ComponentChannel, "board reported init failure", "rsp", rsp)
		h.markDeadLocked("init failed")
		return
	}
	if h.initSeen {
		logWarn(ComponentChannel, "duplicate INIT ignored")
		return
	}
	if msg.MgmtMsgCount > MgmtMsgCount || msg.MsgCount > MsgCount {
		logError(ComponentChannel, "INIT record counts out of range",
			"mgmt", msg.MgmtMsgCount, "msg", msg.MsgCount)
		h.markDeadLocked("bad INIT")
		return
	}
	h.initSeen = true
	h.adoptMgmt, h.adoptMsg = msg.MgmtMsgCount, msg.MsgCount
	h.statusIn = msg.Status
	h.window = [2]PhysicalAddress{msg.PCIMin, msg.PCIMax}
}

// adoptLocked takes the records that follow INIT into the local pools.
func (h *Host) adoptLocked(node Offset) bool {
	switch {
	case h.adoptMgmt > 0:
		h.adoptMgmt--
		h.mgmtFree = append(h.mgmtFree, node)
	case h.adoptMsg > 0:
		h.adoptMsg--
		h.msgFree = append(h.msgFree, node)
	default:
		return false
	}
	return true
}

func (h *Host) handleBufferLocked(msg BufferMsg, rsp ErrorCode) {
	if msg.Kind != MgmtDMADone {
		logWarn(ComponentBuffer, "buffer record sent to host", "kind", msg.Kind)
		return
	}
	size, ok := h.outstanding[msg.Addr]
	if !ok {
		logWarn(ComponentBuffer, "DMA_DONE for unknown buffer", "addr", msg.Addr)
		size = msg.Size
	}
	delete(h.outstanding, msg.Addr)
	buf := HostBuffer{Addr: msg.Addr, Size: size}
	var ch *Channel
	if msg.Port >= 0 {
		ch = h.channels[uint32(msg.Port)]
	}
	if ch == nil || ch.state == StateClosed {
		if rsp != CodeOK {
			logWarn(ComponentBuffer, "buffer returned", "addr", msg.Addr, "rsp", rsp)
		}
		h.free = append(h.free, buf)
		return
	}
	ch.delivered = append(ch.delivered, Delivery{Buf: buf, N: msg.Size, Err: ErrorFromCode(rsp)})
}

func (h *Host) releaseChannelLocked(ch *Channel) {
	for _, d := range ch.delivered {
		h.free = append(h.free, d.Buf)
	}
	ch.delivered = nil
}

// AddBuffers gives host buffers to the local free list.
func (h *Host) AddBuffers(bufs ...HostBuffer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.free = append(h.free, bufs...)
}

// TakeBuffer pops a buffer from the local free list.
func (h *Host) TakeBuffer() (HostBuffer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drainLocked()
	n := len(h.free)
	if n == 0 {
		return HostBuffer{}, false
	}
	buf := h.free[n-1]
	h.free = h.free[:n-1]
	return buf, true
}

// Release returns a delivered buffer to the local free list.
func (h *Host) Release(buf HostBuffer) {
	h.AddBuffers(buf)
}

// FreeBuffers returns the length of the local free list.
func (h *Host) FreeBuffers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.free)
}

// Outstanding returns the number of buffers lent to the board.
func (h *Host) Outstanding() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.outstanding)
}

func (h *Host) lendLocked(buf HostBuffer, kind MgmtID, port int32, n uint32) error {
	if buf.Size == 0 || buf.Size > MaxBufferSize {
		return fmt.Errorf("%w: buffer size %d", ErrInvalidParameter, buf.Size)
	}
	if buf.Addr < h.window[0] || buf.Addr > h.window[1] {
		return fmt.Errorf("%w: %v", ErrTranslate, buf.Addr)
	}
	if _, dup := h.outstanding[buf.Addr]; dup {
		return fmt.Errorf("%w: %v already lent to the board", ErrInvalidParameter, buf.Addr)
	}
	err := h.sendMgmtLocked(MgmtRecord{Body: BufferMsg{Kind: kind, Port: port, Addr: buf.Addr, Size: n}})
	if err != nil {
		return err
	}
	h.outstanding[buf.Addr] = buf.Size
	return nil
}

// SupplySendBuffer lends an empty buffer to the board for its send
// channels.
func (h *Host) SupplySendBuffer(buf HostBuffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return err
	}
	if err := h.lendLocked(buf, MgmtHostSendBuf, PortInvalid, buf.Size); err != nil {
		return fmt.Errorf("%w: %w", ErrNoSendBuffers, err)
	}
	return nil
}

// PostRecvBuffer hands n bytes of data in buf to the board's receive
// channel behind ch. The buffer comes back as a Delivery on ch.
func (h *Host) PostRecvBuffer(ch *Channel, buf HostBuffer, n uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drainLocked()
	if err := h.checkLocked(); err != nil {
		return err
	}
	if ch.ep != h.endpoint || ch.role != RoleSender || ch.state != StateActive {
		return fmt.Errorf("%w: port %d", ErrChannelNotActive, ch.port)
	}
	if n == 0 || n > buf.Size || n > ch.maxSize {
		return fmt.Errorf("%w: %d bytes, buffer %d, channel max %d", ErrInvalidParameter, n, buf.Size, ch.maxSize)
	}
	return h.lendLocked(buf, MgmtHostRecvBuf, int32(ch.port), n)
}

func (h *Host) deliveredLocked(ch *Channel, role Role) (Delivery, error) {
	if err := h.checkLocked(); err != nil {
		return Delivery{}, err
	}
	if ch.role != role {
		return Delivery{}, fmt.Errorf("%w: port %d is a %v channel", ErrChannelState, ch.port, ch.role)
	}
	if len(ch.delivered) == 0 {
		if ch.state != StateActive && !(role == RoleSender && ch.state == StateSenderClosed) {
			return Delivery{}, fmt.Errorf("%w: port %d", ErrChannelNotActive, ch.port)
		}
		return Delivery{}, ErrNoBuffer
	}
	d := ch.delivered[0]
	ch.delivered = ch.delivered[1:]
	return d, nil
}

func (h *Host) waitDelivered(ctx context.Context, ch *Channel, role Role) (Delivery, error) {
	var d Delivery
	err := h.wait(ctx, func() (bool, error) {
		var err error
		d, err = h.deliveredLocked(ch, role)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrNoBuffer):
			return false, nil
		}
		return false, err
	})
	if err != nil && ctx.Err() != nil {
		h.noteTimeout()
	}
	return d, err
}

// Recv waits for a filled buffer on a receive channel.
func (h *Host) Recv(ctx context.Context, ch *Channel) (Delivery, error) {
	return h.waitDelivered(ctx, ch, RoleReceiver)
}

// RecvPoll is the non-blocking Recv.
func (h *Host) RecvPoll(ch *Channel) (Delivery, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drainLocked()
	return h.deliveredLocked(ch, RoleReceiver)
}

// Completed waits for the board to return a buffer posted on a send
// channel.
func (h *Host) Completed(ctx context.Context, ch *Channel) (Delivery, error) {
	return h.waitDelivered(ctx, ch, RoleSender)
}

// CompletedPoll is the non-blocking Completed.
func (h *Host) CompletedPoll(ch *Channel) (Delivery, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drainLocked()
	return h.deliveredLocked(ch, RoleSender)
}
