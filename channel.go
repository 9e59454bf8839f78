package sct

import (
	"context"
	"fmt"
	"slices"
)

// ChannelState is the connection state of a channel.
type ChannelState int

const (
	StateUnconnected ChannelState = iota
	StateConnecting
	StateActive
	StateSenderClosed
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateSenderClosed:
		return "sender-closed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Role is fixed at connect time. The connecting side sends, the
// accepting side receives.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// Channel is one side of a unidirectional port connection.
type Channel struct {
	ep      *endpoint
	port    uint32
	role    Role
	maxSize uint32
	state   ChannelState
	err     error

	seq uint32 // of the outstanding CONNECT

	// board side
	owned   []BufHandle
	backlog []BufHandle

	// host side
	delivered []Delivery
}

func (c *Channel) Port() uint32    { return c.port }
func (c *Channel) Role() Role      { return c.role }
func (c *Channel) MaxSize() uint32 { return c.maxSize }

// State returns the current state.
func (c *Channel) State() ChannelState {
	c.ep.mu.Lock()
	defer c.ep.mu.Unlock()
	return c.state
}

// ChannelInfo is a snapshot used by tooling.
type ChannelInfo struct {
	Port      uint32 `json:"port" yaml:"port"`
	Role      string `json:"role" yaml:"role"`
	State     string `json:"state" yaml:"state"`
	MaxSize   uint32 `json:"max_size" yaml:"max_size"`
	Owned     int    `json:"owned" yaml:"owned"`
	Backlog   int    `json:"backlog" yaml:"backlog"`
	Delivered int    `json:"delivered" yaml:"delivered"`
}

// Channels snapshots the channel table ordered by port.
func (e *endpoint) Channels() []ChannelInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ChannelInfo, 0, len(e.channels))
	for _, c := range e.channels {
		out = append(out, ChannelInfo{
			Port:      c.port,
			Role:      c.role.String(),
			State:     c.state.String(),
			MaxSize:   c.maxSize,
			Owned:     len(c.owned),
			Backlog:   len(c.backlog),
			Delivered: len(c.delivered),
		})
	}
	slices.SortFunc(out, func(a, b ChannelInfo) int { return int(a.Port) - int(b.Port) })
	return out
}

// Connect opens a send channel to the peer on port and waits for the
// peer to accept it.
func (e *endpoint) Connect(ctx context.Context, port, maxSize uint32) (*Channel, error) {
	if port > MaxPort || maxSize == 0 || maxSize > MaxBufferSize {
		return nil, fmt.Errorf("%w: connect port %d size %d", ErrInvalidParameter, port, maxSize)
	}
	e.mu.Lock()
	e.drainLocked()
	ch, err := e.startConnectLocked(port, maxSize)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	logInfo(ComponentChannel, "connecting", "side", e.side, "port", port, "max_size", maxSize)

	err = e.wait(ctx, func() (bool, error) {
		if e.dead {
			return false, ErrChannelDead
		}
		switch ch.state {
		case StateConnecting:
			return false, nil
		case StateActive:
			return true, nil
		}
		return false, ch.err
	})
	if err == nil {
		return ch, nil
	}
	e.mu.Lock()
	if ch.state == StateActive {
		// Accepted after the last check.
		e.mu.Unlock()
		return ch, nil
	}
	e.abandonLocked(ch)
	e.mu.Unlock()
	if ctx.Err() != nil {
		e.noteTimeout()
	}
	return nil, fmt.Errorf("%w: port %d: %w", ErrChannelConnect, port, err)
}

// startConnectLocked binds port to a new send channel and sends the
// request.
func (e *endpoint) startConnectLocked(port, maxSize uint32) (*Channel, error) {
	if err := e.checkLocked(); err != nil {
		return nil, err
	}
	if _, busy := e.channels[port]; busy {
		return nil, fmt.Errorf("%w: port %d", ErrChannelInUse, port)
	}
	if e.pendingIndexLocked(port) >= 0 {
		return nil, fmt.Errorf("%w: port %d has an incoming connect", ErrChannelInUse, port)
	}
	if len(e.channels) >= MaxChannels {
		return nil, ErrNoChannels
	}
	e.seq++
	ch := &Channel{ep: e, port: port, role: RoleSender, maxSize: maxSize, state: StateConnecting, seq: e.seq}
	err := e.sendMgmtLocked(MgmtRecord{Body: ConnectMsg{Port: port, MaxSize: maxSize, Seq: ch.seq}})
	if err != nil {
		return nil, fmt.Errorf("%w: port %d: %w", ErrChannelConnect, port, err)
	}
	e.channels[port] = ch
	return ch, nil
}

// abandonLocked withdraws an unanswered connect and frees the port. The
// DESTROY makes the peer drop the request, or close its receiver if it
// accepted in the meantime.
func (e *endpoint) abandonLocked(ch *Channel) {
	if ch.state != StateConnecting {
		return
	}
	ch.state = StateClosed
	if e.channels[ch.port] == ch {
		delete(e.channels, ch.port)
	}
	if e.dead {
		return
	}
	if err := e.sendMgmtLocked(MgmtRecord{Body: DestroyMsg{Port: ch.port}}); err != nil {
		logError(ComponentChannel, "withdrawing connect failed", "port", ch.port, "err", err)
	}
}

// Accept waits for the peer to connect on port, or on any port with
// PortAny, and returns the receive channel.
func (e *endpoint) Accept(ctx context.Context, port uint32) (*Channel, error) {
	if port != PortAny && port > MaxPort {
		return nil, fmt.Errorf("%w: accept port %d", ErrInvalidParameter, port)
	}
	if port != PortAny {
		e.mu.Lock()
		_, busy := e.channels[port]
		e.mu.Unlock()
		if busy {
			return nil, fmt.Errorf("%w: port %d", ErrChannelInUse, port)
		}
	}
	var ch *Channel
	err := e.wait(ctx, func() (bool, error) {
		if err := e.checkLocked(); err != nil {
			return false, err
		}
		i := e.pendingIndexLocked(port)
		if i < 0 {
			return false, nil
		}
		req := e.pending[i]
		e.pending = slices.Delete(e.pending, i, i+1)
		if len(e.channels) >= MaxChannels {
			e.replyConnectLocked(req, CodeNoChannels)
			return false, ErrNoChannels
		}
		c := &Channel{ep: e, port: req.Port, role: RoleReceiver, maxSize: req.MaxSize, state: StateActive}
		if err := e.sendMgmtLocked(MgmtRecord{Body: connectReplyTo(req)}); err != nil {
			return false, err
		}
		e.channels[req.Port] = c
		ch = c
		return true, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			e.noteTimeout()
		}
		return nil, fmt.Errorf("%w: accept port %d: %w", ErrChannelConnect, port, err)
	}
	logInfo(ComponentChannel, "accepted", "side", e.side, "port", ch.port, "max_size", ch.maxSize)
	return ch, nil
}

// pendingIndexLocked finds the incoming connect for port, or the oldest
// one for PortAny. It returns -1 when there is none.
func (e *endpoint) pendingIndexLocked(port uint32) int {
	if port == PortAny {
		if len(e.pending) == 0 {
			return -1
		}
		return 0
	}
	return slices.IndexFunc(e.pending, func(m ConnectMsg) bool { return m.Port == port })
}

func connectReplyTo(req ConnectMsg) ConnectMsg {
	return ConnectMsg{Port: req.Port, MaxSize: req.MaxSize, Reply: true, Seq: req.Seq}
}

func (e *endpoint) replyConnectLocked(req ConnectMsg, code ErrorCode) {
	err := e.sendMgmtLocked(MgmtRecord{Rsp: code, Body: connectReplyTo(req)})
	if err != nil {
		logError(ComponentChannel, "connect reply failed", "port", req.Port, "err", err)
	}
}

// handleConnectLocked completes a local connect on a reply and queues a
// request for Accept. A request for a port in use on this side, including
// one this side is itself connecting on, is refused.
func (e *endpoint) handleConnectLocked(msg ConnectMsg, rsp ErrorCode) {
	port := msg.Port
	ch := e.channels[port]
	if msg.Reply {
		if ch == nil || ch.role != RoleSender || ch.state != StateConnecting || ch.seq != msg.Seq {
			trace(ComponentChannel, "stale connect reply", "port", port, "seq", msg.Seq, "rsp", rsp)
			return
		}
		if rsp != CodeOK {
			ch.state = StateClosed
			ch.err = ErrorFromCode(rsp)
			delete(e.channels, port)
			return
		}
		ch.state = StateActive
		return
	}
	if rsp != CodeOK {
		logWarn(ComponentChannel, "connect request with response code", "port", port, "rsp", rsp)
		return
	}
	if port > MaxPort || msg.MaxSize == 0 || msg.MaxSize > MaxBufferSize {
		e.replyConnectLocked(msg, CodeInvalidParameter)
		return
	}
	if ch != nil || e.pendingIndexLocked(port) >= 0 {
		e.replyConnectLocked(msg, CodeChannelInUse)
		return
	}
	e.pending = append(e.pending, msg)
}

func (e *endpoint) handleDestroyLocked(msg DestroyMsg) {
	if i := e.pendingIndexLocked(msg.Port); i >= 0 {
		e.pending = slices.Delete(e.pending, i, i+1)
		logInfo(ComponentChannel, "connect withdrawn", "side", e.side, "port", msg.Port)
		return
	}
	ch := e.channels[msg.Port]
	switch {
	case ch == nil:
		logWarn(ComponentChannel, "destroy for unknown port", "port", msg.Port)
	case ch.role == RoleReceiver && ch.state == StateActive:
		ch.state = StateSenderClosed
	case ch.role == RoleSender && ch.state == StateSenderClosed:
		e.releaseLocked(ch)
	default:
		logWarn(ComponentChannel, "unexpected destroy", "port", msg.Port, "state", ch.state)
	}
}

// releaseLocked frees the port.
func (e *endpoint) releaseLocked(ch *Channel) {
	ch.state = StateClosed
	delete(e.channels, ch.port)
	if e.onRelease != nil {
		e.onRelease(ch)
	}
	logInfo(ComponentChannel, "closed", "side", e.side, "port", ch.port, "role", ch.role)
}

// Close closes ch. The sender closes first; its port is freed when the
// receiver acknowledges. The receiver may close only after the sender
// has.
func (e *endpoint) Close(ch *Channel) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainLocked()
	if ch.ep != e || e.channels[ch.port] != ch {
		return fmt.Errorf("%w: port %d", ErrChannelState, ch.port)
	}
	if e.busy != nil && e.busy(ch) {
		return fmt.Errorf("%w: port %d", ErrBuffersInUse, ch.port)
	}
	if ch.role == RoleSender {
		if ch.state != StateActive {
			return fmt.Errorf("%w: close in state %v", ErrChannelState, ch.state)
		}
		if err := e.sendMgmtLocked(MgmtRecord{Body: DestroyMsg{Port: ch.port}}); err != nil {
			return err
		}
		ch.state = StateSenderClosed
		return nil
	}
	if ch.state != StateSenderClosed {
		return fmt.Errorf("%w: port %d", ErrChannelNotActive, ch.port)
	}
	if err := e.sendMgmtLocked(MgmtRecord{Body: DestroyMsg{Port: ch.port}}); err != nil {
		return err
	}
	e.releaseLocked(ch)
	return nil
}
