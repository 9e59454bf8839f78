package sct

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectAccept(t *testing.T) {
	b, h := newPair(t, nil)
	send, recv := connectPair(t, b, h, 21, 65536)

	assert.Equal(t, RoleSender, send.Role())
	assert.Equal(t, RoleReceiver, recv.Role())
	assert.Equal(t, StateActive, send.State())
	assert.Equal(t, StateActive, recv.State())
	assert.Equal(t, uint32(65536), recv.MaxSize())
	assert.Equal(t, uint32(21), recv.Port())
}

func TestAcceptAnyPort(t *testing.T) {
	b, h := newPair(t, nil)
	send, recv := connectPair(t, h, anyPort{b}, 300, 1024)
	assert.Equal(t, uint32(300), recv.Port())
	assert.Equal(t, uint32(300), send.Port())
}

type anyPort struct{ b *Board }

func (a anyPort) Accept(ctx context.Context, _ uint32) (*Channel, error) {
	return a.b.Accept(ctx, PortAny)
}

func TestReceiverCannotCloseFirst(t *testing.T) {
	b, h := newPair(t, nil)
	_, recv := connectPair(t, b, h, 21, 4096)

	assert.ErrorIs(t, h.Close(recv), ErrChannelNotActive)
	assert.Equal(t, StateActive, recv.State())
}

func TestSenderThenReceiverCloseFreesPort(t *testing.T) {
	b, h := newPair(t, nil)
	send, recv := connectPair(t, b, h, 21, 4096)

	require.NoError(t, b.Close(send))
	assert.Equal(t, StateSenderClosed, send.State())
	assert.ErrorIs(t, b.Close(send), ErrChannelState)

	require.NoError(t, h.Close(recv))
	assert.Equal(t, StateClosed, recv.State())

	// The acknowledgement frees the port on the board as well.
	send2, recv2 := connectPair(t, b, h, 21, 4096)
	assert.Equal(t, StateActive, send2.State())
	assert.Equal(t, StateActive, recv2.State())
	assert.Equal(t, StateClosed, send.State())
}

func TestConnectOnBoundPort(t *testing.T) {
	b, h := newPair(t, nil)
	connectPair(t, b, h, 21, 4096)

	_, err := b.Connect(testCtx(t), 21, 4096)
	assert.ErrorIs(t, err, ErrChannelInUse)
}

func TestPeerRejectsConnectOnBusyPort(t *testing.T) {
	b, h := newPair(t, nil)
	// The host sends on 40; the board then tries to send on 40 too.
	connectPair(t, h, b, 40, 4096)

	_, err := b.Connect(testCtx(t), 40, 4096)
	assert.ErrorIs(t, err, ErrChannelInUse)

	// Drop the host's half so its table is out of step with the board's;
	// the board answers the new request with CHANNEL_IN_USE.
	h.mu.Lock()
	delete(h.channels, 40)
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	_, err = h.Connect(testCtx(t), 40, 4096)
	assert.ErrorIs(t, err, ErrChannelConnect)
	assert.ErrorIs(t, err, ErrChannelInUse)
}

func TestConnectValidation(t *testing.T) {
	b, _ := newPair(t, nil)
	ctx := testCtx(t)
	_, err := b.Connect(ctx, MaxPort+1, 4096)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = b.Connect(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = b.Connect(ctx, 1, MaxBufferSize+1)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = b.Accept(ctx, MaxPort+1)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

// startConnect sends a connect request from e without waiting or looking
// at e's inbound queue.
func startConnect(t *testing.T, e *endpoint, port uint32) *Channel {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, err := e.startConnectLocked(port, 4096)
	require.NoError(t, err)
	return ch
}

// popMgmt takes the next management record off e's inbound queue without
// dispatching it.
func popMgmt(t *testing.T, e *endpoint) MgmtRecord {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	node, err := e.m.MgmtRead(e.mgmtIn)
	require.NoError(t, err)
	e.mgmtFree = append(e.mgmtFree, node)
	rec, err := DecodeMgmt(e.m.r.Bytes(node, MgmtMsgSize))
	require.NoError(t, err)
	return rec
}

func dispatch(e *endpoint, rec MgmtRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatchLocked(rec)
}

func TestPeerRequestDoesNotCompleteConnect(t *testing.T) {
	b, h := newPair(t, nil)
	send := startConnect(t, b.endpoint, 6)

	// A request from the host on the same port is not an acceptance.
	h.mu.Lock()
	require.NoError(t, h.sendMgmtLocked(MgmtRecord{Body: ConnectMsg{Port: 6, MaxSize: 4096, Seq: 99}}))
	h.mu.Unlock()
	b.service()
	assert.Equal(t, StateConnecting, send.State())

	recv, err := h.Accept(testCtx(t), 6)
	require.NoError(t, err)
	b.service()
	assert.Equal(t, StateActive, send.State())
	assert.Equal(t, RoleReceiver, recv.Role())
}

func TestCrossedConnectRefusedOnBothSides(t *testing.T) {
	b, h := newPair(t, nil)
	// Both requests are out before either side has seen the other's.
	bc := startConnect(t, b.endpoint, 5)
	hc := startConnect(t, h.endpoint, 5)
	b.service()
	h.service()
	b.service()

	for _, ch := range []*Channel{bc, hc} {
		assert.Equal(t, StateClosed, ch.State())
		assert.ErrorIs(t, ch.err, ErrChannelInUse)
	}
	assert.Empty(t, b.Channels())
	assert.Empty(t, h.Channels())
	_, err := h.Accept(shortCtx(t), 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	send, recv := connectPair(t, b, h, 5, 4096)
	assert.Equal(t, RoleSender, send.Role())
	assert.Equal(t, RoleReceiver, recv.Role())
}

func TestConnectTimeoutThenReconnect(t *testing.T) {
	b, h := newPair(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Connect(ctx, 50, 4096)
	require.ErrorIs(t, err, ErrChannelConnect)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, b.Channels())

	// The withdrawal follows the request, so the host never offers it.
	h.service()
	h.mu.Lock()
	assert.Empty(t, h.pending)
	h.mu.Unlock()

	send, recv := connectPair(t, b, h, 50, 4096)
	assert.Equal(t, StateActive, send.State())
	assert.Equal(t, StateActive, recv.State())
	assert.Len(t, b.Channels(), 1)
}

func TestConnectTimeoutClosesLateAccept(t *testing.T) {
	b, h := newPair(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Connect(ctx, 50, 4096)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The host accepts before it sees the withdrawal.
	req, withdraw := popMgmt(t, h.endpoint), popMgmt(t, h.endpoint)
	require.IsType(t, ConnectMsg{}, req.Body)
	require.IsType(t, DestroyMsg{}, withdraw.Body)
	dispatch(h.endpoint, req)
	recv, err := h.Accept(testCtx(t), 50)
	require.NoError(t, err)
	dispatch(h.endpoint, withdraw)
	assert.Equal(t, StateSenderClosed, recv.State())

	// The board drops the late reply and the port stays free.
	b.service()
	assert.Empty(t, b.Channels())
	require.NoError(t, h.Close(recv))
	b.service()

	send, _ := connectPair(t, b, h, 50, 4096)
	assert.Equal(t, StateActive, send.State())
}

func TestAcceptAnyTakesOldestRequest(t *testing.T) {
	b, h := newPair(t, nil)
	first := startConnect(t, b.endpoint, 300)
	second := startConnect(t, b.endpoint, 7)

	recv, err := h.Accept(testCtx(t), PortAny)
	require.NoError(t, err)
	assert.Equal(t, uint32(300), recv.Port())
	recv, err = h.Accept(testCtx(t), PortAny)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), recv.Port())

	b.service()
	assert.Equal(t, StateActive, first.State())
	assert.Equal(t, StateActive, second.State())
}

func TestChannelCeiling(t *testing.T) {
	b, h := newPair(t, nil)
	for p := range MaxChannels {
		connectPair(t, b, h, uint32(p), 512)
	}
	_, err := b.Connect(testCtx(t), MaxChannels, 512)
	assert.ErrorIs(t, err, ErrNoChannels)
}

func TestChannelsSnapshot(t *testing.T) {
	b, h := newPair(t, nil)
	connectPair(t, b, h, 9, 512)
	connectPair(t, h, b, 3, 512)

	infos := b.Channels()
	require.Len(t, infos, 2)
	assert.Equal(t, uint32(3), infos[0].Port)
	assert.Equal(t, "receiver", infos[0].Role)
	assert.Equal(t, uint32(9), infos[1].Port)
	assert.Equal(t, "active", infos[1].State)
}
