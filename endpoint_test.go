package sct

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestHostInitAdoptsRecords(t *testing.T) {
	b, h := newPair(t, nil)

	assert.Equal(t, b.Module().Session(), h.Module().Session())
	h.mu.Lock()
	defer h.mu.Unlock()
	// A management record belongs to whoever read it last, so the INIT
	// record itself joins the adopted ones.
	assert.Len(t, h.mgmtFree, MgmtMsgCount+1)
	assert.Equal(t, 2*MgmtMsgCount, len(b.mgmtFree)+len(h.mgmtFree))
	assert.Len(t, h.msgFree, MsgCount)
	assert.Equal(t, statusWord(BoardToHost, 0), h.statusIn)
	assert.Equal(t, [2]PhysicalAddress{0x1000_0000, 0x1FFF_FFFF}, h.window)
}

func TestHostInitWithoutBoard(t *testing.T) {
	r := NewHeapRegion(RegionSize())
	h, err := NewHost(r, nil, testConfig())
	require.NoError(t, err)

	err = h.Init(shortCtx(t))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, h.SupplySendBuffer(hostBuf(0, 4096)), ErrNotInitialized)
}

func TestDeadAfterConsecutiveTimeouts(t *testing.T) {
	cfg := testConfig()
	cfg.DeadAfterTimeouts = 2
	b, h := newPair(t, cfg)

	_, err := h.RecvMessage(shortCtx(t), 0)
	require.Error(t, err)
	assert.False(t, h.Dead())

	_, err = h.RecvMessage(shortCtx(t), 0)
	require.Error(t, err)
	assert.True(t, h.Dead())

	err = h.SendMessage(testCtx(t), 0, []byte("x"))
	assert.ErrorIs(t, err, ErrChannelDead)
	_, err = h.Connect(testCtx(t), 1, 512)
	assert.ErrorIs(t, err, ErrChannelDead)
	assert.False(t, b.Dead())
}

func TestActivityResetsTimeouts(t *testing.T) {
	cfg := testConfig()
	cfg.DeadAfterTimeouts = 2
	b, h := newPair(t, cfg)

	_, err := h.RecvMessage(shortCtx(t), 0)
	require.Error(t, err)
	require.NoError(t, b.SendMessage(testCtx(t), 0, []byte("ok")))
	_, err = h.RecvMessage(testCtx(t), 0)
	require.NoError(t, err)

	_, err = h.RecvMessage(shortCtx(t), 0)
	require.Error(t, err)
	assert.False(t, h.Dead())
}

func TestBoardReinitKillsHost(t *testing.T) {
	_, h := newPair(t, nil)
	_, err := NewBoard(h.Module().Region(), NewChanInterrupt(), testConfig())
	require.NoError(t, err)

	assert.ErrorIs(t, h.SupplySendBuffer(hostBuf(0, 4096)), ErrChannelDead)
	assert.True(t, h.Dead())
}

func TestSingleProcessLocking(t *testing.T) {
	cfg := testConfig()
	cfg.Multi = false
	b, h := newPair(t, cfg)
	require.NoError(t, b.SendMessage(testCtx(t), 5, []byte("local")))
	msg, err := h.RecvMessage(testCtx(t), 5)
	require.NoError(t, err)
	assert.Equal(t, "local", string(msg.Data))
}

func TestRunDispatchesCallbacks(t *testing.T) {
	b, h := newPair(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	require.NoError(t, h.SupplySendBuffer(hostBuf(0, 4096)))
	assert.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.arena.freeCount() == 1
	}, 2*time.Second, time.Millisecond)
}
