package sct

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	m, err := ModuleInit(NewHeapRegion(RegionSize()), SideBoard, OptionPrimary|OptionMulti, NewChanInterrupt())
	require.NoError(t, err)
	return m
}

// testNode returns the i'th message record slot, which is free in a
// module with no endpoint attached.
func testNode(i int) Offset {
	return regionLayout.msgRec[SideBoard] + Offset(i*msgRecordSize)
}

func TestQueueFIFO(t *testing.T) {
	m := newTestModule(t)
	q, err := m.Create(ClassQueueID(5, BoardToHost), BoardToHost)
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, m.Write(q, testNode(i), MsgSize))
	}
	for i := range 3 {
		node, err := m.Read(q)
		require.NoError(t, err)
		assert.Equal(t, testNode(i), node)
	}
	_, err = m.Read(q)
	assert.ErrorIs(t, err, ErrQueueEmpty)
	assert.True(t, q.Empty())
}

func TestQueueCreateLookupDelete(t *testing.T) {
	m := newTestModule(t)
	id := ClassQueueID(9, HostToBoard)

	q, err := m.Create(id, HostToBoard)
	require.NoError(t, err)
	_, err = m.Create(id, HostToBoard)
	assert.ErrorIs(t, err, ErrExists)

	found, err := m.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, q.Offset(), found.Offset())
	assert.Equal(t, HostToBoard, found.Direction())

	require.NoError(t, m.Delete(q))
	_, err = m.Lookup(id)
	assert.ErrorIs(t, err, ErrNotFound)

	// The freed descriptor is reused.
	again, err := m.Create(id, HostToBoard)
	require.NoError(t, err)
	assert.Equal(t, q.Offset(), again.Offset())
}

func TestQueueBadParameters(t *testing.T) {
	m := newTestModule(t)
	_, err := m.Create(0, BoardToHost)
	assert.ErrorIs(t, err, ErrParams)
	_, err = m.Create(1, Direction(2))
	assert.ErrorIs(t, err, ErrParams)

	q, err := m.Create(1, BoardToHost)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Write(q, testNode(0)+4, MsgSize), ErrAlign)
	assert.ErrorIs(t, m.Write(q, 0, MsgSize), ErrParams)
	assert.ErrorIs(t, m.Write(q, Offset(m.Region().Size()), MsgSize), ErrParams)
}

func TestQueueStatusBit(t *testing.T) {
	m := newTestModule(t)
	q, err := m.Create(ClassQueueID(3, BoardToHost), BoardToHost)
	require.NoError(t, err)
	word := statusWord(BoardToHost, 0)
	require.NoError(t, m.StatusRegister(q, word, 3))

	assert.Zero(t, m.StatusRead(word))
	require.NoError(t, m.Write(q, testNode(0), MsgSize))
	require.NoError(t, m.Write(q, testNode(1), MsgSize))
	assert.Equal(t, uint32(1<<3), m.StatusRead(word))

	_, err = m.Read(q)
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<3), m.StatusRead(word), "bit cleared while a record remains")
	_, err = m.Read(q)
	require.NoError(t, err)
	assert.Zero(t, m.StatusRead(word))

	m.StatusUnregister(q)
	require.NoError(t, m.Write(q, testNode(0), MsgSize))
	assert.Zero(t, m.StatusRead(word))

	assert.ErrorIs(t, m.StatusRegister(q, word, 32), ErrParams)
}

func TestIsrDispatchesCallbacks(t *testing.T) {
	r := NewHeapRegion(RegionSize())
	intr := NewChanInterrupt()
	board, err := ModuleInit(r, SideBoard, OptionPrimary|OptionMulti, intr)
	require.NoError(t, err)
	host, err := ModuleInit(r, SideHost, OptionMulti, intr)
	require.NoError(t, err)

	q, err := board.Create(ClassQueueID(1, BoardToHost), BoardToHost)
	require.NoError(t, err)
	board.Ready()
	require.NoError(t, host.WaitReady(testCtx(t)))

	hq, err := host.Lookup(q.ID())
	require.NoError(t, err)
	got := make(chan uint32, 4)
	require.NoError(t, host.CallbackRegister(hq, func(q *Queue, param uint32) {
		for {
			if _, err := host.Read(q); err != nil {
				break
			}
			got <- param
		}
	}, 42))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go host.Run(ctx)

	require.NoError(t, board.Write(q, testNode(0), MsgSize))
	select {
	case p := <-got:
		assert.Equal(t, uint32(42), p)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
	assert.Zero(t, host.Isr(), "drained queue scheduled again")
}

func TestModuleRejectsSmallRegion(t *testing.T) {
	_, err := ModuleInit(NewHeapRegion(4096), SideBoard, OptionPrimary, nil)
	assert.ErrorIs(t, err, ErrParams)
}

func TestWaitReadyTimesOut(t *testing.T) {
	m, err := ModuleInit(NewHeapRegion(RegionSize()), SideHost, 0, NewChanInterrupt())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitReady(ctx), ErrNotInitialized)
}
