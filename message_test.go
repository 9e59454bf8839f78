package sct

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageClassRouting(t *testing.T) {
	b, h := newPair(t, nil)
	ctx := testCtx(t)
	require.NoError(t, b.SendMessage(ctx, 3, []byte("three")))
	require.NoError(t, b.SendMessage(ctx, 7, []byte("seven")))

	msg, err := h.RecvMessagePoll(7)
	require.NoError(t, err)
	assert.Equal(t, Message{Class: 7, Data: []byte("seven"), From: SideBoard}, msg)

	msg, err = h.RecvMessage(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), msg.Data)

	_, err = h.RecvMessagePoll(3)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestMessageAnyClassLowestFirst(t *testing.T) {
	b, h := newPair(t, nil)
	ctx := testCtx(t)
	require.NoError(t, h.SendMessage(ctx, 100, []byte{1}))
	require.NoError(t, h.SendMessage(ctx, 9, []byte{2}))
	require.NoError(t, h.SendMessage(ctx, 9, []byte{3}))

	var classes []int
	var data []byte
	for range 3 {
		msg, err := b.RecvMessage(ctx, ClassAny)
		require.NoError(t, err)
		assert.Equal(t, SideHost, msg.From)
		classes = append(classes, msg.Class)
		data = append(data, msg.Data...)
	}
	assert.Equal(t, []int{9, 9, 100}, classes)
	assert.Equal(t, []byte{2, 3, 1}, data)

	_, err := b.RecvMessagePoll(ClassAny)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestMessageRecordsReturnToSender(t *testing.T) {
	b, h := newPair(t, nil)
	ctx := testCtx(t)
	const n = 3 * MsgCount

	errc := make(chan error, 1)
	go func() {
		for i := range n {
			if err := b.SendMessage(ctx, i%4, fmt.Appendf(nil, "m%d", i)); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	got := make(map[string]int)
	for range n {
		msg, err := h.RecvMessage(ctx, ClassAny)
		require.NoError(t, err)
		got[string(msg.Data)]++
	}
	require.NoError(t, <-errc)
	assert.Len(t, got, n)
	assert.Equal(t, 1, got["m0"])
	assert.Equal(t, 1, got[fmt.Sprintf("m%d", n-1)])
}

func TestMessageValidation(t *testing.T) {
	b, h := newPair(t, nil)
	ctx := testCtx(t)

	err := b.SendMessage(ctx, 0, make([]byte, MaxMessageLen+1))
	assert.ErrorIs(t, err, ErrMsgSend)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.ErrorIs(t, b.SendMessage(ctx, ClassCount, nil), ErrInvalidParameter)
	assert.ErrorIs(t, b.SendMessage(ctx, ClassAny, nil), ErrInvalidParameter)

	_, err = h.RecvMessagePoll(ClassCount)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	require.NoError(t, b.SendMessage(ctx, 0, make([]byte, MaxMessageLen)))
	msg, err := h.RecvMessagePoll(0)
	require.NoError(t, err)
	assert.Len(t, msg.Data, MaxMessageLen)
}

func TestRecvMessageTimeout(t *testing.T) {
	_, h := newPair(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h.RecvMessage(ctx, 1)
	assert.ErrorIs(t, err, ErrMsgRecv)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, h.Dead())
}
