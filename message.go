package sct

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
)

// Message is a small control packet routed by class.
type Message struct {
	Class int
	Data  []byte
	From  Side
}

// reclaimLocked takes back records the peer has finished with.
func (e *endpoint) reclaimLocked() {
	for {
		node, err := e.m.Read(e.retIn)
		if err != nil {
			return
		}
		e.msgFree = append(e.msgFree, node)
	}
}

// SendMessage queues data on class. It waits for a free record when all
// of this side's records are in flight.
func (e *endpoint) SendMessage(ctx context.Context, class int, data []byte) error {
	if class < 0 || class >= ClassCount || len(data) > MaxMessageLen {
		return fmt.Errorf("%w: %w: class %d len %d", ErrMsgSend, ErrInvalidParameter, class, len(data))
	}
	err := e.wait(ctx, func() (bool, error) {
		if err := e.checkLocked(); err != nil {
			return false, err
		}
		if len(e.msgFree) == 0 {
			e.reclaimLocked()
		}
		n := len(e.msgFree)
		if n == 0 {
			return false, nil
		}
		node := e.msgFree[n-1]
		if err := encodeMsg(e.m.r.Bytes(node, msgRecordSize), data); err != nil {
			return false, err
		}
		if err := e.m.Write(e.classOut[class], node, MsgSize); err != nil {
			return false, err
		}
		e.msgFree = e.msgFree[:n-1]
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("%w: class %d: %w", ErrMsgSend, class, err)
	}
	trace(ComponentMessage, "sent", "class", class, "len", len(data))
	return nil
}

// pickClassLocked resolves ClassAny to the lowest class with a pending
// message. A busy low class starves higher ones.
func (e *endpoint) pickClassLocked(class int) (int, bool) {
	if class != ClassAny {
		return class, !e.classIn[class].Empty()
	}
	for w := range statusClassWords {
		v := e.m.StatusRead(e.statusIn + Offset(w*4))
		if v != 0 {
			return w*32 + bits.TrailingZeros32(v), true
		}
	}
	return 0, false
}

func (e *endpoint) recvMessageLocked(class int) (Message, error) {
	if err := e.checkLocked(); err != nil {
		return Message{}, err
	}
	c, ok := e.pickClassLocked(class)
	if !ok {
		return Message{}, ErrNoMessage
	}
	node, err := e.m.Read(e.classIn[c])
	if errors.Is(err, ErrQueueEmpty) {
		return Message{}, ErrNoMessage
	}
	if err != nil {
		return Message{}, err
	}
	data, derr := decodeMsg(e.m.r.Bytes(node, msgRecordSize))
	if err := e.m.Write(e.retOut, node, MsgSize); err != nil {
		logError(ComponentMessage, "record return failed", "node", node, "err", err)
	}
	if derr != nil {
		return Message{}, derr
	}
	e.timeouts = 0
	return Message{Class: c, Data: data, From: e.side.Peer()}, nil
}

// RecvMessagePoll returns a pending message of class, or of any class
// with ClassAny. It fails with ErrNoMessage when there is none.
func (e *endpoint) RecvMessagePoll(class int) (Message, error) {
	if class != ClassAny && (class < 0 || class >= ClassCount) {
		return Message{}, fmt.Errorf("%w: class %d", ErrInvalidParameter, class)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drainLocked()
	return e.recvMessageLocked(class)
}

// RecvMessage blocks until a message of class (or any class) arrives.
func (e *endpoint) RecvMessage(ctx context.Context, class int) (Message, error) {
	if class != ClassAny && (class < 0 || class >= ClassCount) {
		return Message{}, fmt.Errorf("%w: class %d", ErrInvalidParameter, class)
	}
	var msg Message
	err := e.wait(ctx, func() (bool, error) {
		var err error
		msg, err = e.recvMessageLocked(class)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrNoMessage):
			return false, nil
		}
		return false, err
	})
	if err != nil {
		if ctx.Err() != nil {
			e.noteTimeout()
		}
		return Message{}, fmt.Errorf("%w: %w", ErrMsgRecv, err)
	}
	return msg, nil
}
