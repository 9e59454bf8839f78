package sct

import (
	"errors"
	"fmt"
)

// ErrorCode is the numeric status carried in the rsp field of a
// management record. Zero means success.
type ErrorCode uint32

// Board-side codes. These travel on the wire.
const (
	CodeOK ErrorCode = iota
	CodeInvalidParameter
	CodeChannelInUse
	CodeChannelAlloc
	CodeChannelState
	CodeChannelConnect
	CodeChannelClose
	CodeChannelNotActive
	CodeBuffersInUse
	CodeFSMInit
	CodeSendBufSize
)

// Host-side codes.
const (
	CodeDeviceInUse ErrorCode = 1001 + iota
	CodeDeviceOpen
	CodeDeviceClose
	CodeDeviceReset
	CodeIPCInit
	CodeNoChannels
	_ // channel in use shares the board code
	CodeChannelCreate
	_
	_
	_
	CodeChannelDead
	CodeNoRecvBuffers
	CodeNoSendBuffers
	CodeMsgSend
	CodeMsgRecv
	CodeBoardBootFail
)

// Transport-local codes. They never leave the process except as a
// DMA_DONE rsp for a buffer that could not be translated.
const (
	CodeQueueParams ErrorCode = 2001 + iota
	CodeQueueAlign
	CodeQueueExists
	CodeQueueNotFound
	CodeQueueEmpty
	CodeQueueFull
	CodeTranslate
	CodeNoBuffer
	CodeNoMessage
	CodeNotInitialized
	CodeBadRecord
	CodeNoDescriptors
	CodeUnknown ErrorCode = 0xFFFFFFFF
)

var (
	// ErrInvalidParameter is returned when an argument is out of range.
	ErrInvalidParameter = errors.New("sct: invalid parameter")

	// ErrChannelInUse is returned when a port already has a live channel.
	ErrChannelInUse = errors.New("sct: channel in use")

	// ErrNoChannels is returned when the channel table is full.
	ErrNoChannels = errors.New("sct: no channels available")

	ErrChannelAlloc = errors.New("sct: channel allocation failed")

	// ErrChannelState is returned when an operation is illegal in the
	// channel's current state.
	ErrChannelState = errors.New("sct: invalid channel state")

	// ErrChannelConnect is returned when a connect or accept does not
	// complete.
	ErrChannelConnect = errors.New("sct: channel connect failed")

	// ErrChannelClose tags buffers returned because their channel closed.
	ErrChannelClose = errors.New("sct: channel closed")

	// ErrChannelNotActive is returned when the channel cannot carry data
	// or the receiver closes before the sender.
	ErrChannelNotActive = errors.New("sct: channel not active")

	// ErrChannelDead is returned for every request once the peer has been
	// declared dead.
	ErrChannelDead = errors.New("sct: peer is dead")

	// ErrBuffersInUse is returned when closing a channel whose buffers are
	// still held by the application.
	ErrBuffersInUse = errors.New("sct: buffers in use")

	ErrFSMInit     = errors.New("sct: state machine not initialized")
	ErrSendBufSize = errors.New("sct: send buffer too small")

	ErrNoRecvBuffers = errors.New("sct: no receive buffers")
	ErrNoSendBuffers = errors.New("sct: no send buffers")
	ErrMsgSend       = errors.New("sct: message send failed")
	ErrMsgRecv       = errors.New("sct: message receive failed")
	ErrBoardBootFail = errors.New("sct: board boot failed")
	ErrIPCInit       = errors.New("sct: ipc init failed")

	// Queue transport errors.
	ErrParams     = errors.New("sct: bad queue parameters")
	ErrAlign      = errors.New("sct: record not 32-byte aligned")
	ErrExists     = errors.New("sct: queue already exists")
	ErrNotFound   = errors.New("sct: queue not found")
	ErrQueueEmpty = errors.New("sct: queue empty")
	ErrQueueFull  = errors.New("sct: queue full")

	ErrNoDescriptors = errors.New("sct: descriptor table full")

	// ErrTranslate is returned when a PCI address falls outside the
	// configured window.
	ErrTranslate = errors.New("sct: address outside pci window")

	// ErrNoBuffer is the steady-state result of a non-blocking buffer
	// request that cannot be satisfied.
	ErrNoBuffer = errors.New("sct: no buffer available")

	// ErrNoMessage is returned by a poll that found nothing.
	ErrNoMessage = errors.New("sct: no message")

	ErrNotInitialized = errors.New("sct: not initialized")
	ErrBadRecord      = errors.New("sct: malformed record")
)

var codeTable = []struct {
	code ErrorCode
	err  error
}{
	{CodeInvalidParameter, ErrInvalidParameter},
	{CodeChannelInUse, ErrChannelInUse},
	{CodeChannelAlloc, ErrChannelAlloc},
	{CodeChannelState, ErrChannelState},
	{CodeChannelConnect, ErrChannelConnect},
	{CodeChannelClose, ErrChannelClose},
	{CodeChannelNotActive, ErrChannelNotActive},
	{CodeBuffersInUse, ErrBuffersInUse},
	{CodeFSMInit, ErrFSMInit},
	{CodeSendBufSize, ErrSendBufSize},
	{CodeIPCInit, ErrIPCInit},
	{CodeNoChannels, ErrNoChannels},
	{CodeChannelDead, ErrChannelDead},
	{CodeNoRecvBuffers, ErrNoRecvBuffers},
	{CodeNoSendBuffers, ErrNoSendBuffers},
	{CodeMsgSend, ErrMsgSend},
	{CodeMsgRecv, ErrMsgRecv},
	{CodeBoardBootFail, ErrBoardBootFail},
	{CodeQueueParams, ErrParams},
	{CodeQueueAlign, ErrAlign},
	{CodeQueueExists, ErrExists},
	{CodeQueueNotFound, ErrNotFound},
	{CodeQueueEmpty, ErrQueueEmpty},
	{CodeQueueFull, ErrQueueFull},
	{CodeTranslate, ErrTranslate},
	{CodeNoBuffer, ErrNoBuffer},
	{CodeNoMessage, ErrNoMessage},
	{CodeNotInitialized, ErrNotInitialized},
	{CodeBadRecord, ErrBadRecord},
	{CodeNoDescriptors, ErrNoDescriptors},
}

// CodeOf returns the wire code for err. A nil error maps to CodeOK and an
// error outside the sentinel set maps to CodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}

// ErrorFromCode is the inverse of CodeOf.
func ErrorFromCode(code ErrorCode) error {
	if code == CodeOK {
		return nil
	}
	for _, e := range codeTable {
		if e.code == code {
			return e.err
		}
	}
	return fmt.Errorf("sct: remote error code %d", uint32(code))
}

func (c ErrorCode) String() string {
	if c == CodeOK {
		return "ok"
	}
	return ErrorFromCode(c).Error()
}
