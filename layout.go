package sct

import "fmt"

// Protocol constants.
const (
	APIVersion = 1

	MgmtMsgCount       = 2048 // management records per direction
	MsgCount           = 256  // message records per direction
	MaxChannels        = 128
	MaxAppOwnedBuffers = 20
	MaxRecvBuffers     = 20
	ClassCount         = 128
	MaxMessageLen      = 16
	QueueStatusCount   = 8
	MaxPort            = 65535
	MaxBufferSize      = 512 * 1024

	// MgmtQueueSize is the slot count of a management ring. It can hold
	// every record in existence plus the empty slot.
	MgmtQueueSize = 2*MgmtMsgCount + MsgCount + 2
)

const (
	// PortAny accepts a connection on any port.
	PortAny uint32 = 0xFFFFFFFF
	// PortInvalid marks a buffer not bound to a channel.
	PortInvalid int32 = -1
	// ClassAny receives a message of any class.
	ClassAny = -1
)

// Direction is the direction of travel of a queue.
type Direction uint8

const (
	BoardToHost Direction = 0
	HostToBoard Direction = 1
)

func (d Direction) String() string {
	switch d {
	case BoardToHost:
		return "board->host"
	case HostToBoard:
		return "host->board"
	}
	return fmt.Sprintf("dir(%d)", uint8(d))
}

// Side identifies a party. It doubles as the party's lock id.
type Side uint8

const (
	SideBoard Side = 0
	SideHost  Side = 1
)

func (s Side) String() string {
	if s == SideBoard {
		return "board"
	}
	return "host"
}

// Produces is the direction this side writes.
func (s Side) Produces() Direction {
	if s == SideBoard {
		return BoardToHost
	}
	return HostToBoard
}

// Consumes is the direction this side reads.
func (s Side) Consumes() Direction {
	return s.Produces() ^ 1
}

// Peer returns the other side.
func (s Side) Peer() Side { return s ^ 1 }

// Queue ids.
func ClassQueueID(class int, d Direction) uint32 {
	return 0x20000 + uint32(class)<<1 + uint32(d)
}

func ReturnQueueID(d Direction) uint32 { return 0x21000 + uint32(d) }

func MgmtQueueID(d Direction) uint32 { return 0x30000 + uint32(d) }

const (
	regionMagic = 0x31544353 // "SCT1"

	hdrMagic      Offset = 0
	hdrVersion    Offset = 4
	hdrInitDone   Offset = 8
	hdrQueueHead  Offset = 12
	hdrSession    Offset = 16 // 16 bytes
	hdrLayoutSize Offset = 32
	hdrDoorbell   Offset = 40  // [2] words, by direction
	hdrSem        Offset = 64  // [2]{flag0, flag1, turn, pad}
	hdrStatus     Offset = 128 // [2][QueueStatusCount] words

	semStride  = 16
	headerSize = 256

	descSize  = 32
	descCount = 2*ClassCount + 2 + 2 + 12

	mgmtRecordSize = 64
	msgRecordSize  = 32
)

// Status word assignment inside a direction's block.
const (
	statusClassWords = ClassCount / 32
	statusMiscWord   = statusClassWords
	statusBitMgmt    = 0
	statusBitReturn  = 1
)

// layout holds the fixed placement of every area in the region.
type layout struct {
	descBase Offset
	mgmtRing [2]Offset // by direction
	mgmtRec  [2]Offset // by owning side at init
	msgRec   [2]Offset
	size     int
}

var regionLayout = computeLayout()

func computeLayout() layout {
	var l layout
	off := headerSize
	l.descBase = Offset(off)
	off += descCount * descSize
	for d := range 2 {
		off = alignUp(off, 64)
		l.mgmtRing[d] = Offset(off)
		off += MgmtQueueSize * 4
	}
	for s := range 2 {
		off = alignUp(off, 64)
		l.mgmtRec[s] = Offset(off)
		off += MgmtMsgCount * mgmtRecordSize
	}
	for s := range 2 {
		off = alignUp(off, 64)
		l.msgRec[s] = Offset(off)
		off += MsgCount * msgRecordSize
	}
	l.size = alignUp(off, 4096)
	return l
}

// RegionSize is the minimum region size.
func RegionSize() int { return regionLayout.size }

func semOffset(d Direction) Offset {
	return hdrSem + Offset(d)*semStride
}

func statusWord(d Direction, i int) Offset {
	return hdrStatus + Offset(int(d)*QueueStatusCount+i)*4
}

func classStatus(class int) (word int, bit uint8) {
	return class >> 5, uint8(class & 31)
}
