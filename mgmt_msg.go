package sct

import (
	"encoding/binary"
	"fmt"
)

// MgmtID identifies a management record.
type MgmtID uint32

const (
	MgmtInit        MgmtID = 1 // board to host only
	MgmtConnect     MgmtID = 2
	MgmtDestroy     MgmtID = 3
	MgmtDMADone     MgmtID = 4 // board to host only
	MgmtHostRecvBuf MgmtID = 5 // host to board only
	MgmtHostSendBuf MgmtID = 6 // host to board only
)

func (id MgmtID) String() string {
	switch id {
	case MgmtInit:
		return "INIT"
	case MgmtConnect:
		return "CONNECT"
	case MgmtDestroy:
		return "DESTROY"
	case MgmtDMADone:
		return "DMA_DONE"
	case MgmtHostRecvBuf:
		return "HOST_RECVBUF"
	case MgmtHostSendBuf:
		return "HOST_SENDBUF"
	}
	return fmt.Sprintf("mgmt(%d)", uint32(id))
}

// Wire sizes.
const (
	MgmtMsgSize = 40
	MsgSize     = 24
)

// Record field offsets. Word 0 is the queue link.
const (
	mID   = 4
	mRsp  = 8
	mData = 12

	msgSizeField = 4
	msgData      = 8
)

// MgmtBody is the id-specific part of a management record.
type MgmtBody interface {
	MgmtID() MgmtID
}

// InitMsg opens the session. The board sends it followed by
// MgmtMsgCount management records and MsgCount message records that the
// host adopts as its free pools.
type InitMsg struct {
	MgmtMsgCount uint32
	MsgCount     uint32
	Status       Offset // host status word block
	PCIMin       PhysicalAddress
	PCIMax       PhysicalAddress
}

// ConnectMsg is both the request and, with Reply set, the accepting
// side's answer. Seq is chosen by the requester and echoed in the reply.
type ConnectMsg struct {
	Port    uint32
	MaxSize uint32
	Reply   bool
	Seq     uint32
}

const connectReply = 1 << 0

// DestroyMsg is both the sender's close and the receiver's acknowledgement.
type DestroyMsg struct {
	Port uint32
}

// BufferMsg carries a buffer pointer. Kind is one of MgmtDMADone,
// MgmtHostRecvBuf or MgmtHostSendBuf. Port is PortInvalid for undirected
// send buffers.
type BufferMsg struct {
	Kind MgmtID
	Port int32
	Addr PhysicalAddress
	Size uint32
}

func (InitMsg) MgmtID() MgmtID     { return MgmtInit }
func (ConnectMsg) MgmtID() MgmtID  { return MgmtConnect }
func (DestroyMsg) MgmtID() MgmtID  { return MgmtDestroy }
func (b BufferMsg) MgmtID() MgmtID { return b.Kind }

// MgmtRecord is a decoded management record.
type MgmtRecord struct {
	Rsp  ErrorCode
	Body MgmtBody
}

// EncodeMgmt writes rec into b, leaving the link word untouched.
func EncodeMgmt(b []byte, rec MgmtRecord) error {
	if len(b) < MgmtMsgSize {
		return fmt.Errorf("%w: %d byte record", ErrBadRecord, len(b))
	}
	if rec.Body == nil {
		return fmt.Errorf("%w: empty body", ErrBadRecord)
	}
	le := binary.LittleEndian
	clear(b[mID:MgmtMsgSize])
	le.PutUint32(b[mID:], uint32(rec.Body.MgmtID()))
	le.PutUint32(b[mRsp:], uint32(rec.Rsp))
	d := b[mData:]
	switch m := rec.Body.(type) {
	case InitMsg:
		le.PutUint32(d[0:], m.MgmtMsgCount)
		le.PutUint32(d[4:], m.MsgCount)
		le.PutUint32(d[8:], uint32(m.Status))
		lo, hi := m.PCIMin.Split()
		le.PutUint32(d[12:], lo)
		le.PutUint32(d[16:], hi)
		lo, hi = m.PCIMax.Split()
		le.PutUint32(d[20:], lo)
		le.PutUint32(d[24:], hi)
	case ConnectMsg:
		le.PutUint32(d[0:], m.Port)
		le.PutUint32(d[4:], m.MaxSize)
		if m.Reply {
			le.PutUint32(d[8:], connectReply)
		}
		le.PutUint32(d[12:], m.Seq)
	case DestroyMsg:
		le.PutUint32(d[0:], m.Port)
	case BufferMsg:
		switch m.Kind {
		case MgmtDMADone, MgmtHostRecvBuf, MgmtHostSendBuf:
		default:
			return fmt.Errorf("%w: buffer record kind %v", ErrBadRecord, m.Kind)
		}
		le.PutUint32(d[0:], uint32(m.Port))
		lo, hi := m.Addr.Split()
		le.PutUint32(d[4:], lo)
		le.PutUint32(d[8:], hi)
		le.PutUint32(d[12:], m.Size)
	default:
		return fmt.Errorf("%w: body %T", ErrBadRecord, rec.Body)
	}
	return nil
}

// DecodeMgmt parses a management record.
func DecodeMgmt(b []byte) (MgmtRecord, error) {
	if len(b) < MgmtMsgSize {
		return MgmtRecord{}, fmt.Errorf("%w: %d byte record", ErrBadRecord, len(b))
	}
	le := binary.LittleEndian
	id := MgmtID(le.Uint32(b[mID:]))
	rec := MgmtRecord{Rsp: ErrorCode(le.Uint32(b[mRsp:]))}
	d := b[mData:]
	switch id {
	case MgmtInit:
		rec.Body = InitMsg{
			MgmtMsgCount: le.Uint32(d[0:]),
			MsgCount:     le.Uint32(d[4:]),
			Status:       Offset(le.Uint32(d[8:])),
			PCIMin:       JoinPhysical(le.Uint32(d[12:]), le.Uint32(d[16:])),
			PCIMax:       JoinPhysical(le.Uint32(d[20:]), le.Uint32(d[24:])),
		}
	case MgmtConnect:
		rec.Body = ConnectMsg{
			Port:    le.Uint32(d[0:]),
			MaxSize: le.Uint32(d[4:]),
			Reply:   le.Uint32(d[8:])&connectReply != 0,
			Seq:     le.Uint32(d[12:]),
		}
	case MgmtDestroy:
		rec.Body = DestroyMsg{Port: le.Uint32(d[0:])}
	case MgmtDMADone, MgmtHostRecvBuf, MgmtHostSendBuf:
		rec.Body = BufferMsg{
			Kind: id,
			Port: int32(le.Uint32(d[0:])),
			Addr: JoinPhysical(le.Uint32(d[4:]), le.Uint32(d[8:])),
			Size: le.Uint32(d[12:]),
		}
	default:
		return MgmtRecord{}, fmt.Errorf("%w: management id %d", ErrBadRecord, uint32(id))
	}
	return rec, nil
}

// encodeMsg fills a regular message record.
func encodeMsg(b []byte, data []byte) error {
	if len(data) > MaxMessageLen {
		return fmt.Errorf("%w: %d byte message", ErrInvalidParameter, len(data))
	}
	binary.LittleEndian.PutUint32(b[msgSizeField:], uint32(len(data)))
	n := copy(b[msgData:msgData+MaxMessageLen], data)
	clear(b[msgData+n : msgData+MaxMessageLen])
	return nil
}

// decodeMsg copies the payload out of a regular message record.
func decodeMsg(b []byte) ([]byte, error) {
	n := binary.LittleEndian.Uint32(b[msgSizeField:])
	if n > MaxMessageLen {
		return nil, fmt.Errorf("%w: message size %d", ErrBadRecord, n)
	}
	out := make([]byte, n)
	copy(out, b[msgData:msgData+int(n)])
	return out, nil
}
