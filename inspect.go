package sct

import "fmt"

// RegionInfo is a point-in-time view of a region, read without taking
// the shared lock. Depths may be torn while either party is active.
type RegionInfo struct {
	Path    string      `json:"path" yaml:"path"`
	Magic   uint32      `json:"magic" yaml:"magic"`
	Version uint32      `json:"version" yaml:"version"`
	Ready   bool        `json:"ready" yaml:"ready"`
	Session string      `json:"session" yaml:"session"`
	Size    uint32      `json:"size" yaml:"size"`
	Locks   [2]LockInfo `json:"locks" yaml:"locks"`
	Status  [2][]uint32 `json:"status" yaml:"status"`
	Queues  []QueueInfo `json:"queues" yaml:"queues"`
}

// LockInfo holds the Peterson words of one direction.
type LockInfo struct {
	Direction string    `json:"direction" yaml:"direction"`
	Flags     [2]uint32 `json:"flags" yaml:"flags"`
	Turn      uint32    `json:"turn" yaml:"turn"`
}

// QueueInfo describes one linked descriptor.
type QueueInfo struct {
	ID        uint32 `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Direction string `json:"direction" yaml:"direction"`
	Depth     int    `json:"depth" yaml:"depth"`
	Flagged   bool   `json:"flagged" yaml:"flagged"`
}

// QueueName returns a readable name for a queue id.
func QueueName(id uint32) string {
	switch {
	case id == MgmtQueueID(BoardToHost) || id == MgmtQueueID(HostToBoard):
		return "mgmt"
	case id == ReturnQueueID(BoardToHost) || id == ReturnQueueID(HostToBoard):
		return "return"
	case id >= 0x20000 && id < 0x20000+2*ClassCount:
		return fmt.Sprintf("class %d", (id-0x20000)>>1)
	}
	return fmt.Sprintf("%#x", id)
}

// Inspect snapshots r.
func Inspect(r *Region) (*RegionInfo, error) {
	if r.Size() < headerSize {
		return nil, fmt.Errorf("%w: region of %d bytes", ErrParams, r.Size())
	}
	info := &RegionInfo{
		Path:    r.Path(),
		Magic:   r.Load32(hdrMagic),
		Version: r.Load32(hdrVersion),
		Ready:   r.Load32(hdrInitDone) == 1,
		Size:    r.Load32(hdrLayoutSize),
	}
	info.Session = regionSession(r).String()
	for d := BoardToHost; d <= HostToBoard; d++ {
		base := semOffset(d)
		info.Locks[d] = LockInfo{
			Direction: d.String(),
			Flags:     [2]uint32{r.Load32(base), r.Load32(base + 4)},
			Turn:      r.Load32(base + 8),
		}
		words := make([]uint32, QueueStatusCount)
		for i := range words {
			words[i] = r.Load32(statusWord(d, i))
		}
		info.Status[d] = words
	}
	if info.Magic != regionMagic || r.Size() < RegionSize() {
		return info, nil
	}

	off := Offset(r.Load32(hdrQueueHead))
	for n := 0; off != 0 && n < descCount; n++ {
		meta := r.Load32(off + dMeta)
		d := Direction(meta >> 16 & 0xff)
		q := QueueInfo{
			ID:        r.Load32(off + dID),
			Direction: d.String(),
			Depth:     queueDepth(r, off, meta),
		}
		q.Name = QueueName(q.ID)
		if w := Offset(r.Load32(off + dStatus)); w != 0 {
			q.Flagged = r.Load32(w)&(1<<(meta&0xff)) != 0
		}
		info.Queues = append(info.Queues, q)
		off = Offset(r.Load32(off + dNext))
	}
	return info, nil
}

func queueDepth(r *Region, off Offset, meta uint32) int {
	first, last := r.Load32(off+dFirst), r.Load32(off+dLast)
	if uint8(meta>>8)&queueRing != 0 {
		return int((last + MgmtQueueSize - first) % MgmtQueueSize)
	}
	n := 0
	for node := Offset(first); node != 0 && n < MgmtQueueSize; node = Offset(r.Load32(node)) {
		if int(node)+4 > r.Size() || node&3 != 0 {
			break
		}
		n++
	}
	return n
}
