//go:build !linux

package sct

import (
	"sync/atomic"
	"time"
)

func doorbellWait(addr *uint32, val uint32, timeout time.Duration) error {
	if atomic.LoadUint32(addr) == val {
		time.Sleep(min(timeout, time.Millisecond))
	}
	return nil
}

func doorbellWake(*uint32) {}
