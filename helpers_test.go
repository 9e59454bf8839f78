package sct

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.DeadAfterTimeouts = 0
	cfg.PCIMin = 0x1000_0000
	cfg.PCIMax = 0x1FFF_FFFF
	return cfg
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newPair returns an initialized board and host sharing a heap region.
func newPair(t *testing.T, cfg *Config) (*Board, *Host) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	r := NewHeapRegion(RegionSize())
	intr := NewChanInterrupt()
	b, err := NewBoard(r, intr, cfg)
	require.NoError(t, err)
	h, err := NewHost(r, intr, cfg)
	require.NoError(t, err)
	require.NoError(t, h.Init(testCtx(t)))
	return b, h
}

type connector interface {
	Connect(ctx context.Context, port, maxSize uint32) (*Channel, error)
}

type acceptor interface {
	Accept(ctx context.Context, port uint32) (*Channel, error)
}

// connectPair connects from c and accepts on a, returning the send and
// receive ends.
func connectPair(t *testing.T, c connector, a acceptor, port, maxSize uint32) (*Channel, *Channel) {
	t.Helper()
	ctx := testCtx(t)
	type result struct {
		ch  *Channel
		err error
	}
	done := make(chan result, 1)
	go func() {
		ch, err := c.Connect(ctx, port, maxSize)
		done <- result{ch, err}
	}()
	recv, err := a.Accept(ctx, port)
	require.NoError(t, err)
	res := <-done
	require.NoError(t, res.err)
	return res.ch, recv
}

func hostBuf(i int, size uint32) HostBuffer {
	return HostBuffer{Addr: PhysicalAddress(0x1000_0000 + i*0x10000), Size: size}
}
