//go:build unix

package sct

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CreateRegion creates (or truncates) a file of the given size and maps it
// shared. The board side calls this.
func CreateRegion(path string, size int) (*Region, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create region %s: %w", path, err)
	}
	defer f.Close()
	size = alignUp(size, os.Getpagesize())
	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("resize region: %w", err)
	}
	return mapRegion(f, path, size)
}

// OpenRegion maps an existing region file. The host side calls this.
func OpenRegion(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open region %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat region: %w", err)
	}
	if info.Size() < int64(headerSize) {
		return nil, fmt.Errorf("%w: region file too small (%d bytes)", ErrInvalidParameter, info.Size())
	}
	return mapRegion(f, path, int(info.Size()))
}

func mapRegion(f *os.File, path string, size int) (*Region, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap region: %w", err)
	}
	logInfo(ComponentRegion, "mapped region", "path", path, "size", size)
	return &Region{
		mem:   mem,
		path:  path,
		unmap: func() error { return unix.Munmap(mem) },
	}, nil
}
