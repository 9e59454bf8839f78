//go:build !unix

package sct

import "fmt"

// CreateRegion is only supported on unix platforms.
func CreateRegion(path string, size int) (*Region, error) {
	return nil, fmt.Errorf("%w: file-backed regions need mmap", ErrInvalidParameter)
}

// OpenRegion is only supported on unix platforms.
func OpenRegion(path string) (*Region, error) {
	return nil, fmt.Errorf("%w: file-backed regions need mmap", ErrInvalidParameter)
}
