//go:build !sct_debug

package sct

// trace is a no-op in release builds.
// The compiler will inline and remove calls to this function.
func trace(c Component, msg string, args ...any) {}
