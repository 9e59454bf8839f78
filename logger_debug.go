//go:build sct_debug

package sct

// trace logs per-record activity. Only built with -tags sct_debug.
func trace(c Component, msg string, args ...any) {
	logger().Debug(msg, append([]any{"component", string(c)}, args...)...)
}
