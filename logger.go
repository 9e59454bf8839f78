package sct

import (
	"log/slog"
	"os"
	"sync"
)

// Component tags a log record with the subsystem that emitted it.
type Component string

const (
	ComponentRegion  Component = "region"
	ComponentQueue   Component = "queue"
	ComponentISR     Component = "isr"
	ComponentMgmt    Component = "mgmt"
	ComponentChannel Component = "channel"
	ComponentBuffer  Component = "buffer"
	ComponentMessage Component = "message"
)

var (
	logLevel = new(slog.LevelVar)

	logMu         sync.RWMutex
	defaultLogger *slog.Logger
)

func init() {
	logLevel.Set(slog.LevelWarn)
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// SetLogger replaces the package logger.
func SetLogger(l *slog.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	defaultLogger = l
}

// SetLogLevel sets the minimum level of the default logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

func logger() *slog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return defaultLogger
}

func logInfo(c Component, msg string, args ...any) {
	logger().Info(msg, append([]any{"component", string(c)}, args...)...)
}

func logWarn(c Component, msg string, args ...any) {
	logger().Warn(msg, append([]any{"component", string(c)}, args...)...)
}

func logError(c Component, msg string, args ...any) {
	logger().Error(msg, append([]any{"component", string(c)}, args...)...)
}
