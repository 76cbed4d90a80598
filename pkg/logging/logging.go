// Package logging provides the package-level structured logger shared by the
// rest of tickrelay. It mirrors the global-logger pattern used throughout the
// aRPC transport and reliability handlers.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger = newDefault()
)

func newDefault() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op logger rather than panic at import time.
		return zap.NewNop()
	}
	return l
}

// SetLogger replaces the package logger, e.g. with a development logger in tests.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, fields ...zap.Field) { current().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { current().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { current().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { current().Error(msg, fields...) }

// Sync flushes any buffered log entries. Call on process shutdown.
func Sync() error {
	return current().Sync()
}
