package audit

import (
	"context"
	"sync/atomic"
)

// AtomicLogger delegates to an inner Logger held behind an atomic
// pointer, so a configuration reload can swap the destination without
// re-wiring the handlers that captured the logger at startup.
type AtomicLogger struct {
	current atomic.Pointer[Logger]
}

var _ Logger = (*AtomicLogger)(nil)

var nopSingleton Logger = &nopLogger{}

// NewAtomicLogger wraps inner. A nil inner starts as a no-op logger.
func NewAtomicLogger(inner Logger) *AtomicLogger {
	if inner == nil {
		inner = NewNopLogger()
	}
	a := &AtomicLogger{}
	a.current.Store(&inner)
	return a
}

// Swap replaces the inner logger and returns the previous one. The
// caller closes the previous logger.
func (a *AtomicLogger) Swap(next Logger) Logger {
	if next == nil {
		next = NewNopLogger()
	}
	old := a.current.Swap(&next)
	if old != nil {
		return *old
	}
	return nil
}

// Load returns the current inner logger.
func (a *AtomicLogger) Load() Logger {
	if ptr := a.current.Load(); ptr != nil {
		return *ptr
	}
	return nopSingleton
}

// Record delegates to the current inner logger.
func (a *AtomicLogger) Record(ctx context.Context, event *Event) {
	a.Load().Record(ctx, event)
}

// Close closes the current inner logger.
func (a *AtomicLogger) Close() error {
	return a.Load().Close()
}
