package testutil

import (
	"context"
	"testing"
	"time"
)

// Default timeouts for engine operations.
const (
	// DefaultCycleTimeout bounds a full scheduler cycle over a test vault.
	DefaultCycleTimeout = 30 * time.Second

	// DefaultWatchTimeout bounds tests that run a polling loop until it is
	// cancelled.
	DefaultWatchTimeout = 10 * time.Second

	// DefaultTestBuffer is subtracted from the test deadline so cleanup can
	// run before the test binary times out.
	DefaultTestBuffer = 10 * time.Second
)

// ContextWithTestDeadline returns a context that ends DefaultTestBuffer
// before the test's deadline, or after fallback when the test has none or
// the buffered deadline has already passed.
func ContextWithTestDeadline(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	if deadline, ok := t.Deadline(); ok {
		if adjusted := deadline.Add(-DefaultTestBuffer); time.Until(adjusted) > 0 {
			return context.WithDeadline(context.Background(), adjusted)
		}
	}
	return context.WithTimeout(context.Background(), fallback)
}

// CycleContext bounds a test that runs scheduler cycles.
func CycleContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultCycleTimeout)
}

// WatchContext bounds a test that runs the approval watcher or continuous
// mode until cancelled.
func WatchContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultWatchTimeout)
}
