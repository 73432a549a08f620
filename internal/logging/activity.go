package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TimestampLayout is the timestamp format used in activity logs and
// document annotations.
const TimestampLayout = "2006-01-02 15:04:05 UTC"

// ActivityLog is an append-only, one-line-per-event log kept inside the
// vault. Every state mutation the engine performs is recorded here.
//
// Lines look like:
//
//	[2026-10-19 10:00:00 UTC] [ralph-loop  ] STEP_DONE | step=2 task=task_a.md
type ActivityLog struct {
	mu        sync.Mutex
	path      string
	component string
	now       func() time.Time
}

// NewActivityLog returns an ActivityLog appending to path.
func NewActivityLog(path, component string) *ActivityLog {
	return &ActivityLog{
		path:      path,
		component: component,
		now:       time.Now,
	}
}

// WithClock returns a copy that stamps lines using now.
func (a *ActivityLog) WithClock(now func() time.Time) *ActivityLog {
	return &ActivityLog{path: a.path, component: a.component, now: now}
}

// Path returns the file the log appends to.
func (a *ActivityLog) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

// Record appends one event line. A nil ActivityLog discards events.
func (a *ActivityLog) Record(event string, keyVals ...interface{}) error {
	if a == nil {
		return nil
	}

	line := FormatActivity(a.now(), a.component, event, keyVals...)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open activity log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to append activity log: %w", err)
	}
	return nil
}

// FormatActivity renders a single activity line without a trailing newline.
func FormatActivity(at time.Time, component, event string, keyVals ...interface{}) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] ", at.UTC().Format(TimestampLayout))
	writeComponent(&sb, component)
	sb.WriteString(event)
	writeFields(&sb, nil, keyVals)
	return sb.String()
}
