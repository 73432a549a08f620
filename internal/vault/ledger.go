package vault

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/thruflo/vaultloop/internal/config"
	"github.com/thruflo/vaultloop/internal/state"
)

// Completion describes a task that has just been finalized.
type Completion struct {
	TaskID      string
	TaskType    string
	DonePath    string
	Iterations  int
	CompletedAt time.Time
}

// Table headers the ledger inserts rows beneath.
const (
	DashboardHeader = "| Task | Completed On | Notes |"
	SystemLogHeader = "| Timestamp | Action | Details |"
)

// Ledger records completions in Dashboard.md and Logs/System_Log.md.
// Documents that do not exist, or lack the table header, are left alone.
type Ledger struct {
	layout config.Layout
}

// NewLedger creates a Ledger for the vault layout.
func NewLedger(layout config.Layout) *Ledger {
	return &Ledger{layout: layout}
}

// TaskCompleted inserts one row into each ledger document.
func (l *Ledger) TaskCompleted(_ context.Context, c Completion) error {
	ts := c.CompletedAt.UTC().Format("2006-01-02 15:04 UTC")
	taskType := c.TaskType
	if taskType == "" {
		taskType = "task"
	}

	dashRow := fmt.Sprintf("| %s | %s | %s, ralph-loop |", c.TaskID, ts, taskType)
	if err := insertRow(l.layout.Dashboard(), DashboardHeader, dashRow); err != nil {
		return err
	}

	logRow := fmt.Sprintf("| %s | Task completed (ralph-loop) | Processed %s for `%s`, moved to Done |", ts, taskType, c.TaskID)
	return insertRow(l.layout.SystemLog(), SystemLogHeader, logRow)
}

// insertRow places row directly under the header row and its separator.
func insertRow(path, header, row string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	for i, ln := range lines {
		if strings.TrimSpace(ln) != header {
			continue
		}
		at := i + 1
		if at < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[at]), "|-") {
			at++
		}
		out := make([]string, 0, len(lines)+1)
		out = append(out, lines[:at]...)
		out = append(out, row)
		out = append(out, lines[at:]...)
		return state.WriteFileAtomic(path, []byte(strings.Join(out, "\n")), 0o644)
	}
	return nil
}
