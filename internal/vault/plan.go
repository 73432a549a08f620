package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/thruflo/vaultloop/internal/logging"
)

// PlanLog keeps a human-readable execution log per task under Plans/.
type PlanLog struct {
	dir string
	now func() time.Time
}

// NewPlanLog creates a PlanLog writing into dir.
func NewPlanLog(dir string, now func() time.Time) *PlanLog {
	if now == nil {
		now = time.Now
	}
	return &PlanLog{dir: dir, now: now}
}

// Path returns the plan file for taskID.
func (p *PlanLog) Path(taskID string) string {
	return filepath.Join(p.dir, SafeName(taskID)+"_Plan.md")
}

func (p *PlanLog) stamp() string {
	return p.now().UTC().Format(logging.TimestampLayout)
}

// Init creates the plan file for doc unless it already exists.
func (p *PlanLog) Init(doc *Document, steps []Step) error {
	path := p.Path(doc.Name())
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create plans directory: %w", err)
	}

	meta := doc.Meta()
	orDefault := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	now := p.stamp()

	lines := []string{
		"---",
		"type: ralph_plan",
		"task_source: " + scalar(doc.Name()),
		"status: in_progress",
		"created_at: " + now,
		"---",
		"",
		"# Autonomous Execution Plan: " + doc.Name(),
		"",
		"> Started: " + now,
		"",
		"## Task Summary",
		"",
		fmt.Sprintf("- **File:** `%s`", doc.Name()),
		"- **Type:** " + orDefault(meta.Get("type"), "unknown"),
		"- **Priority:** " + orDefault(meta.Get("priority"), "medium"),
		"- **Created:** " + orDefault(meta.Get("created_at"), "unknown"),
		fmt.Sprintf("- **Steps total:** %d", len(steps)),
		"",
		"## Execution Log",
		"",
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

// Append adds a timestamped entry to the execution log.
func (p *PlanLog) Append(taskID, entry string) error {
	return p.appendText(taskID, fmt.Sprintf("- `%s` %s\n", p.stamp(), entry))
}

// Close records the final outcome.
func (p *PlanLog) Close(taskID, outcome string) error {
	return p.appendText(taskID, fmt.Sprintf("\n## Outcome\n\n**%s** at %s\n", outcome, p.stamp()))
}

func (p *PlanLog) appendText(taskID, text string) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create plans directory: %w", err)
	}
	f, err := os.OpenFile(p.Path(taskID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open plan: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("failed to append plan: %w", err)
	}
	return nil
}
