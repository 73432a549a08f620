package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/thruflo/vaultloop/internal/config"
	"github.com/thruflo/vaultloop/internal/logging"
	"github.com/thruflo/vaultloop/internal/state"
)

// Intake turns new files dropped into Inbox/ into task documents in
// Needs_Action/. Files already seen are tracked in Logs/.watcher_state.json
// so each produces exactly one task.
type Intake struct {
	layout   config.Layout
	activity *logging.ActivityLog
	logger   *logging.Logger
	now      func() time.Time
}

// NewIntake creates an Intake for the vault layout.
func NewIntake(layout config.Layout, activity *logging.ActivityLog, now func() time.Time) *Intake {
	if now == nil {
		now = time.Now
	}
	return &Intake{
		layout:   layout,
		activity: activity,
		logger:   logging.For(logging.ComponentIntake),
		now:      now,
	}
}

// SetLogger replaces the diagnostics logger.
func (i *Intake) SetLogger(l *logging.Logger) { i.logger = l }

func (i *Intake) record(event string, keyVals ...interface{}) {
	if err := i.activity.Record(event, keyVals...); err != nil {
		i.logger.Warn("failed to write activity log", "event", event, "error", err)
	}
}

// TaskName returns the task document name created for an inbox file.
func TaskName(inboxFile string) string {
	return "task_" + SafeName(inboxFile) + ".md"
}

// Scan creates a task for every unseen inbox file and returns the names of
// the created task documents.
func (i *Intake) Scan(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(i.layout.Inbox)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	seen := i.loadSeen()
	var fresh []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			if _, ok := seen[e.Name()]; !ok {
				fresh = append(fresh, e.Name())
			}
		}
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	sort.Strings(fresh)

	if err := os.MkdirAll(i.layout.NeedsAction, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	var created []string
	for _, name := range fresh {
		if ctx.Err() != nil {
			break
		}
		now := i.now().UTC()
		taskName := TaskName(name)
		path := filepath.Join(i.layout.NeedsAction, taskName)

		if _, err := os.Stat(path); err == nil {
			seen[name] = now.Format(logging.TimestampLayout)
			continue
		}
		if err := state.WriteFileAtomic(path, []byte(NewTaskDocument(name, now)), 0o644); err != nil {
			i.logger.Warn("failed to create task", "inbox_file", name, "error", err)
			continue
		}
		seen[name] = now.Format(logging.TimestampLayout)
		created = append(created, taskName)
		i.record("TASK_CREATED", "task", taskName, "inbox_file", name)
	}

	if err := i.saveSeen(seen); err != nil {
		return created, err
	}
	return created, nil
}

func (i *Intake) loadSeen() map[string]string {
	seen := make(map[string]string)
	data, err := os.ReadFile(i.layout.IntakeState())
	if err != nil {
		return seen
	}
	if err := json.Unmarshal(data, &seen); err != nil {
		i.logger.Warn("intake state corrupt, starting empty", "error", err)
		return make(map[string]string)
	}
	return seen
}

func (i *Intake) saveSeen(seen map[string]string) error {
	data, err := json.MarshalIndent(seen, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal intake state: %w", err)
	}
	if err := state.WriteFileAtomic(i.layout.IntakeState(), data, 0o644); err != nil {
		return fmt.Errorf("failed to save intake state: %w", err)
	}
	return nil
}

// NewTaskDocument renders the task created for an inbox file.
func NewTaskDocument(inboxFile string, now time.Time) string {
	ts := now.UTC().Format(logging.TimestampLayout)
	return fmt.Sprintf(`---
type: file_review
status: pending
priority: medium
created_at: %s
related_files: [%s]
---

# Review Inbox File: %s

## Description
A new file `+"`%s`"+` was detected in the Inbox folder and needs review.

## Steps
- [ ] Open and review the contents of `+"`%s`"+`
- [ ] Decide what action is needed
- [ ] Complete processing and move to Done

## Notes
- Source: Inbox
`, ts, scalar(inboxFile), inboxFile, inboxFile, inboxFile)
}
