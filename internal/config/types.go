package config

import (
	"path/filepath"
	"time"
)

// Limits bounds the work done in a single scheduler cycle.
type Limits struct {
	MaxIterations int `yaml:"max_iterations"` // steps executed per task per cycle
	MaxTasks      int `yaml:"max_tasks"`      // tasks visited per cycle
}

// Recovery configures stuck detection and the quarantine/retry policy.
type Recovery struct {
	StuckThreshold time.Duration `yaml:"stuck_threshold"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxRetries     int           `yaml:"max_retries"`
}

// Approval configures the human approval gate.
type Approval struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Scheduler configures continuous mode and housekeeping.
type Scheduler struct {
	Interval    time.Duration `yaml:"interval"`
	MaxLogBytes int64         `yaml:"max_log_bytes"`
}

// Config represents the .vaultloop/config.yaml file.
type Config struct {
	Limits    Limits    `yaml:"limits"`
	Recovery  Recovery  `yaml:"recovery"`
	Approval  Approval  `yaml:"approval"`
	Scheduler Scheduler `yaml:"scheduler"`
}

// Layout resolves the well-known directories and files of a vault.
type Layout struct {
	Root          string
	Inbox         string
	NeedsAction   string
	NeedsApproval string
	Done          string
	Errors        string
	Plans         string
	Logs          string
}

// NewLayout returns the layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{
		Root:          root,
		Inbox:         filepath.Join(root, "Inbox"),
		NeedsAction:   filepath.Join(root, "Needs_Action"),
		NeedsApproval: filepath.Join(root, "Needs_Approval"),
		Done:          filepath.Join(root, "Done"),
		Errors:        filepath.Join(root, "Errors"),
		Plans:         filepath.Join(root, "Plans"),
		Logs:          filepath.Join(root, "Logs"),
	}
}

// Dirs returns every directory the engine reads or writes.
func (l Layout) Dirs() []string {
	return []string{l.Inbox, l.NeedsAction, l.NeedsApproval, l.Done, l.Errors, l.Plans, l.Logs}
}

// Dashboard is the vault overview document.
func (l Layout) Dashboard() string { return filepath.Join(l.Root, "Dashboard.md") }

// SystemLog is the human-readable activity table.
func (l Layout) SystemLog() string { return filepath.Join(l.Logs, "System_Log.md") }

// ActionsLog is the append-only activity log.
func (l Layout) ActionsLog() string { return filepath.Join(l.Logs, "actions.log") }

// ErrorsLog is the append-only recovery log.
func (l Layout) ErrorsLog() string { return filepath.Join(l.Logs, "errors.log") }

// TaskState is the step executor's durable progress store.
func (l Layout) TaskState() string { return filepath.Join(l.Logs, ".ralph_state.json") }

// RecoveryState is the quarantine/exhaustion ledger.
func (l Layout) RecoveryState() string { return filepath.Join(l.Logs, ".error_recovery_state.json") }

// IntakeState tracks inbox files that already produced a task.
func (l Layout) IntakeState() string { return filepath.Join(l.Logs, ".watcher_state.json") }

// LockFile is the scheduler singleton lock.
func (l Layout) LockFile() string { return filepath.Join(l.Logs, ".scheduler.lock") }

// ConfigDir holds config.yaml and .env.
func (l Layout) ConfigDir() string { return filepath.Join(l.Root, ".vaultloop") }
