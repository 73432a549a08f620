package state

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// TaskStatus values.
const (
	StatusNew              TaskStatus = "new"
	StatusInProgress       TaskStatus = "in_progress"
	StatusAwaitingApproval TaskStatus = "awaiting_approval"
	StatusCompleted        TaskStatus = "completed"
	StatusErrorQuarantined TaskStatus = "error_quarantined"
	StatusErrorExhausted   TaskStatus = "error_exhausted"
)

// Terminal reports whether the executor must never pick the task up again.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusErrorExhausted
}

// TaskRecord is the durable execution progress of one task, keyed by the
// task's file name.
type TaskRecord struct {
	Status       TaskStatus `json:"status"`
	CurrentStep  int        `json:"current_step"`
	TotalSteps   int        `json:"total_steps"`
	Iterations   int        `json:"iterations"`
	StartedAt    time.Time  `json:"started_at"`
	LastRunAt    time.Time  `json:"last_run_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ApprovalRef  string     `json:"approval_ref,omitempty"`
	AwaitingStep int        `json:"awaiting_step,omitempty"`
	DonePath     string     `json:"done_path,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Validate checks the record's internal invariants.
func (r *TaskRecord) Validate() error {
	if r.Status == StatusAwaitingApproval && r.ApprovalRef == "" {
		return fmt.Errorf("record is awaiting approval without an approval ref")
	}
	if r.CurrentStep < 0 {
		return fmt.Errorf("negative step pointer %d", r.CurrentStep)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *TaskRecord) Clone() *TaskRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
