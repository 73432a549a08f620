package scheduler

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/thruflo/vaultloop/internal/approval"
	"github.com/thruflo/vaultloop/internal/loop"
	"github.com/thruflo/vaultloop/internal/recovery"
	"github.com/thruflo/vaultloop/internal/state"
	"github.com/thruflo/vaultloop/internal/vault"
)

// TaskStatus pairs a task id with its record.
type TaskStatus struct {
	ID       string
	Record   *state.TaskRecord
	Progress *Progress // nil unless the document is in Needs_Action
}

// Progress is read from the queued document's checklist.
type Progress struct {
	Resolved   int
	Total      int
	VisitsLeft int // At Limits.MaxIterations steps per visit
}

// QuarantineStatus is a quarantined item with its retry ETA.
type QuarantineStatus struct {
	*recovery.QuarantineRecord
	RetryIn time.Duration // Negative when overdue
}

// Overdue reports whether the retry is past due.
func (q QuarantineStatus) Overdue() bool { return q.RetryIn <= 0 }

// Report is a read-only snapshot of the vault for operators.
type Report struct {
	GeneratedAt time.Time
	Lock        *state.LockInfo // nil when no lock file exists
	LockAlive   bool
	Tasks       []TaskStatus
	Approvals   []*approval.Request
	Quarantined []QuarantineStatus
	Exhausted   []*recovery.ExhaustedRecord
	DirCounts   map[string]int // Non-hidden files per vault directory
}

// PendingApprovals returns the unresolved requests.
func (r *Report) PendingApprovals() []*approval.Request {
	var out []*approval.Request
	for _, req := range r.Approvals {
		if !req.Decision.Resolved() {
			out = append(out, req)
		}
	}
	return out
}

// Status builds a Report. It takes no lock and writes nothing.
func (s *Scheduler) Status() (*Report, error) {
	now := s.clock.Now()
	report := &Report{GeneratedAt: now.UTC(), DirCounts: make(map[string]int)}

	info, alive, err := s.lock.Status()
	if err != nil {
		s.logger.Warn("unreadable lock file", "error", err)
	}
	report.Lock, report.LockAlive = info, alive

	records, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	for id, rec := range records {
		report.Tasks = append(report.Tasks, TaskStatus{ID: id, Record: rec, Progress: s.progress(id)})
	}
	sort.Slice(report.Tasks, func(i, j int) bool { return report.Tasks[i].ID < report.Tasks[j].ID })

	if report.Approvals, err = s.gate.List(); err != nil {
		return nil, err
	}

	snap := s.recovery.Load()
	for _, q := range snap.Quarantined {
		report.Quarantined = append(report.Quarantined, QuarantineStatus{
			QuarantineRecord: q,
			RetryIn:          q.RetryAt.Sub(now),
		})
	}
	sort.Slice(report.Quarantined, func(i, j int) bool {
		return report.Quarantined[i].RetryAt.Before(report.Quarantined[j].RetryAt)
	})
	for _, e := range snap.Exhausted {
		report.Exhausted = append(report.Exhausted, e)
	}
	sort.Slice(report.Exhausted, func(i, j int) bool { return report.Exhausted[i].TaskID < report.Exhausted[j].TaskID })

	for _, dir := range s.layout.Dirs() {
		report.DirCounts[dir] = countFiles(dir)
	}
	return report, nil
}

func (s *Scheduler) progress(taskID string) *Progress {
	doc, err := vault.Load(filepath.Join(s.layout.NeedsAction, taskID))
	if err != nil {
		return nil
	}
	steps := doc.Steps()
	resolved, total := loop.CalculateProgress(steps)
	return &Progress{
		Resolved:   resolved,
		Total:      total,
		VisitsLeft: loop.VisitsRemaining(steps, s.cfg.Limits.MaxIterations),
	}
}

func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n
}
