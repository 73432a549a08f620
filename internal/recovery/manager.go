// Package recovery detects work items stuck in the queue and drives them
// through quarantine, delayed retry and, past the retry ceiling, exhaustion.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/thruflo/vaultloop/internal/config"
	"github.com/thruflo/vaultloop/internal/logging"
	"github.com/thruflo/vaultloop/internal/state"
	"github.com/thruflo/vaultloop/internal/vault"
)

// ErrNotFound is returned by ReportFailure when the item is not in the queue.
var ErrNotFound = errors.New("work item not found")

// Options holds the dependencies of a Manager.
type Options struct {
	Layout   config.Layout
	Policy   config.Recovery // Zero value: config.DefaultRecovery()
	Marker   state.Marker    // Optional: defaults to state.RenameMarker
	Now      func() time.Time
	Observer Observer                 // Optional
	Skip     func(taskID string) bool // Optional: excludes items from stuck detection
	Activity *logging.ActivityLog     // Logs/actions.log
	Errors   *logging.ActivityLog     // Logs/errors.log
	Logger   *logging.Logger
}

// Manager owns the recovery ledger in Logs/.error_recovery_state.json.
type Manager struct {
	layout   config.Layout
	policy   config.Recovery
	marker   state.Marker
	now      func() time.Time
	observer Observer
	skip     func(string) bool
	activity *logging.ActivityLog
	errlog   *logging.ActivityLog
	logger   *logging.Logger
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		layout:   opts.Layout,
		policy:   opts.Policy,
		marker:   opts.Marker,
		now:      opts.Now,
		observer: opts.Observer,
		skip:     opts.Skip,
		activity: opts.Activity,
		errlog:   opts.Errors,
		logger:   opts.Logger,
	}
	if m.policy == (config.Recovery{}) {
		m.policy = config.DefaultRecovery()
	}
	if m.marker == nil {
		m.marker = state.RenameMarker{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = logging.For(logging.ComponentRecovery)
	}
	return m
}

// SetObserver replaces the transition observer.
func (m *Manager) SetObserver(o Observer) { m.observer = o }

// SetSkip replaces the stuck-detection exclusion predicate.
func (m *Manager) SetSkip(skip func(string) bool) { m.skip = skip }

// Policy returns the effective policy.
func (m *Manager) Policy() config.Recovery { return m.policy }

// Load returns the recovery ledger. A corrupt ledger reads as empty.
func (m *Manager) Load() *Snapshot {
	snap := newSnapshot()
	data, err := os.ReadFile(m.layout.RecoveryState())
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("recovery state unreadable, starting empty", "error", err)
		}
		return snap
	}
	if err := json.Unmarshal(data, snap); err != nil {
		m.logger.Warn("recovery state corrupt, starting empty", "error", err)
		return newSnapshot()
	}
	if snap.Quarantined == nil {
		snap.Quarantined = make(map[string]*QuarantineRecord)
	}
	if snap.Exhausted == nil {
		snap.Exhausted = make(map[string]*ExhaustedRecord)
	}
	return snap
}

func (m *Manager) save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal recovery state: %w", err)
	}
	if err := state.WriteFileAtomic(m.layout.RecoveryState(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write recovery state: %w", err)
	}
	return nil
}

// Run performs stuck detection followed by the retry sweep.
func (m *Manager) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	n, err := m.Detect(ctx)
	summary.Quarantined = n
	if err != nil {
		return summary, err
	}

	swept, err := m.RetrySweep(ctx)
	summary.Retried = swept.Retried
	summary.Exhausted = swept.Exhausted
	summary.Dropped = swept.Dropped
	if err != nil {
		return summary, err
	}

	snap := m.Load()
	summary.InQuarantine = len(snap.Quarantined)
	summary.ExhaustedAll = len(snap.Exhausted)
	return summary, nil
}

// Detect quarantines every queue item whose modification time is older than
// the stuck threshold. Items already quarantined and items excluded by the
// skip predicate are left alone. It returns the number quarantined.
func (m *Manager) Detect(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.layout.NeedsAction)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan queue: %w", err)
	}

	snap := m.Load()
	now := m.now()
	count := 0

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		if _, tracked := snap.Quarantined[name]; tracked {
			continue
		}
		if m.skip != nil && m.skip(name) {
			continue
		}

		path := filepath.Join(m.layout.NeedsAction, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		if age <= m.policy.StuckThreshold {
			continue
		}

		attempt := m.annotatedAttempt(path)
		reason := fmt.Sprintf("stuck (%d min in Needs_Action)", int(age.Minutes()))
		ok, err := m.Quarantine(name, path, reason, attempt)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// annotatedAttempt returns the attempt number carried by the item, which
// Retry stamps as the number of the next quarantine, or 1.
func (m *Manager) annotatedAttempt(path string) int {
	doc, err := vault.Load(path)
	if err != nil {
		return 1
	}
	if n := doc.Meta().Int("error_attempt", 1); n > 0 {
		return n
	}
	return 1
}

// Quarantine moves the item at src into Errors/ and records it. It reports
// false when the item could not be moved because it no longer exists. An
// attempt at or past the retry ceiling is exhausted immediately.
func (m *Manager) Quarantine(taskID, src, reason string, attempt int) (bool, error) {
	now := m.now().UTC()
	retryAt := now.Add(m.policy.RetryDelay)

	dest := state.UniquePath(m.layout.Errors, taskID, now)
	moved, err := m.marker.Mark(src, dest)
	if err != nil {
		m.logErr("ERROR", "file", taskID, "op", "quarantine", "error", err)
		return false, nil
	}
	if !moved {
		m.logErr("WARN", "file", taskID, "msg", "quarantine skipped, item not found")
		return false, nil
	}

	m.annotate(dest,
		vault.Field{Key: "status", Value: "error"},
		vault.Field{Key: "error_reason", Value: reason},
		vault.Field{Key: "error_quarantined_at", Value: now.Format(logging.TimestampLayout)},
		vault.Field{Key: "error_attempt", Value: fmt.Sprint(attempt)},
		vault.Field{Key: "error_retry_at", Value: retryAt.Format(logging.TimestampLayout)},
	)

	rec := &QuarantineRecord{
		TaskID:        taskID,
		ErrorsFile:    filepath.Base(dest),
		Reason:        reason,
		Attempt:       attempt,
		QuarantinedAt: now,
		RetryAt:       retryAt,
	}
	snap := m.Load()
	snap.Quarantined[taskID] = rec
	if err := m.save(snap); err != nil {
		return true, err
	}

	m.logErr("QUARANTINE", "file", taskID, "reason", reason,
		"attempt", fmt.Sprintf("%d/%d", attempt, m.policy.MaxRetries),
		"retry_at", retryAt.Format(logging.TimestampLayout))
	m.record("QUARANTINE", "file", taskID, "attempt", attempt, "reason", reason)

	if m.observer != nil {
		if err := m.observer.TaskQuarantined(taskID); err != nil {
			return true, err
		}
	}

	if attempt >= m.policy.MaxRetries {
		return true, m.Exhaust(taskID)
	}
	return true, nil
}

// RetrySweep processes every quarantine record whose retry time has come:
// records at the ceiling are exhausted, the rest go back to the queue.
func (m *Manager) RetrySweep(ctx context.Context) (Summary, error) {
	var summary Summary
	snap := m.Load()
	now := m.now()

	ids := make([]string, 0, len(snap.Quarantined))
	for id := range snap.Quarantined {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		rec := snap.Quarantined[id]
		if now.Before(rec.RetryAt) {
			continue
		}
		if rec.Attempt >= m.policy.MaxRetries {
			if err := m.Exhaust(id); err != nil {
				return summary, err
			}
			summary.Exhausted++
			continue
		}
		ok, err := m.Retry(id)
		if err != nil {
			return summary, err
		}
		if ok {
			summary.Retried++
		} else {
			summary.Dropped++
		}
	}
	return summary, nil
}

// Retry moves a quarantined item back into the queue, stamps the number of
// its next attempt and drops its quarantine record. A record whose file has
// vanished is dropped and Retry reports false.
func (m *Manager) Retry(taskID string) (bool, error) {
	snap := m.Load()
	rec, ok := snap.Quarantined[taskID]
	if !ok {
		return false, nil
	}

	now := m.now().UTC()
	src := filepath.Join(m.layout.Errors, rec.ErrorsFile)
	dest := state.UniquePath(m.layout.NeedsAction, taskID, now)

	moved, err := m.marker.Mark(src, dest)
	if err != nil {
		m.logErr("ERROR", "file", taskID, "op", "retry", "error", err)
		return false, nil
	}
	delete(snap.Quarantined, taskID)
	if err := m.save(snap); err != nil {
		return false, err
	}
	if !moved {
		m.logErr("WARN", "file", rec.ErrorsFile, "msg", "retry skipped, file not found in Errors; entry dropped")
		return false, nil
	}

	next := rec.Attempt + 1
	m.annotate(dest,
		vault.Field{Key: "status", Value: "pending"},
		vault.Field{Key: "error_attempt", Value: fmt.Sprint(next)},
		vault.Field{Key: "error_last_retry", Value: now.Format(logging.TimestampLayout)},
	)

	m.logErr("RETRY", "file", taskID, "attempt", fmt.Sprintf("%d/%d", next, m.policy.MaxRetries),
		"moved_to", "Needs_Action/"+filepath.Base(dest))
	m.record("RETRY", "file", taskID, "attempt", next)

	if m.observer != nil {
		if err := m.observer.TaskRetried(taskID); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Exhaust marks a quarantined item as permanently failed. The file stays in
// Errors/.
func (m *Manager) Exhaust(taskID string) error {
	snap := m.Load()
	rec, ok := snap.Quarantined[taskID]
	if !ok {
		return nil
	}
	now := m.now().UTC()

	path := filepath.Join(m.layout.Errors, rec.ErrorsFile)
	if _, err := os.Stat(path); err == nil {
		m.annotate(path,
			vault.Field{Key: "status", Value: "error_exhausted"},
			vault.Field{Key: "error_exhausted_at", Value: now.Format(logging.TimestampLayout)},
			vault.Field{Key: "error_note", Value: "max retries reached, manual review required"},
		)
	} else {
		m.logErr("WARN", "file", rec.ErrorsFile, "msg", "exhausted item missing from Errors")
	}

	delete(snap.Quarantined, taskID)
	snap.Exhausted[taskID] = &ExhaustedRecord{
		TaskID:      taskID,
		ErrorsFile:  rec.ErrorsFile,
		Attempts:    rec.Attempt,
		Reason:      rec.Reason,
		ExhaustedAt: now,
	}
	if err := m.save(snap); err != nil {
		return err
	}

	m.logErr("EXHAUSTED", "file", taskID, "attempts", fmt.Sprintf("%d/%d", rec.Attempt, m.policy.MaxRetries),
		"msg", "manual review required")
	m.record("EXHAUSTED", "file", taskID)

	if m.observer != nil {
		return m.observer.TaskExhausted(taskID)
	}
	return nil
}

// ReportFailure quarantines a queue item on request, bypassing stuck
// detection. The attempt continues from a prior quarantine record, then from
// the item's own annotation, then starts at 1.
func (m *Manager) ReportFailure(taskID, reason string) (int, error) {
	src := filepath.Join(m.layout.NeedsAction, taskID)
	if _, err := os.Stat(src); err != nil {
		m.logErr("WARN", "file", taskID, "reason", reason, "msg", "file not found, logging only")
		return 0, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}

	attempt := m.annotatedAttempt(src)
	if prev, ok := m.Load().Quarantined[taskID]; ok {
		attempt = prev.Attempt + 1
	}

	ok, err := m.Quarantine(taskID, src, reason, attempt)
	if err != nil {
		return attempt, err
	}
	if !ok {
		return attempt, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return attempt, nil
}

func (m *Manager) annotate(path string, fields ...vault.Field) {
	doc, err := vault.Load(path)
	if err != nil {
		m.logger.Warn("failed to read item for annotation", "path", path, "error", err)
		return
	}
	doc.SetFields(fields...)
	if err := doc.Save(); err != nil {
		m.logger.Warn("failed to annotate item", "path", path, "error", err)
	}
}

func (m *Manager) logErr(kind string, keyVals ...interface{}) {
	if err := m.errlog.Record(kind, keyVals...); err != nil {
		m.logger.Warn("failed to write errors log", "error", err)
	}
}

func (m *Manager) record(event string, keyVals ...interface{}) {
	if err := m.activity.Record(event, keyVals...); err != nil {
		m.logger.Warn("failed to write activity log", "error", err)
	}
}
