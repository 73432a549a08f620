// Package scheduler runs full engine cycles under the single-instance lock:
// inbox intake, approval sweep, step execution over the queue, recovery and
// log housekeeping. It is also where the engine's components are wired
// together.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/thruflo/vaultloop/internal/approval"
	"github.com/thruflo/vaultloop/internal/config"
	"github.com/thruflo/vaultloop/internal/logging"
	"github.com/thruflo/vaultloop/internal/loop"
	"github.com/thruflo/vaultloop/internal/recovery"
	"github.com/thruflo/vaultloop/internal/state"
	"github.com/thruflo/vaultloop/internal/telemetry"
	"github.com/thruflo/vaultloop/internal/vault"
)

// Options holds the injectable parts of a Scheduler. Every field is
// optional.
type Options struct {
	Clock      Clock
	Alive      func(pid int) bool // Lock liveness check
	PID        int                // Lock owner pid
	Router     loop.ActionRouter
	Classifier loop.RiskClassifier
	Telemetry  *telemetry.Provider
	Logger     *logging.Logger
}

// Scheduler owns one vault's components.
type Scheduler struct {
	cfg      config.Config
	layout   config.Layout
	clock    Clock
	store    *state.Store
	gate     *approval.Gate
	executor *loop.Executor
	recovery *recovery.Manager
	intake   *vault.Intake
	lock     *state.Lock
	tracer   oteltrace.Tracer
	activity *logging.ActivityLog
	logger   *logging.Logger
}

// New wires every component for the vault at layout.
func New(cfg config.Config, layout config.Layout, opts Options) *Scheduler {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock()
	}
	now := clock.Now
	logger := opts.Logger
	if logger == nil {
		logger = logging.For(logging.ComponentScheduler)
	}
	activityLog := func(component string) *logging.ActivityLog {
		return logging.NewActivityLog(layout.ActionsLog(), component).WithClock(now)
	}

	store := state.NewStore(layout.TaskState())
	gate := approval.NewGate(approval.Options{
		Dir:      layout.NeedsApproval,
		Timeout:  cfg.Approval.Timeout,
		Now:      now,
		Activity: activityLog(logging.ComponentApproval),
	})
	loopActivity := activityLog(logging.ComponentLoop)
	router := opts.Router
	if router == nil {
		router = loop.NewCategoryRouter(loopActivity)
	}
	executor := loop.NewExecutorWithOptions(loop.Options{
		Layout:     layout,
		Limits:     cfg.Limits,
		Store:      store,
		Gate:       gate,
		Router:     router,
		Classifier: opts.Classifier,
		Activity:   loopActivity,
		Now:        now,
	})
	rec := recovery.NewManager(recovery.Options{
		Layout:   layout,
		Policy:   cfg.Recovery,
		Now:      now,
		Observer: executor.RecoveryObserver(),
		Skip:     executor.ExemptFromRecovery,
		Activity: activityLog(logging.ComponentRecovery),
		Errors:   logging.NewActivityLog(layout.ErrorsLog(), logging.ComponentRecovery).WithClock(now),
	})

	return &Scheduler{
		cfg:      cfg,
		layout:   layout,
		clock:    clock,
		store:    store,
		gate:     gate,
		executor: executor,
		recovery: rec,
		intake:   vault.NewIntake(layout, activityLog(logging.ComponentIntake), now),
		lock: state.NewLockWithOptions(layout.LockFile(), state.LockOptions{
			Alive: opts.Alive,
			Now:   now,
			PID:   opts.PID,
		}),
		tracer:   opts.Telemetry.Tracer(),
		activity: activityLog(logging.ComponentScheduler),
		logger:   logger,
	}
}

// Layout returns the vault layout.
func (s *Scheduler) Layout() config.Layout { return s.layout }

// Config returns the effective configuration.
func (s *Scheduler) Config() config.Config { return s.cfg }

// Store returns the task store.
func (s *Scheduler) Store() *state.Store { return s.store }

// Gate returns the approval gate.
func (s *Scheduler) Gate() *approval.Gate { return s.gate }

// Executor returns the step executor.
func (s *Scheduler) Executor() *loop.Executor { return s.executor }

// Recovery returns the recovery manager.
func (s *Scheduler) Recovery() *recovery.Manager { return s.recovery }

// Lock returns the scheduler lock.
func (s *Scheduler) Lock() *state.Lock { return s.lock }

// CycleSummary reports what one cycle did.
type CycleSummary struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	NewTasks    []string
	Approvals   approval.SweepSummary
	Results     []loop.Result
	Recovery    recovery.Summary
	Rotated     []string
	Interrupted bool // Cancellation stopped the task loop early
}

// Count returns how many task visits ended with outcome.
func (c *CycleSummary) Count(outcome loop.Outcome) int {
	n := 0
	for _, r := range c.Results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// acquire takes the lock. A live owner aborts with an error wrapping
// state.ErrLocked before anything is written.
func (s *Scheduler) acquire() error {
	owner, err := s.lock.Acquire()
	if err != nil {
		if errors.Is(err, state.ErrLocked) && owner != nil {
			s.logger.Warn("another scheduler is running", "pid", owner.PID, "host", owner.Hostname)
		}
		return err
	}
	s.logger.Debug("lock acquired", "owner", owner.OwnerID, "pid", owner.PID)
	return nil
}

func (s *Scheduler) release() {
	if err := s.lock.Release(); err != nil {
		s.logger.Error("failed to release lock", "error", err)
	}
}

// RunOnce runs a single cycle under the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (*CycleSummary, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	s.record("SCHEDULER_START", "mode", "once")
	summary, err := s.runCycle(ctx, "once", 1)
	s.record("SCHEDULER_STOP", "mode", "once", "cycles", 1)
	return summary, err
}

// RunContinuous runs cycles every interval until ctx is cancelled. A cycle
// in progress always runs to completion; cancellation is honoured between
// tasks and during the sleep, which is taken in one-second steps. The lock
// is released on every exit path. It returns the number of cycles run.
func (s *Scheduler) RunContinuous(ctx context.Context, interval time.Duration, onCycle func(*CycleSummary)) (int, error) {
	if interval < config.MinInterval {
		s.logger.Warn("interval too short, clamping", "interval", interval, "min", config.MinInterval)
		interval = config.MinInterval
	}
	if err := s.acquire(); err != nil {
		return 0, err
	}
	defer s.release()

	s.record("SCHEDULER_START", "mode", "continuous", "interval", interval.String())
	cycles := 0
	defer func() {
		s.record("SCHEDULER_STOP", "mode", "continuous", "cycles", cycles)
	}()

	seconds := int(interval / time.Second)
	for ctx.Err() == nil {
		cycles++
		summary, err := s.runCycle(ctx, "continuous", cycles)
		if err != nil {
			return cycles, err
		}
		if onCycle != nil {
			onCycle(summary)
		}
		for i := 0; i < seconds && ctx.Err() == nil; i++ {
			s.clock.Sleep(time.Second)
		}
	}
	return cycles, nil
}

// ProcessTask visits a single task under the lock.
func (s *Scheduler) ProcessTask(ctx context.Context, taskID string) (loop.Result, error) {
	if err := s.acquire(); err != nil {
		return loop.Result{TaskID: taskID}, err
	}
	defer s.release()

	res, err := s.visit(context.WithoutCancel(ctx), "", taskID)
	return res, err
}

// Recover runs stuck detection and the retry sweep under the lock.
func (s *Scheduler) Recover(ctx context.Context) (recovery.Summary, error) {
	if err := s.acquire(); err != nil {
		return recovery.Summary{}, err
	}
	defer s.release()
	return s.recovery.Run(context.WithoutCancel(ctx))
}

// Quarantine reports a task as failed under the lock.
func (s *Scheduler) Quarantine(taskID, reason string) (int, error) {
	if err := s.acquire(); err != nil {
		return 0, err
	}
	defer s.release()
	return s.recovery.ReportFailure(taskID, reason)
}

// Reset deletes the task's record so its next visit starts fresh.
func (s *Scheduler) Reset(taskID string) (bool, error) {
	if err := s.acquire(); err != nil {
		return false, err
	}
	defer s.release()

	existed, err := s.store.Delete(taskID)
	if err != nil {
		return false, err
	}
	if existed {
		s.record("RESET", "task", taskID)
	}
	return existed, nil
}

// runCycle performs one pass. Work runs on a context detached from ctx so an
// in-flight step is never torn down; ctx is consulted between tasks.
func (s *Scheduler) runCycle(ctx context.Context, mode string, n int) (*CycleSummary, error) {
	summary := &CycleSummary{ID: uuid.NewString(), StartedAt: s.clock.Now().UTC()}
	work, span := s.tracer.Start(context.WithoutCancel(ctx), "scheduler.cycle",
		oteltrace.WithAttributes(
			telemetry.AttrCycleID.String(summary.ID),
			telemetry.AttrMode.String(mode),
		))
	defer span.End()

	s.record("CYCLE_START", "cycle", n, "id", summary.ID)

	created, err := s.intake.Scan(work)
	if err != nil {
		s.logger.Warn("inbox intake failed", "error", err)
	}
	summary.NewTasks = created

	if summary.Approvals, err = s.gate.Sweep(work); err != nil {
		s.logger.Warn("approval sweep failed", "error", err)
	}

	tasks, err := s.EligibleTasks()
	if err != nil {
		return s.abort(span, summary, err)
	}
	for _, id := range tasks {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}
		res, err := s.visit(work, summary.ID, id)
		if err != nil {
			return s.abort(span, summary, err)
		}
		summary.Results = append(summary.Results, res)
	}

	if !summary.Interrupted {
		if summary.Recovery, err = s.recovery.Run(work); err != nil {
			return s.abort(span, summary, err)
		}
	}

	for _, path := range []string{s.layout.ActionsLog(), s.layout.ErrorsLog()} {
		archived, err := logging.RotateIfNeeded(path, s.cfg.Scheduler.MaxLogBytes, s.clock.Now())
		if err != nil {
			s.logger.Warn("log rotation failed", "path", path, "error", err)
			continue
		}
		if archived != "" {
			summary.Rotated = append(summary.Rotated, archived)
		}
	}

	summary.FinishedAt = s.clock.Now().UTC()
	s.record("CYCLE_END", "cycle", n,
		"new", len(summary.NewTasks),
		"processed", len(summary.Results),
		"completed", summary.Count(loop.OutcomeCompleted),
		"awaiting", summary.Count(loop.OutcomeAwaitingApproval),
		"quarantined", summary.Recovery.Quarantined,
		"retried", summary.Recovery.Retried,
		"exhausted", summary.Recovery.Exhausted)
	return summary, nil
}

func (s *Scheduler) abort(span oteltrace.Span, summary *CycleSummary, err error) (*CycleSummary, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.record("CYCLE_ABORTED", "id", summary.ID, "error", err)
	return summary, fmt.Errorf("cycle aborted: %w", err)
}

func (s *Scheduler) visit(ctx context.Context, cycleID, taskID string) (loop.Result, error) {
	ctx, span := s.tracer.Start(ctx, "loop.process",
		oteltrace.WithAttributes(telemetry.AttrTaskID.String(taskID)))
	defer span.End()
	if cycleID != "" {
		span.SetAttributes(telemetry.AttrCycleID.String(cycleID))
	}

	res, err := s.executor.Process(ctx, taskID)
	span.SetAttributes(
		telemetry.AttrOutcome.String(res.Outcome.String()),
		telemetry.AttrExecuted.Int(res.Executed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	if res.Outcome == loop.OutcomeError {
		span.SetStatus(codes.Error, res.Message)
	}
	s.record("RESULT", "task", taskID, "outcome", res.Outcome.String(), "executed", res.Executed)
	return res, nil
}

// EligibleTasks lists queue documents the executor should visit this cycle:
// sorted .md files in Needs_Action whose records are not terminal, at most
// Limits.MaxTasks of them. Tasks still waiting on a reviewer sort after
// runnable ones so they cannot use up the cap.
func (s *Scheduler) EligibleTasks() ([]string, error) {
	entries, err := os.ReadDir(s.layout.NeedsAction)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	records, err := s.store.Load()
	if err != nil {
		return nil, err
	}

	var names, parked []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") {
			continue
		}
		rec := records[name]
		if rec != nil && rec.Status.Terminal() {
			continue
		}
		if rec != nil && rec.Status == state.StatusAwaitingApproval && s.executor.AwaitingDecision(name) {
			parked = append(parked, name)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	sort.Strings(parked)
	names = append(names, parked...)
	if len(names) > s.cfg.Limits.MaxTasks {
		names = names[:s.cfg.Limits.MaxTasks]
	}
	return names, nil
}

func (s *Scheduler) record(event string, keyVals ...interface{}) {
	if err := s.activity.Record(event, keyVals...); err != nil {
		s.logger.Warn("failed to write activity log", "error", err)
	}
}
