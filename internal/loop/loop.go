package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/thruflo/vaultloop/internal/approval"
	"github.com/thruflo/vaultloop/internal/config"
	"github.com/thruflo/vaultloop/internal/logging"
	"github.com/thruflo/vaultloop/internal/recovery"
	"github.com/thruflo/vaultloop/internal/state"
	"github.com/thruflo/vaultloop/internal/vault"
)

// Outcome indicates how a visit to a task ended.
type Outcome int

const (
	OutcomeUnknown          Outcome = iota
	OutcomeCompleted                // All steps resolved, document moved to Done/
	OutcomeInProgress               // Steps remain
	OutcomeMaxIterations            // Step budget for this visit used up
	OutcomeAwaitingApproval         // A risky step is waiting for a reviewer
	OutcomeSkipped                  // Nothing to do for this task
	OutcomeError                    // The visit failed; see Result.Message
)

// String returns the outcome name used in logs and CLI output.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeInProgress:
		return "in_progress"
	case OutcomeMaxIterations:
		return "max_iter"
	case OutcomeAwaitingApproval:
		return "awaiting_approval"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Result contains the outcome of one visit.
type Result struct {
	TaskID      string
	Outcome     Outcome
	Executed    int // Steps executed during this visit
	CurrentStep int
	TotalSteps  int
	ApprovalRef string
	Message     string
}

// ApprovalGate is the part of approval.Gate the executor needs.
type ApprovalGate interface {
	Submit(ctx context.Context, sub approval.Submission) (string, error)
	Outcome(ref string) (approval.Decision, error)
}

// Notifier is told about finalized tasks.
type Notifier interface {
	TaskCompleted(ctx context.Context, c vault.Completion) error
}

// ContextExcerptBytes bounds the task excerpt copied into approval requests.
const ContextExcerptBytes = 800

// CompletedBy is written to the completed_by front-matter field.
const CompletedBy = "ralph-loop"

// Options holds configuration for creating an Executor. Store and Gate are
// required; everything else has a default.
type Options struct {
	Layout     config.Layout
	Limits     config.Limits // Zero value: config.DefaultLimits()
	Store      *state.Store
	Gate       ApprovalGate
	Router     ActionRouter   // Optional: defaults to CategoryRouter
	Classifier RiskClassifier // Optional: defaults to LexiconClassifier
	Notifier   Notifier       // Optional: defaults to vault.Ledger
	Plans      *vault.PlanLog // Optional: defaults to Plans/ in Layout
	Marker     state.Marker   // Optional: defaults to state.RenameMarker
	Activity   *logging.ActivityLog
	Logger     *logging.Logger
	Now        func() time.Time
}

// Executor drives task documents through their steps.
type Executor struct {
	layout     config.Layout
	limits     config.Limits
	store      *state.Store
	gate       ApprovalGate
	router     ActionRouter
	classifier RiskClassifier
	notifier   Notifier
	plans      *vault.PlanLog
	marker     state.Marker
	activity   *logging.ActivityLog
	logger     *logging.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor with default collaborators.
func NewExecutor(layout config.Layout, limits config.Limits, store *state.Store, gate ApprovalGate) *Executor {
	return NewExecutorWithOptions(Options{
		Layout: layout,
		Limits: limits,
		Store:  store,
		Gate:   gate,
	})
}

// NewExecutorWithOptions creates an Executor with explicit options.
func NewExecutorWithOptions(opts Options) *Executor {
	e := &Executor{
		layout:     opts.Layout,
		limits:     opts.Limits,
		store:      opts.Store,
		gate:       opts.Gate,
		router:     opts.Router,
		classifier: opts.Classifier,
		notifier:   opts.Notifier,
		plans:      opts.Plans,
		marker:     opts.Marker,
		activity:   opts.Activity,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if e.limits == (config.Limits{}) {
		e.limits = config.DefaultLimits()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.router == nil {
		e.router = NewCategoryRouter(e.activity)
	}
	if e.classifier == nil {
		e.classifier = NewLexiconClassifier()
	}
	if e.notifier == nil {
		e.notifier = vault.NewLedger(e.layout)
	}
	if e.plans == nil {
		e.plans = vault.NewPlanLog(e.layout.Plans, e.now)
	}
	if e.marker == nil {
		e.marker = state.RenameMarker{}
	}
	if e.logger == nil {
		e.logger = logging.For(logging.ComponentLoop)
	}
	return e
}

// Limits returns the effective limits.
func (e *Executor) Limits() config.Limits {
	return e.limits
}

// Process runs one visit to the task with the given id. The returned error
// is non-nil only when the task store could not be written; every other
// failure is reported through Result.
func (e *Executor) Process(ctx context.Context, taskID string) (Result, error) {
	res := Result{TaskID: taskID}

	rec, err := e.store.Get(taskID)
	if err != nil {
		return res, err
	}
	path := filepath.Join(e.layout.NeedsAction, taskID)

	if rec != nil && rec.Status.Terminal() {
		res.Outcome = OutcomeSkipped
		res.Message = "task is " + string(rec.Status)
		return res, nil
	}
	// A quarantined task back in the queue was retried even if the hook
	// never ran.
	if rec != nil && rec.Status == state.StatusErrorQuarantined {
		if _, err := os.Stat(path); err != nil {
			res.Outcome = OutcomeSkipped
			res.Message = "task is quarantined"
			return res, nil
		}
		rec.Status = state.StatusInProgress
	}

	// An approved step run on resume counts toward this visit's budget.
	executed := 0
	if rec != nil && rec.Status == state.StatusAwaitingApproval {
		ran, done, err := e.resume(ctx, rec, path, &res)
		if err != nil || done {
			return res, err
		}
		executed = ran
	}

	doc, err := vault.Load(path)
	if err != nil {
		return e.missing(taskID, rec, err, res)
	}
	if doc.Type() == vault.TypePlan {
		res.Outcome = OutcomeSkipped
		res.Message = "plan documents are not executed"
		return res, nil
	}

	steps := doc.Steps()
	now := e.now().UTC()
	if rec == nil {
		rec = &state.TaskRecord{Status: state.StatusNew, StartedAt: now}
		e.record("START", "task", taskID, "steps", len(steps), "priority", doc.Meta().Get("priority"))
	}
	rec.TotalSteps = len(steps)
	res.TotalSteps = len(steps)

	if err := e.plans.Init(doc, steps); err != nil {
		e.logger.Warn("failed to initialise plan", "task", taskID, "error", err)
	}

	if len(steps) == 0 {
		e.record("NO_STEPS", "task", taskID)
		return e.finalize(ctx, doc, rec, res)
	}

	e.plan(taskID, fmt.Sprintf("--- Cycle started | steps_total=%d | steps_done=%d ---",
		len(steps), vault.CountResolved(steps)))

	// The checklist wins over the stored pointer, so a step unticked by
	// hand runs again.
	current := rec.CurrentStep
	if open := vault.FirstOpen(steps); open < current {
		current = open
	}
	rec.Status = state.StatusInProgress

	for current < len(steps) && executed < e.limits.MaxIterations {
		step := steps[current]
		if step.Resolved() {
			current++
			continue
		}
		label := fmt.Sprintf("Step %d/%d", current+1, len(steps))

		if risk, reason := e.classifier.Classify(step.Text); risk == RiskRisky {
			return e.gateStep(ctx, doc, rec, step, reason, label, current, executed, res)
		}

		result, err := e.router.Execute(ctx, Action{TaskID: taskID, StepIndex: current, Text: step.Text})
		if err != nil {
			e.record("EXEC_FAILED", "task", taskID, "step", current+1, "error", err)
			e.plan(taskID, fmt.Sprintf("%s: FAILED: %v", label, err))
			return e.fail(rec, current, executed, fmt.Sprintf("step %d failed: %v", current+1, err), res)
		}

		if err := e.markStep(doc, current, vault.MarkDone, result); err != nil {
			return e.fail(rec, current, executed, err.Error(), res)
		}
		e.record("EXEC", "task", taskID, "step", fmt.Sprintf("%d/%d", current+1, len(steps)), "text", truncate(step.Text, 60))
		e.plan(taskID, fmt.Sprintf("%s: %s", label, result))

		current++
		executed++
		steps = doc.Steps()
	}

	rec.CurrentStep = current
	rec.Iterations += executed
	rec.LastRunAt = e.now().UTC()
	res.Executed = executed
	res.CurrentStep = current

	if vault.CountResolved(steps) == len(steps) {
		e.plan(taskID, "--- All steps completed ---")
		return e.finalize(ctx, doc, rec, res)
	}

	if err := e.store.Upsert(taskID, rec); err != nil {
		return res, err
	}
	if executed >= e.limits.MaxIterations {
		remaining := len(steps) - vault.CountResolved(steps)
		e.record("MAX_ITER", "task", taskID, "steps_remaining", remaining)
		e.plan(taskID, fmt.Sprintf("--- Cycle paused at MAX_ITER (%d) | steps_remaining=%d ---",
			e.limits.MaxIterations, remaining))
		res.Outcome = OutcomeMaxIterations
		return res, nil
	}
	res.Outcome = OutcomeInProgress
	return res, nil
}

// resume applies a resolved approval decision to the held step. It returns
// the number of steps it executed and reports done when the visit must end
// here.
func (e *Executor) resume(ctx context.Context, rec *state.TaskRecord, path string, res *Result) (int, bool, error) {
	taskID := res.TaskID
	decision, err := e.gate.Outcome(rec.ApprovalRef)
	if err != nil {
		res.Outcome = OutcomeError
		res.Message = fmt.Sprintf("failed to read approval %s: %v", rec.ApprovalRef, err)
		return 0, true, nil
	}
	if decision == approval.DecisionPending {
		e.record("APPROVAL_PENDING", "task", taskID, "ref", rec.ApprovalRef)
		res.Outcome = OutcomeAwaitingApproval
		res.ApprovalRef = rec.ApprovalRef
		res.CurrentStep = rec.CurrentStep
		res.TotalSteps = rec.TotalSteps
		return 0, true, nil
	}

	idx := rec.AwaitingStep
	label := fmt.Sprintf("Step %d", idx+1)

	doc, err := vault.Load(path)
	if err != nil {
		// Handled by the caller's own load.
		return 0, false, nil
	}
	steps := doc.Steps()

	ran := 0
	if decision == approval.DecisionApproved {
		e.record("APPROVAL_GRANTED", "task", taskID, "step", idx+1)
		e.plan(taskID, label+": APPROVED by human, executing")
		if idx < len(steps) && !steps[idx].Resolved() {
			result, err := e.router.Execute(ctx, Action{TaskID: taskID, StepIndex: idx, Text: steps[idx].Text, Approved: true})
			if err != nil {
				// The approval still stands; the next visit retries.
				e.record("EXEC_FAILED", "task", taskID, "step", idx+1, "error", err)
				e.plan(taskID, fmt.Sprintf("%s: FAILED: %v", label, err))
				res.Outcome = OutcomeError
				res.Message = fmt.Sprintf("approved step %d failed: %v", idx+1, err)
				res.ApprovalRef = rec.ApprovalRef
				return 0, true, nil
			}
			if err := e.markStep(doc, idx, vault.MarkDone, result); err != nil {
				res.Outcome = OutcomeError
				res.Message = err.Error()
				return 0, true, nil
			}
			e.plan(taskID, fmt.Sprintf("%s: %s", label, result))
			ran = 1
		}
	} else {
		note := "SKIPPED: rejected by human reviewer"
		if decision == approval.DecisionTimedOut {
			note = "SKIPPED: approval timed out"
		}
		e.record("APPROVAL_DENIED", "task", taskID, "step", idx+1, "decision", decision.String())
		e.plan(taskID, fmt.Sprintf("%s: %s, step skipped", label, decision))
		if idx < len(steps) {
			if err := e.markStep(doc, idx, vault.MarkSkipped, note); err != nil {
				res.Outcome = OutcomeError
				res.Message = err.Error()
				return 0, true, nil
			}
		}
	}

	rec.Status = state.StatusInProgress
	rec.CurrentStep = idx + 1
	rec.ApprovalRef = ""
	rec.AwaitingStep = 0
	rec.LastRunAt = e.now().UTC()
	return ran, false, e.store.Upsert(taskID, rec)
}

func (e *Executor) gateStep(ctx context.Context, doc *vault.Document, rec *state.TaskRecord, step vault.Step,
	reason, label string, current, executed int, res Result) (Result, error) {
	taskID := res.TaskID
	e.record("RISKY_STEP", "task", taskID, "step", current+1, "text", truncate(step.Text, 60))

	ref, err := e.gate.Submit(ctx, approval.Submission{
		TaskID:    taskID,
		StepIndex: current,
		StepText:  step.Text,
		Reason:    reason,
		Context:   excerpt(doc.Content, ContextExcerptBytes),
	})
	if err != nil {
		return e.fail(rec, current, executed, fmt.Sprintf("failed to submit approval: %v", err), res)
	}
	e.plan(taskID, fmt.Sprintf("%s: RISKY, submitted for human approval (file: %s)", label, ref))

	rec.Status = state.StatusAwaitingApproval
	rec.ApprovalRef = ref
	rec.AwaitingStep = current
	rec.CurrentStep = current
	rec.Iterations += executed
	rec.LastRunAt = e.now().UTC()
	if err := e.store.Upsert(taskID, rec); err != nil {
		return res, err
	}

	res.Outcome = OutcomeAwaitingApproval
	res.ApprovalRef = ref
	res.Executed = executed
	res.CurrentStep = current
	return res, nil
}

// fail persists progress made so far and reports OutcomeError. The failing
// step stays open.
func (e *Executor) fail(rec *state.TaskRecord, current, executed int, msg string, res Result) (Result, error) {
	rec.Status = state.StatusInProgress
	rec.CurrentStep = current
	rec.Iterations += executed
	rec.LastRunAt = e.now().UTC()
	rec.LastError = msg
	if err := e.store.Upsert(res.TaskID, rec); err != nil {
		return res, err
	}
	res.Outcome = OutcomeError
	res.Message = msg
	res.Executed = executed
	res.CurrentStep = current
	return res, nil
}

func (e *Executor) missing(taskID string, rec *state.TaskRecord, loadErr error, res Result) (Result, error) {
	res.Outcome = OutcomeError
	if !errors.Is(loadErr, os.ErrNotExist) {
		res.Message = fmt.Sprintf("failed to read task: %v", loadErr)
		return res, nil
	}
	res.Message = "file not found"
	e.record("ERROR", "task", taskID, "msg", "file not found")
	if rec != nil {
		if _, err := e.store.Delete(taskID); err != nil {
			return res, err
		}
	}
	return res, nil
}

// finalize stamps the document, moves it to Done/ and records completion.
func (e *Executor) finalize(ctx context.Context, doc *vault.Document, rec *state.TaskRecord, res Result) (Result, error) {
	taskID := res.TaskID
	now := e.now().UTC()
	taskType := doc.Type()

	doc.SetFields(
		vault.Field{Key: "status", Value: "completed"},
		vault.Field{Key: "completed_at", Value: now.Format(logging.TimestampLayout)},
		vault.Field{Key: "completed_by", Value: CompletedBy},
		vault.Field{Key: "ralph_iterations", Value: fmt.Sprint(rec.Iterations)},
	)
	if err := doc.Save(); err != nil {
		return e.fail(rec, rec.CurrentStep, 0, err.Error(), res)
	}

	dest := state.UniquePath(e.layout.Done, taskID, now)
	moved, err := e.marker.Mark(doc.Path, dest)
	if err != nil {
		return e.fail(rec, rec.CurrentStep, 0, fmt.Sprintf("failed to move to Done: %v", err), res)
	}
	if !moved {
		return e.missing(taskID, rec, os.ErrNotExist, res)
	}

	if err := e.plans.Close(taskID, "COMPLETED"); err != nil {
		e.logger.Warn("failed to close plan", "task", taskID, "error", err)
	}
	if err := e.notifier.TaskCompleted(ctx, vault.Completion{
		TaskID:      taskID,
		TaskType:    taskType,
		DonePath:    dest,
		Iterations:  rec.Iterations,
		CompletedAt: now,
	}); err != nil {
		e.logger.Warn("failed to record completion", "task", taskID, "error", err)
	}

	rec.Status = state.StatusCompleted
	rec.CompletedAt = &now
	rec.LastRunAt = now
	rec.DonePath = dest
	rec.CurrentStep = rec.TotalSteps
	rec.LastError = ""
	if err := e.store.Upsert(taskID, rec); err != nil {
		return res, err
	}

	e.record("COMPLETE", "task", taskID, "total_iterations", rec.Iterations, "done", filepath.Base(dest))
	res.Outcome = OutcomeCompleted
	res.CurrentStep = rec.TotalSteps
	return res, nil
}

func (e *Executor) markStep(doc *vault.Document, index int, mark rune, note string) error {
	content, err := vault.MarkStep(doc.Content, index, mark, note, e.now())
	if err != nil {
		return fmt.Errorf("failed to mark step %d: %w", index+1, err)
	}
	doc.Content = content
	return doc.Save()
}

// AwaitingDecision reports whether the task is parked on an approval request
// that has no decision yet.
func (e *Executor) AwaitingDecision(taskID string) bool {
	rec, err := e.store.Get(taskID)
	if err != nil || rec == nil || rec.Status != state.StatusAwaitingApproval {
		return false
	}
	d, err := e.gate.Outcome(rec.ApprovalRef)
	return err != nil || d == approval.DecisionPending
}

// ExemptFromRecovery reports whether stuck detection should leave the task's
// queue file alone: it is parked on a reviewer, or its record is terminal and
// the file is a stray copy that must not reopen it.
func (e *Executor) ExemptFromRecovery(taskID string) bool {
	rec, err := e.store.Get(taskID)
	if err == nil && rec != nil && rec.Status.Terminal() {
		return true
	}
	return e.AwaitingDecision(taskID)
}

// MarkQuarantined records that recovery moved the task to Errors/.
func (e *Executor) MarkQuarantined(taskID string) error {
	return e.setStatus(taskID, state.StatusErrorQuarantined)
}

// MarkRetried records that recovery returned the task to the queue. Any
// pending approval is abandoned; the step is gated again on the next visit.
func (e *Executor) MarkRetried(taskID string) error {
	return e.setStatus(taskID, state.StatusInProgress)
}

// MarkExhausted records that the task reached the retry ceiling.
func (e *Executor) MarkExhausted(taskID string) error {
	return e.setStatus(taskID, state.StatusErrorExhausted)
}

func (e *Executor) setStatus(taskID string, status state.TaskStatus) error {
	rec, err := e.store.Get(taskID)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &state.TaskRecord{StartedAt: e.now().UTC()}
	}
	if rec.Status.Terminal() && rec.Status != status {
		e.logger.Warn("refusing to change terminal status", "task", taskID, "status", rec.Status, "requested", status)
		return nil
	}
	rec.Status = status
	rec.ApprovalRef = ""
	rec.AwaitingStep = 0
	rec.LastRunAt = e.now().UTC()
	return e.store.Upsert(taskID, rec)
}

// RecoveryObserver adapts the status hooks to recovery.Observer.
func (e *Executor) RecoveryObserver() recovery.Observer {
	return recoveryHooks{e}
}

type recoveryHooks struct{ e *Executor }

func (h recoveryHooks) TaskQuarantined(id string) error { return h.e.MarkQuarantined(id) }
func (h recoveryHooks) TaskRetried(id string) error     { return h.e.MarkRetried(id) }
func (h recoveryHooks) TaskExhausted(id string) error   { return h.e.MarkExhausted(id) }

func (e *Executor) record(event string, keyVals ...interface{}) {
	if err := e.activity.Record(event, keyVals...); err != nil {
		e.logger.Warn("failed to write activity log", "error", err)
	}
}

func (e *Executor) plan(taskID, entry string) {
	if err := e.plans.Append(taskID, entry); err != nil {
		e.logger.Warn("failed to append plan", "task", taskID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func excerpt(content string, n int) string {
	if len(content) <= n {
		return content
	}
	for n > 0 && !utf8.RuneStart(content[n]) {
		n--
	}
	return content[:n]
}
