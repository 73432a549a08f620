package loop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/vaultloop/internal/approval"
	"github.com/thruflo/vaultloop/internal/config"
	"github.com/thruflo/vaultloop/internal/logging"
	"github.com/thruflo/vaultloop/internal/state"
	"github.com/thruflo/vaultloop/internal/testutil"
	"github.com/thruflo/vaultloop/internal/vault"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// countingRouter wraps the default router and counts executions per step.
type countingRouter struct {
	mu    sync.Mutex
	inner ActionRouter
	calls []Action
	fail  map[string]error
}

func (r *countingRouter) Execute(ctx context.Context, a Action) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, a)
	err := r.fail[a.Text]
	r.mu.Unlock()
	if err != nil {
		return "", err
	}
	return r.inner.Execute(ctx, a)
}

func (r *countingRouter) count(text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.calls {
		if a.Text == text {
			n++
		}
	}
	return n
}

type harness struct {
	layout config.Layout
	store  *state.Store
	gate   *approval.Gate
	clock  *testClock
	router *countingRouter
	exec   *Executor
}

func newHarness(t *testing.T, limits config.Limits) *harness {
	t.Helper()
	layout, store := testutil.SetupVault(t)
	clock := &testClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	activity := logging.NewActivityLog(layout.ActionsLog(), "ralph-loop").WithClock(clock.Now)
	gate := approval.NewGate(approval.Options{
		Dir:      layout.NeedsApproval,
		Timeout:  time.Hour,
		Now:      clock.Now,
		Activity: activity,
	})
	router := &countingRouter{inner: NewCategoryRouter(activity), fail: map[string]error{}}
	exec := NewExecutorWithOptions(Options{
		Layout:   layout,
		Limits:   limits,
		Store:    store,
		Gate:     gate,
		Router:   router,
		Activity: activity,
		Now:      clock.Now,
	})
	return &harness{layout: layout, store: store, gate: gate, clock: clock, router: router, exec: exec}
}

func (h *harness) process(t *testing.T, id string) Result {
	t.Helper()
	res, err := h.exec.Process(context.Background(), id)
	require.NoError(t, err)
	return res
}

func (h *harness) decide(t *testing.T, ref, word string) {
	t.Helper()
	path := filepath.Join(h.layout.NeedsApproval, ref)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, []byte(word+"\n")...), 0o644))
}

func (h *harness) pendingRequests(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.layout.NeedsApproval)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeCompleted, "completed"},
		{OutcomeInProgress, "in_progress"},
		{OutcomeMaxIterations, "max_iter"},
		{OutcomeAwaitingApproval, "awaiting_approval"},
		{OutcomeSkipped, "skipped"},
		{OutcomeError, "error"},
		{OutcomeUnknown, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.outcome.String())
	}
}

func TestProcess_SafeStepsComplete(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	require.NoError(t, os.WriteFile(h.layout.Dashboard(), []byte("# Dashboard\n\n"+vault.DashboardHeader+"\n|---|---|---|\n"), 0o644))
	testutil.WriteTask(t, h.layout, "task_a.md", testutil.TaskDocument(testutil.SampleSteps()...))

	res := h.process(t, "task_a.md")
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.Executed)

	testutil.AssertNotInDir(t, h.layout.NeedsAction, "task_a.md")
	donePath := filepath.Join(h.layout.Done, "task_a.md")
	testutil.AssertStepMarks(t, donePath, 'x', 'x', 'x')

	doc, err := vault.Load(donePath)
	require.NoError(t, err)
	meta := doc.Meta()
	assert.Equal(t, "completed", meta.Get("status"))
	assert.Equal(t, CompletedBy, meta.Get("completed_by"))
	assert.Equal(t, 3, meta.Int("ralph_iterations", 0))
	assert.Contains(t, doc.Content, "REVIEWED: acknowledged by autonomous agent")

	rec := testutil.AssertTaskStatus(t, h.store, "task_a.md", state.StatusCompleted)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, donePath, rec.DonePath)
	assert.Equal(t, 3, rec.Iterations)

	plan := testutil.ReadFile(t, filepath.Join(h.layout.Plans, "task_a_md_Plan.md"))
	assert.Contains(t, plan, "**COMPLETED**")
	assert.Contains(t, testutil.ReadFile(t, h.layout.Dashboard()), "| task_a.md |")
	assert.Contains(t, testutil.ReadFile(t, h.layout.ActionsLog()), "COMPLETE")
}

func TestProcess_IdempotentReentry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	testutil.WriteTask(t, h.layout, "task_a.md", testutil.TaskDocument("Review one", "Review two"))

	require.Equal(t, OutcomeCompleted, h.process(t, "task_a.md").Outcome)
	before, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)

	res := h.process(t, "task_a.md")
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, 1, h.router.count("Review one"))

	after, err := os.ReadFile(h.store.Path())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestProcess_ResumesFromDocument(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	content := testutil.TaskDocument("Review one", "Review two", "Review three")
	content, err := vault.MarkStep(content, 0, vault.MarkDone, "done by hand", h.clock.Now())
	require.NoError(t, err)
	path := testutil.WriteTask(t, h.layout, "task_a.md", content)

	// A stale pointer past an open step is pulled back by the document.
	require.NoError(t, h.store.Upsert("task_a.md", &state.TaskRecord{Status: state.StatusInProgress, CurrentStep: 2}))
	h.router.fail["Review three"] = errors.New("stop here")

	res := h.process(t, "task_a.md")
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Zero(t, h.router.count("Review one"))
	assert.Equal(t, 1, h.router.count("Review two"))
	testutil.AssertStepMarks(t, path, 'x', 'x', ' ')
}

func TestProcess_ApprovalGating(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	path := testutil.WriteTask(t, h.layout, "task_a.md",
		testutil.TaskDocument("Review the draft", "Delete staging data", "Review the result"))

	res := h.process(t, "task_a.md")
	require.Equal(t, OutcomeAwaitingApproval, res.Outcome)
	require.NotEmpty(t, res.ApprovalRef)
	assert.Equal(t, 1, res.Executed)
	assert.Equal(t, 1, res.CurrentStep)

	rec := testutil.AssertTaskStatus(t, h.store, "task_a.md", state.StatusAwaitingApproval)
	assert.Equal(t, res.ApprovalRef, rec.ApprovalRef)
	assert.Equal(t, 1, rec.AwaitingStep)
	testutil.AssertStepMarks(t, path, 'x', ' ', ' ')
	assert.Zero(t, h.router.count("Delete staging data"))

	reqDoc := testutil.ReadFile(t, filepath.Join(h.layout.NeedsApproval, res.ApprovalRef))
	assert.Contains(t, reqDoc, "task_id: task_a.md")
	assert.Contains(t, reqDoc, `matched risk keyword "delete"`)

	// Pending: no side effects, no duplicate request.
	for i := 0; i < 2; i++ {
		again := h.process(t, "task_a.md")
		assert.Equal(t, OutcomeAwaitingApproval, again.Outcome)
		assert.Equal(t, res.ApprovalRef, again.ApprovalRef)
	}
	assert.Len(t, h.pendingRequests(t), 1)
	assert.Zero(t, h.router.count("Delete staging data"))
	assert.True(t, h.exec.AwaitingDecision("task_a.md"))

	h.decide(t, res.ApprovalRef, "APPROVED")
	assert.False(t, h.exec.AwaitingDecision("task_a.md"))

	final := h.process(t, "task_a.md")
	assert.Equal(t, OutcomeCompleted, final.Outcome)
	assert.Equal(t, 1, h.router.count("Delete staging data"))
	testutil.AssertStepMarks(t, filepath.Join(h.layout.Done, "task_a.md"), 'x', 'x', 'x')
	assert.FileExists(t, filepath.Join(h.layout.NeedsApproval, res.ApprovalRef+".approved"))
}

func TestProcess_RejectedAndTimedOutStepsAreSkipped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		settle func(h *harness, t *testing.T, ref string)
		note   string
	}{
		{
			name:   "rejected",
			settle: func(h *harness, t *testing.T, ref string) { h.decide(t, ref, "REJECTED") },
			note:   "SKIPPED: rejected by human reviewer",
		},
		{
			name:   "timed out",
			settle: func(h *harness, _ *testing.T, _ string) { h.clock.Advance(2 * time.Hour) },
			note:   "SKIPPED: approval timed out",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, config.Limits{})
			testutil.WriteTask(t, h.layout, "task_a.md", testutil.TaskDocument("Publish the post", "Review it"))

			res := h.process(t, "task_a.md")
			require.Equal(t, OutcomeAwaitingApproval, res.Outcome)

			tt.settle(h, t, res.ApprovalRef)
			final := h.process(t, "task_a.md")
			assert.Equal(t, OutcomeCompleted, final.Outcome)
			assert.Zero(t, h.router.count("Publish the post"))

			donePath := filepath.Join(h.layout.Done, "task_a.md")
			testutil.AssertStepMarks(t, donePath, '-', 'x')
			assert.Contains(t, testutil.ReadFile(t, donePath), tt.note)
		})
	}
}

func TestProcess_VanishedRequestIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	testutil.WriteTask(t, h.layout, "task_a.md", testutil.TaskDocument("Deploy to production"))

	res := h.process(t, "task_a.md")
	require.Equal(t, OutcomeAwaitingApproval, res.Outcome)
	require.NoError(t, os.Remove(filepath.Join(h.layout.NeedsApproval, res.ApprovalRef)))

	final := h.process(t, "task_a.md")
	assert.Equal(t, OutcomeCompleted, final.Outcome)
	assert.Zero(t, h.router.count("Deploy to production"))
	testutil.AssertStepMarks(t, filepath.Join(h.layout.Done, "task_a.md"), '-')
}

func TestProcess_BoundedWork(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{MaxIterations: 5, MaxTasks: 10})
	testutil.WriteTask(t, h.layout, "task_big.md", testutil.TaskDocument(testutil.NumberedSteps(20)...))

	for cycle := 1; cycle <= 3; cycle++ {
		res := h.process(t, "task_big.md")
		require.Equal(t, OutcomeMaxIterations, res.Outcome, "cycle %d", cycle)
		assert.Equal(t, 5, res.Executed)
		assert.Equal(t, cycle*5, res.CurrentStep)
	}

	res := h.process(t, "task_big.md")
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 5, res.Executed)

	rec := testutil.AssertTaskStatus(t, h.store, "task_big.md", state.StatusCompleted)
	assert.Equal(t, 20, rec.Iterations)
	assert.Equal(t, 20, rec.TotalSteps)
	assert.Len(t, h.router.calls, 20)
}

func TestProcess_ApprovedStepCountsTowardBudget(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{MaxIterations: 5, MaxTasks: 10})
	steps := append([]string{"Delete staging data"}, testutil.NumberedSteps(6)...)
	path := testutil.WriteTask(t, h.layout, "task_a.md", testutil.TaskDocument(steps...))

	res := h.process(t, "task_a.md")
	require.Equal(t, OutcomeAwaitingApproval, res.Outcome)
	assert.Zero(t, res.Executed)
	h.decide(t, res.ApprovalRef, "APPROVED")

	res = h.process(t, "task_a.md")
	assert.Equal(t, OutcomeMaxIterations, res.Outcome)
	assert.Equal(t, 5, res.Executed)
	assert.Equal(t, 5, res.CurrentStep)
	assert.Len(t, h.router.calls, 5)
	testutil.AssertStepMarks(t, path, 'x', 'x', 'x', 'x', 'x', ' ', ' ')
	rec := testutil.AssertTaskStatus(t, h.store, "task_a.md", state.StatusInProgress)
	assert.Equal(t, 5, rec.Iterations)

	res = h.process(t, "task_a.md")
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Executed)
}

func TestProcess_EndToEndScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	require.NoError(t, os.WriteFile(h.layout.SystemLog(), []byte("# System Log\n\n"+vault.SystemLogHeader+"\n|---|---|---|\n"), 0o644))
	testutil.WriteTask(t, h.layout, "task_ops.md",
		testutil.TaskDocument("log the event", "delete staging data", "archive"))

	first := h.process(t, "task_ops.md")
	require.Equal(t, OutcomeAwaitingApproval, first.Outcome)
	assert.Equal(t, 1, h.router.count("log the event"))
	assert.Contains(t, testutil.ReadFile(t, h.layout.ActionsLog()), "LOG_STEP")

	h.decide(t, first.ApprovalRef, "APPROVED")
	second := h.process(t, "task_ops.md")
	require.Equal(t, OutcomeCompleted, second.Outcome)

	assert.Equal(t, 1, h.router.count("log the event"))
	assert.Equal(t, 1, h.router.count("delete staging data"))
	assert.Equal(t, 1, h.router.count("archive"))
	testutil.AssertStepMarks(t, filepath.Join(h.layout.Done, "task_ops.md"), 'x', 'x', 'x')
	assert.Contains(t, testutil.ReadFile(t, h.layout.SystemLog()), "`task_ops.md`")
}

func TestProcess_SkipsPlanDocuments(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	testutil.WriteTask(t, h.layout, "Plan_x.md", testutil.TaskDocumentWithType(vault.TypePlan, "Review"))

	res := h.process(t, "Plan_x.md")
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	testutil.AssertInDir(t, h.layout.NeedsAction, "Plan_x.md")
	rec, err := h.store.Get("Plan_x.md")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestProcess_ZeroStepsCompleteImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	testutil.WriteTask(t, h.layout, "task_note.md", "---\ntype: note\n---\n\nJust a note.\n")

	res := h.process(t, "task_note.md")
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	testutil.AssertInDir(t, h.layout.Done, "task_note.md")
	testutil.AssertTaskStatus(t, h.store, "task_note.md", state.StatusCompleted)
}

func TestProcess_RouterErrorKeepsStepOpen(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	path := testutil.WriteTask(t, h.layout, "task_a.md", testutil.TaskDocument("Review one", "Review two"))
	h.router.fail["Review two"] = errors.New("disk full")

	res := h.process(t, "task_a.md")
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Contains(t, res.Message, "disk full")
	testutil.AssertStepMarks(t, path, 'x', ' ')

	rec := testutil.AssertTaskStatus(t, h.store, "task_a.md", state.StatusInProgress)
	assert.Equal(t, 1, rec.CurrentStep)
	assert.Equal(t, 1, rec.Iterations)
	assert.Contains(t, rec.LastError, "disk full")

	delete(h.router.fail, "Review two")
	assert.Equal(t, OutcomeCompleted, h.process(t, "task_a.md").Outcome)
	assert.Equal(t, 1, h.router.count("Review one"))
}

func TestProcess_MissingFile(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	require.NoError(t, h.store.Upsert("task_gone.md", &state.TaskRecord{Status: state.StatusInProgress}))

	res := h.process(t, "task_gone.md")
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, "file not found", res.Message)

	rec, err := h.store.Get("task_gone.md")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecoveryHooks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	testutil.WriteTask(t, h.layout, "task_a.md", testutil.TaskDocument("Delete old rows", "Review"))

	res := h.process(t, "task_a.md")
	require.Equal(t, OutcomeAwaitingApproval, res.Outcome)

	obs := h.exec.RecoveryObserver()
	require.NoError(t, obs.TaskQuarantined("task_a.md"))
	rec := testutil.AssertTaskStatus(t, h.store, "task_a.md", state.StatusErrorQuarantined)
	assert.Empty(t, rec.ApprovalRef)

	require.NoError(t, obs.TaskRetried("task_a.md"))
	testutil.AssertTaskStatus(t, h.store, "task_a.md", state.StatusInProgress)

	require.NoError(t, obs.TaskExhausted("task_a.md"))
	testutil.AssertTaskStatus(t, h.store, "task_a.md", state.StatusErrorExhausted)
	assert.Equal(t, OutcomeSkipped, h.process(t, "task_a.md").Outcome)
}

func TestRecoveryHooks_KeepTerminalStatus(t *testing.T) {
	t.Parallel()

	hooks := map[string]func(*Executor, string) error{
		"quarantined": (*Executor).MarkQuarantined,
		"retried":     (*Executor).MarkRetried,
		"exhausted":   (*Executor).MarkExhausted,
	}
	for _, status := range []state.TaskStatus{state.StatusCompleted, state.StatusErrorExhausted} {
		for name, hook := range hooks {
			status, hook := status, hook
			t.Run(string(status)+"/"+name, func(t *testing.T) {
				t.Parallel()
				h := newHarness(t, config.Limits{})
				done := h.clock.Now()
				require.NoError(t, h.store.Upsert("task_a.md", &state.TaskRecord{Status: status, CompletedAt: &done}))

				require.NoError(t, hook(h.exec, "task_a.md"))
				rec := testutil.AssertTaskStatus(t, h.store, "task_a.md", status)
				assert.NotNil(t, rec.CompletedAt)
			})
		}
	}
}

func TestExemptFromRecovery(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	testutil.WriteTask(t, h.layout, "task_wait.md", testutil.TaskDocument("Delete old rows"))
	res := h.process(t, "task_wait.md")
	require.Equal(t, OutcomeAwaitingApproval, res.Outcome)
	require.NoError(t, h.store.Upsert("task_done.md", &state.TaskRecord{Status: state.StatusCompleted}))
	require.NoError(t, h.store.Upsert("task_busy.md", &state.TaskRecord{Status: state.StatusInProgress}))

	tests := []struct {
		id     string
		exempt bool
	}{
		{"task_wait.md", true},
		{"task_done.md", true},
		{"task_busy.md", false},
		{"task_unknown.md", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.exempt, h.exec.ExemptFromRecovery(tt.id), tt.id)
	}

	h.decide(t, res.ApprovalRef, "APPROVED")
	assert.False(t, h.exec.ExemptFromRecovery("task_wait.md"))
}

func TestProcess_QuarantinedTaskBackInQueue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, config.Limits{})
	testutil.WriteTask(t, h.layout, "task_a.md", testutil.TaskDocument("Review"))
	require.NoError(t, h.exec.MarkQuarantined("task_a.md"))

	assert.Equal(t, OutcomeCompleted, h.process(t, "task_a.md").Outcome)

	require.NoError(t, h.exec.MarkQuarantined("task_b.md"))
	assert.Equal(t, OutcomeSkipped, h.process(t, "task_b.md").Outcome)
}

func TestLexiconClassifier(t *testing.T) {
	t.Parallel()

	c := NewLexiconClassifier()
	tests := []struct {
		text string
		want Risk
	}{
		{"Review the file", RiskSafe},
		{"log the event", RiskSafe},
		{"archive", RiskSafe},
		{"delete staging data", RiskRisky},
		{"Send email to the client", RiskRisky},
		{"Post on LinkedIn", RiskRisky},
		{"Deploy to PRODUCTION", RiskRisky},
		{"Send invoice send reminder", RiskRisky},
		{"Check the blog_post draft", RiskSafe},
		{"Predelete check", RiskSafe},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, reason := c.Classify(tt.text)
			assert.Equal(t, tt.want, got)
			if tt.want == RiskRisky {
				assert.Contains(t, reason, "matched risk keyword")
			} else {
				assert.Empty(t, reason)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want Category
	}{
		{"Open and review the contents", CategoryReview},
		{"Log the event", CategoryLog},
		{"Write a note", CategoryLog},
		{"archive", CategoryArchive},
		{"Move to Done", CategoryArchive},
		{"Decide what action is needed", CategoryDefault},
		{"Review and record", CategoryReview},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.text), tt.text)
	}
}

func TestCategoryRouter(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "actions.log")
	r := NewCategoryRouter(logging.NewActivityLog(path, "ralph-loop"))
	ctx := context.Background()

	out, err := r.Execute(ctx, Action{TaskID: "t.md", Text: "Log the event"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "LOGGED:"))
	assert.Contains(t, testutil.ReadFile(t, path), "LOG_STEP")

	out, err = r.Execute(ctx, Action{Text: "Decide"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "EXECUTED:"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Execute(cancelled, Action{Text: "Review"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProgressHelpers(t *testing.T) {
	t.Parallel()

	content := testutil.TaskDocument(testutil.NumberedSteps(7)...)
	content, err := vault.MarkStep(content, 0, vault.MarkDone, "", time.Now())
	require.NoError(t, err)
	steps := vault.ParseSteps(content)

	resolved, total := CalculateProgress(steps)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 7, total)
	assert.Equal(t, 2, VisitsRemaining(steps, 5))
	assert.Zero(t, VisitsRemaining(steps, 0))
}

func TestExcerptAndTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", excerpt("short", 800))
	assert.Len(t, excerpt(strings.Repeat("a", 900), 800), 800)
	// Multi-byte runes are never split.
	assert.Equal(t, "ab", excerpt("abé", 3))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
}
