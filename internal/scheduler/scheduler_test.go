package scheduler

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/thruflo/vaultloop/internal/config"
	"github.com/thruflo/vaultloop/internal/loop"
	"github.com/thruflo/vaultloop/internal/state"
	"github.com/thruflo/vaultloop/internal/telemetry"
	"github.com/thruflo/vaultloop/internal/testutil"
	"github.com/thruflo/vaultloop/internal/vault"
)

// fakeClock reports wall time but never blocks in Sleep.
type fakeClock struct {
	mu      sync.Mutex
	sleeps  int
	onSleep func(n int)
}

func (c *fakeClock) Now() time.Time { return time.Now() }

func (c *fakeClock) Sleep(time.Duration) {
	c.mu.Lock()
	c.sleeps++
	n := c.sleeps
	c.mu.Unlock()
	if c.onSleep != nil {
		c.onSleep(n)
	}
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

func newScheduler(t *testing.T, cfg config.Config, opts Options) (*Scheduler, config.Layout) {
	t.Helper()
	layout, _ := testutil.SetupVault(t)
	if opts.Clock == nil {
		opts.Clock = &fakeClock{}
	}
	if opts.Alive == nil {
		opts.Alive = func(int) bool { return false }
	}
	return New(cfg, layout, opts), layout
}

// snapshotTree maps every file under root to its contents.
func snapshotTree(t *testing.T, root string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		files[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func decide(t *testing.T, layout config.Layout, ref, word string) {
	t.Helper()
	path := filepath.Join(layout.NeedsApproval, ref)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, []byte(word+"\n")...), 0o644))
}

func TestRunOnce_InboxToDone(t *testing.T) {
	t.Parallel()

	s, layout := newScheduler(t, config.DefaultConfig(), Options{})
	require.NoError(t, os.WriteFile(filepath.Join(layout.Inbox, "report.txt"), []byte("q3 numbers"), 0o644))

	ctx, cancel := testutil.CycleContext(t)
	defer cancel()

	summary, err := s.RunOnce(ctx)
	require.NoError(t, err)

	task := vault.TaskName("report.txt")
	assert.Equal(t, []string{task}, summary.NewTasks)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, loop.OutcomeCompleted, summary.Results[0].Outcome)
	assert.Equal(t, 3, summary.Results[0].Executed)
	assert.False(t, summary.Interrupted)
	assert.NotEmpty(t, summary.ID)

	testutil.AssertNotInDir(t, layout.NeedsAction, task)
	testutil.AssertInDir(t, layout.Done, task)
	testutil.AssertTaskStatus(t, s.Store(), task, state.StatusCompleted)

	actions := testutil.ReadFile(t, layout.ActionsLog())
	assert.Contains(t, actions, "SCHEDULER_START")
	assert.Contains(t, actions, "CYCLE_START")
	assert.Contains(t, actions, "CYCLE_END")
	assert.Contains(t, actions, "SCHEDULER_STOP")
	assert.NoFileExists(t, layout.LockFile(), "lock released after the cycle")

	// A second cycle finds nothing new.
	summary, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.NewTasks)
	assert.Empty(t, summary.Results)
}

func TestRunOnce_LiveOwnerAbortsWithoutMutations(t *testing.T) {
	t.Parallel()

	s, layout := newScheduler(t, config.DefaultConfig(), Options{
		Alive: func(pid int) bool { return pid == 4242 },
	})
	owner, err := json.Marshal(state.LockInfo{OwnerID: "other", PID: 4242, Hostname: "elsewhere", AcquiredAt: time.Now().UTC()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(layout.LockFile(), owner, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(layout.Inbox, "report.txt"), []byte("x"), 0o644))
	testutil.WriteTask(t, layout, "task_a.md", testutil.TaskDocument("Review notes"))

	before := snapshotTree(t, layout.Root)

	_, err = s.RunOnce(context.Background())
	require.ErrorIs(t, err, state.ErrLocked)
	_, err = s.ProcessTask(context.Background(), "task_a.md")
	require.ErrorIs(t, err, state.ErrLocked)
	_, err = s.Recover(context.Background())
	require.ErrorIs(t, err, state.ErrLocked)
	_, err = s.RunContinuous(context.Background(), time.Minute, nil)
	require.ErrorIs(t, err, state.ErrLocked)

	assert.Equal(t, before, snapshotTree(t, layout.Root))
}

func TestRunOnce_ReclaimsStaleLock(t *testing.T) {
	t.Parallel()

	s, layout := newScheduler(t, config.DefaultConfig(), Options{})
	require.NoError(t, os.WriteFile(layout.LockFile(), []byte(`{"owner_id":"dead","pid":99999}`), 0o644))

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, layout.LockFile())
}

func TestRunOnce_CapsTasksPerCycle(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Limits.MaxTasks = 2
	s, layout := newScheduler(t, cfg, Options{})
	for _, name := range []string{"task_c.md", "task_a.md", "task_b.md"} {
		testutil.WriteTask(t, layout, name, testutil.TaskDocument("Review notes"))
	}
	// Not markdown, never eligible.
	testutil.WriteTask(t, layout, "scratch.txt", "x")

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, "task_a.md", summary.Results[0].TaskID)
	assert.Equal(t, "task_b.md", summary.Results[1].TaskID)
	testutil.AssertInDir(t, layout.NeedsAction, "task_c.md")

	rec, err := s.Store().Get("task_c.md")
	require.NoError(t, err)
	assert.Nil(t, rec)

	summary, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "task_c.md", summary.Results[0].TaskID)
}

func TestRunOnce_ApprovalAcrossCycles(t *testing.T) {
	t.Parallel()

	s, layout := newScheduler(t, config.DefaultConfig(), Options{})
	testutil.WriteTask(t, layout, "task_a.md",
		testutil.TaskDocument("log the event", "delete staging data", "archive"))

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	first := summary.Results[0]
	assert.Equal(t, loop.OutcomeAwaitingApproval, first.Outcome)
	require.NotEmpty(t, first.ApprovalRef)

	// Still pending: the next cycle leaves it alone.
	summary, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Approvals.Pending)
	assert.Equal(t, loop.OutcomeAwaitingApproval, summary.Results[0].Outcome)

	decide(t, layout, first.ApprovalRef, "APPROVED")
	summary, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Approvals.Approved)
	assert.Equal(t, loop.OutcomeCompleted, summary.Results[0].Outcome)
	testutil.AssertInDir(t, layout.Done, "task_a.md")
	testutil.AssertStepMarks(t, filepath.Join(layout.Done, "task_a.md"), 'x', 'x', 'x')
}

func TestRunOnce_CancelledBeforeTasks(t *testing.T) {
	t.Parallel()

	s, layout := newScheduler(t, config.DefaultConfig(), Options{})
	testutil.WriteTask(t, layout, "task_a.md", testutil.TaskDocument("Review notes"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Empty(t, summary.Results)
	testutil.AssertInDir(t, layout.NeedsAction, "task_a.md")
	assert.NoFileExists(t, layout.LockFile())
}

func TestRunOnce_RotatesLargeLogs(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Scheduler.MaxLogBytes = 64
	s, layout := newScheduler(t, cfg, Options{})
	require.NoError(t, os.WriteFile(layout.ActionsLog(), []byte(strings.Repeat("x", 128)+"\n"), 0o644))

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, summary.Rotated)
	assert.FileExists(t, summary.Rotated[0])
	assert.Contains(t, testutil.ReadFile(t, summary.Rotated[0]), "CYCLE_START")
	assert.Contains(t, testutil.ReadFile(t, layout.ActionsLog()), "CYCLE_END")
}

func TestRunOnce_RecordsSpans(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	provider := telemetry.NewWithProcessor(sdktrace.NewSimpleSpanProcessor(exporter), "vaultloop-test")
	defer provider.Shutdown(context.Background())

	s, layout := newScheduler(t, config.DefaultConfig(), Options{Telemetry: provider})
	testutil.WriteTask(t, layout, "task_a.md", testutil.TaskDocument("Review notes"))

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	task, cycle := spans[0], spans[1]
	assert.Equal(t, "loop.process", task.Name)
	assert.Equal(t, "scheduler.cycle", cycle.Name)
	assert.Equal(t, cycle.SpanContext.SpanID(), task.Parent.SpanID())

	attrs := make(map[string]string)
	for _, kv := range task.Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "task_a.md", attrs[string(telemetry.AttrTaskID)])
	assert.Equal(t, "completed", attrs[string(telemetry.AttrOutcome)])
}

func TestRunContinuous_StopsBetweenCycles(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	s, layout := newScheduler(t, config.DefaultConfig(), Options{Clock: clock})

	ctx, cancel := testutil.WatchContext(t)
	defer cancel()

	var seen []*CycleSummary
	// Below the minimum interval: clamped to ten one-second sleeps.
	cycles, err := s.RunContinuous(ctx, time.Second, func(c *CycleSummary) {
		seen = append(seen, c)
		if len(seen) == 2 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 2, cycles)
	assert.Len(t, seen, 2)
	assert.Equal(t, int(config.MinInterval/time.Second), clock.count())
	assert.NoFileExists(t, layout.LockFile())

	actions := testutil.ReadFile(t, layout.ActionsLog())
	assert.Contains(t, actions, "mode=continuous")
	assert.Contains(t, actions, "SCHEDULER_STOP")
}

func TestRunContinuous_CancelDuringSleep(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &fakeClock{onSleep: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	s, layout := newScheduler(t, config.DefaultConfig(), Options{Clock: clock})

	cycles, err := s.RunContinuous(ctx, time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cycles)
	assert.Equal(t, 3, clock.count())
	assert.NoFileExists(t, layout.LockFile())
}

func TestProcessTask(t *testing.T) {
	t.Parallel()

	s, layout := newScheduler(t, config.DefaultConfig(), Options{})
	testutil.WriteTask(t, layout, "task_a.md", testutil.TaskDocument(testutil.NumberedSteps(7)...))

	res, err := s.ProcessTask(context.Background(), "task_a.md")
	require.NoError(t, err)
	assert.Equal(t, loop.OutcomeMaxIterations, res.Outcome)
	assert.Equal(t, 5, res.Executed)

	res, err = s.ProcessTask(context.Background(), "task_a.md")
	require.NoError(t, err)
	assert.Equal(t, loop.OutcomeCompleted, res.Outcome)
	assert.NoFileExists(t, layout.LockFile())
}

func TestQuarantineRecoverAndReset(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Recovery.RetryDelay = 0
	s, layout := newScheduler(t, cfg, Options{})
	testutil.WriteTask(t, layout, "task_a.md", testutil.TaskDocument("Review notes"))

	attempt, err := s.Quarantine("task_a.md", "manual")
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)
	testutil.AssertNotInDir(t, layout.NeedsAction, "task_a.md")
	testutil.AssertTaskStatus(t, s.Store(), "task_a.md", state.StatusErrorQuarantined)

	summary, err := s.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retried)
	testutil.AssertInDir(t, layout.NeedsAction, "task_a.md")

	existed, err := s.Reset("task_a.md")
	require.NoError(t, err)
	assert.True(t, existed)
	rec, err := s.Store().Get("task_a.md")
	require.NoError(t, err)
	assert.Nil(t, rec)

	existed, err = s.Reset("task_a.md")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	s, layout := newScheduler(t, config.DefaultConfig(), Options{})
	testutil.WriteTask(t, layout, "task_a.md", testutil.TaskDocument("delete staging data"))
	testutil.WriteTask(t, layout, "task_b.md", testutil.TaskDocument("Review notes"))
	testutil.WriteTask(t, layout, "task_c.md", testutil.TaskDocument("Review notes"))

	_, err := s.ProcessTask(context.Background(), "task_a.md")
	require.NoError(t, err)
	_, err = s.Quarantine("task_c.md", "manual")
	require.NoError(t, err)

	report, err := s.Status()
	require.NoError(t, err)
	assert.Nil(t, report.Lock)
	assert.False(t, report.LockAlive)

	require.Len(t, report.Tasks, 2)
	assert.Equal(t, "task_a.md", report.Tasks[0].ID)
	assert.Equal(t, state.StatusAwaitingApproval, report.Tasks[0].Record.Status)
	assert.Equal(t, state.StatusErrorQuarantined, report.Tasks[1].Record.Status)
	assert.Equal(t, &Progress{Resolved: 0, Total: 1, VisitsLeft: 1}, report.Tasks[0].Progress)
	assert.Nil(t, report.Tasks[1].Progress, "quarantined documents are not in the queue")

	require.Len(t, report.PendingApprovals(), 1)
	assert.Equal(t, "task_a.md", report.PendingApprovals()[0].TaskID)

	require.Len(t, report.Quarantined, 1)
	q := report.Quarantined[0]
	assert.Equal(t, "task_c.md", q.TaskID)
	assert.False(t, q.Overdue())
	assert.InDelta(t, config.DefaultRecovery().RetryDelay.Seconds(), q.RetryIn.Seconds(), 5)
	assert.Empty(t, report.Exhausted)

	assert.Equal(t, 2, report.DirCounts[layout.NeedsAction])
	assert.Equal(t, 1, report.DirCounts[layout.Errors])
	assert.Equal(t, 1, report.DirCounts[layout.NeedsApproval])
}

func TestStatus_Progress(t *testing.T) {
	t.Parallel()

	s, layout := newScheduler(t, config.DefaultConfig(), Options{})
	testutil.WriteTask(t, layout, "task_a.md", testutil.TaskDocument(testutil.NumberedSteps(12)...))

	res, err := s.ProcessTask(context.Background(), "task_a.md")
	require.NoError(t, err)
	require.Equal(t, 5, res.Executed)

	report, err := s.Status()
	require.NoError(t, err)
	require.Len(t, report.Tasks, 1)
	assert.Equal(t, &Progress{Resolved: 5, Total: 12, VisitsLeft: 2}, report.Tasks[0].Progress)
}

func TestEligibleTasks_SkipsTerminal(t *testing.T) {
	t.Parallel()

	s, layout := newScheduler(t, config.DefaultConfig(), Options{})
	testutil.WriteTask(t, layout, "task_a.md", testutil.TaskDocument("Review notes"))
	testutil.WriteTask(t, layout, "task_b.md", testutil.TaskDocument("Review notes"))
	testutil.WriteTask(t, layout, ".hidden.md", testutil.TaskDocument("Review notes"))
	require.NoError(t, s.Store().Upsert("task_b.md", &state.TaskRecord{Status: state.StatusCompleted}))

	tasks, err := s.EligibleTasks()
	require.NoError(t, err)
	assert.Equal(t, []string{"task_a.md"}, tasks)
}

func TestRunOnce_ParkedTasksDoNotStarveQueue(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Limits.MaxTasks = 3
	s, layout := newScheduler(t, cfg, Options{})
	parked := []string{"a0.md", "a1.md", "a2.md"}
	for _, name := range parked {
		testutil.WriteTask(t, layout, name, testutil.TaskDocument("delete staging data"))
	}

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 3)
	for _, res := range summary.Results {
		assert.Equal(t, loop.OutcomeAwaitingApproval, res.Outcome, res.TaskID)
	}

	// A stale runnable task arrives behind the parked ones.
	path := testutil.WriteTask(t, layout, "z.md", testutil.TaskDocument("Review notes"))
	testutil.Age(t, path, 20*time.Minute)

	tasks, err := s.EligibleTasks()
	require.NoError(t, err)
	assert.Equal(t, []string{"z.md", "a0.md", "a1.md"}, tasks)

	summary, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, summary.Results)
	assert.Equal(t, "z.md", summary.Results[0].TaskID)
	assert.Equal(t, loop.OutcomeCompleted, summary.Results[0].Outcome)
	testutil.AssertInDir(t, layout.Done, "z.md")
	testutil.AssertNotInDir(t, layout.Errors, "z.md")
	testutil.AssertTaskStatus(t, s.Store(), "z.md", state.StatusCompleted)
	for _, name := range parked {
		testutil.AssertInDir(t, layout.NeedsAction, name)
	}
}

func TestRunOnce_StrayCopyOfFinishedTaskIsLeftAlone(t *testing.T) {
	t.Parallel()

	s, layout := newScheduler(t, config.DefaultConfig(), Options{})
	testutil.WriteTask(t, layout, "task_a.md", testutil.TaskDocument("Review notes"))
	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.Equal(t, loop.OutcomeCompleted, summary.Results[0].Outcome)

	// The same name shows up in the queue again and looks stuck.
	path := testutil.WriteTask(t, layout, "task_a.md", testutil.TaskDocument("Review notes"))
	testutil.Age(t, path, 20*time.Minute)

	summary, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Results)
	testutil.AssertInDir(t, layout.NeedsAction, "task_a.md")
	testutil.AssertNotInDir(t, layout.Errors, "task_a.md")
	rec := testutil.AssertTaskStatus(t, s.Store(), "task_a.md", state.StatusCompleted)
	assert.NotNil(t, rec.CompletedAt)
}
