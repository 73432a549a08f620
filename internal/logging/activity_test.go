package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFormatActivity(t *testing.T) {
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	line := FormatActivity(at, "ralph-loop", "STEP_DONE", "task", "task_a.md", "step", 2)
	assert.Equal(t, "[2026-10-19 10:00:00 UTC] [ralph-loop  ] STEP_DONE | step=2 task=task_a.md", line)

	line = FormatActivity(at, "recovery", "SWEEP")
	assert.Equal(t, "[2026-10-19 10:00:00 UTC] [recovery    ] SWEEP", line)

	line = FormatActivity(at, "recovery", "QUARANTINE", "reason", "stuck for 20m", "err", errors.New("boom"))
	assert.Contains(t, line, `reason="stuck for 20m"`)
	assert.Contains(t, line, `err="boom"`)
}

func TestActivityLog_Record(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "Logs", "actions.log")
	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	log := NewActivityLog(path, "scheduler").WithClock(fixedClock(at))

	require.NoError(t, log.Record("CYCLE_START", "cycle", "c1"))
	require.NoError(t, log.Record("CYCLE_END", "cycle", "c1"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "CYCLE_START")
	assert.Contains(t, lines[1], "CYCLE_END")
	assert.Equal(t, path, log.Path())
}

func TestActivityLog_NilDiscards(t *testing.T) {
	t.Parallel()

	var log *ActivityLog
	assert.NoError(t, log.Record("ANYTHING"))
	assert.Equal(t, "", log.Path())
}

func TestRotateIfNeeded(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		archived, err := RotateIfNeeded(filepath.Join(t.TempDir(), "none.log"), 10, now)
		require.NoError(t, err)
		assert.Empty(t, archived)
	})

	t.Run("under limit", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "actions.log")
		require.NoError(t, os.WriteFile(path, []byte("small"), 0o644))

		archived, err := RotateIfNeeded(path, 10, now)
		require.NoError(t, err)
		assert.Empty(t, archived)
		assert.FileExists(t, path)
	})

	t.Run("over limit with collisions", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, "actions.log")
		big := []byte(strings.Repeat("x", 32))

		require.NoError(t, os.WriteFile(path, big, 0o644))
		archived, err := RotateIfNeeded(path, 10, now)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "actions_2026-10-19.log"), archived)
		assert.NoFileExists(t, path)

		require.NoError(t, os.WriteFile(path, big, 0o644))
		archived, err = RotateIfNeeded(path, 10, now)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "actions_2026-10-19_2.log"), archived)

		require.NoError(t, os.WriteFile(path, big, 0o644))
		archived, err = RotateIfNeeded(path, 10, now)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "actions_2026-10-19_3.log"), archived)
	})
}
