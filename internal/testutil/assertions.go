package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thruflo/vaultloop/internal/state"
	"github.com/thruflo/vaultloop/internal/vault"
)

// AssertTaskStatus asserts that the stored record for id has status.
func AssertTaskStatus(t *testing.T, store *state.Store, id string, status state.TaskStatus) *state.TaskRecord {
	t.Helper()
	rec, err := store.Get(id)
	require.NoError(t, err)
	require.NotNil(t, rec, "no record for %s", id)
	assert.Equal(t, status, rec.Status, "status mismatch for %s", id)
	return rec
}

// AssertStepMarks asserts the checklist marks of the document at path. Each
// mark is ' ', 'x' or '-'.
func AssertStepMarks(t *testing.T, path string, marks ...rune) {
	t.Helper()
	doc, err := vault.Load(path)
	require.NoError(t, err)
	steps := doc.Steps()
	require.Len(t, steps, len(marks), "step count mismatch")

	for i, want := range marks {
		got := ' '
		switch {
		case steps[i].Done:
			got = vault.MarkDone
		case steps[i].Skipped:
			got = vault.MarkSkipped
		}
		assert.Equal(t, string(want), string(got), "step %d mark mismatch", i+1)
	}
}

// AssertInDir asserts that dir contains name.
func AssertInDir(t *testing.T, dir, name string) {
	t.Helper()
	assert.FileExists(t, filepath.Join(dir, name))
}

// AssertNotInDir asserts that dir does not contain name.
func AssertNotInDir(t *testing.T, dir, name string) {
	t.Helper()
	assert.NoFileExists(t, filepath.Join(dir, name))
}
