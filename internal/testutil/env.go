package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thruflo/vaultloop/internal/config"
	"github.com/thruflo/vaultloop/internal/state"
)

// SetupVault creates a temporary vault with every directory in place, plus a
// task store at the usual location. The vault is removed when the test ends.
func SetupVault(t *testing.T) (config.Layout, *state.Store) {
	t.Helper()

	layout := config.NewLayout(t.TempDir())
	for _, dir := range layout.Dirs() {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	return layout, state.NewStore(layout.TaskState())
}

// WriteTask writes a task document into Needs_Action and returns its path.
func WriteTask(t *testing.T, layout config.Layout, name, content string) string {
	t.Helper()
	path := filepath.Join(layout.NeedsAction, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// Age sets the modification time of path to d in the past.
func Age(t *testing.T, path string, d time.Duration) {
	t.Helper()
	when := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(path, when, when))
}

// ReadFile returns the contents of path or fails the test.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
