package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thruflo/vaultloop/internal/config"
	"github.com/thruflo/vaultloop/internal/scheduler"
	"github.com/thruflo/vaultloop/internal/testutil"
)

func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

// fakeClock never blocks; onSleep runs on every Sleep call.
type fakeClock struct {
	onSleep func()
}

func (c *fakeClock) Now() time.Time { return time.Now() }

func (c *fakeClock) Sleep(time.Duration) {
	if c.onSleep != nil {
		c.onSleep()
	}
}

// setupVault points the commands at a fresh, initialized vault and restores
// the package globals when the test ends.
func setupVault(t *testing.T) config.Layout {
	t.Helper()

	root := t.TempDir()
	vaultDir = root
	schedulerOptions = scheduler.Options{Alive: func(int) bool { return false }}
	t.Cleanup(func() {
		vaultDir = ""
		schedulerOptions = scheduler.Options{}
		initForce = false
		runInterval = 0
		approvalsInterval = 0
		quarantineReason = "reported failure"
	})

	captureOutput(func() {
		require.NoError(t, runInit(initCmd, nil))
	})
	return config.NewLayout(root)
}

func writeTask(t *testing.T, layout config.Layout, name string, steps ...string) {
	t.Helper()
	testutil.WriteTask(t, layout, name, testutil.TaskDocument(steps...))
}

func writeInbox(t *testing.T, layout config.Layout, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(layout.Inbox, name), []byte("contents"), 0o644))
}
