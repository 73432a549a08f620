package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/thruflo/vaultloop/internal/config"
	"github.com/thruflo/vaultloop/internal/logging"
	"github.com/thruflo/vaultloop/internal/scheduler"
	"github.com/thruflo/vaultloop/internal/telemetry"
)

// EnvVault names the vault root when --vault is not given.
const EnvVault = "VAULTLOOP_VAULT"

// schedulerOptions is passed to every scheduler the commands build.
// It can be overridden in tests.
var schedulerOptions scheduler.Options

var cliLogger = logging.For(logging.ComponentCLI)

// resolveVault returns the absolute vault root.
func resolveVault() (string, error) {
	dir := vaultDir
	if dir == "" {
		dir = os.Getenv(EnvVault)
	}
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve vault path: %w", err)
	}
	return abs, nil
}

// openScheduler loads the vault configuration and wires a scheduler. The
// returned func flushes telemetry and must be called when the command ends.
func openScheduler(cmd *cobra.Command) (*scheduler.Scheduler, func(), error) {
	root, err := resolveVault()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	opts := schedulerOptions
	if opts.Telemetry == nil {
		provider, err := telemetry.Setup(commandContext(cmd), os.Getenv)
		if err != nil {
			cliLogger.Warn("tracing disabled", "error", err)
		}
		opts.Telemetry = provider
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opts.Telemetry.Shutdown(ctx); err != nil {
			cliLogger.Warn("failed to flush traces", "error", err)
		}
	}

	return scheduler.New(*cfg, config.NewLayout(root), opts), closeFn, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
