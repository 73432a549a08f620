package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/thruflo/vaultloop/internal/config"
	"github.com/thruflo/vaultloop/internal/vault"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the vault directory structure",
	Long: `Creates the vault folders and default files.

This command sets up:
  - Inbox/, Needs_Action/, Needs_Approval/, Done/, Errors/, Plans/ and Logs/
  - .vaultloop/config.yaml with the default limits and recovery policy
  - Dashboard.md and Logs/System_Log.md with empty completion tables`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config.yaml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := resolveVault()
	if err != nil {
		return err
	}
	layout := config.NewLayout(root)

	for _, dir := range layout.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(layout.ConfigDir(), "config.yaml")
	if fileExists(configPath) && !initForce {
		fmt.Printf("Keeping existing %s (use --force to overwrite)\n", configPath)
	} else {
		cfg := config.DefaultConfig()
		if err := config.SaveConfig(root, &cfg); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	tables := []struct {
		path, title, header string
	}{
		{layout.Dashboard(), "Dashboard", vault.DashboardHeader},
		{layout.SystemLog(), "System Log", vault.SystemLogHeader},
	}
	for _, tbl := range tables {
		if fileExists(tbl.path) {
			continue
		}
		if err := os.WriteFile(tbl.path, []byte(ledgerDocument(tbl.title, tbl.header)), 0o644); err != nil {
			return fmt.Errorf("failed to create %s: %w", tbl.path, err)
		}
	}

	fmt.Printf("Initialized vault at %s\n", root)
	return nil
}

// ledgerDocument renders an empty completion table.
func ledgerDocument(title, header string) string {
	sep := "|" + strings.Repeat("---|", strings.Count(header, "|")-1)
	return fmt.Sprintf("# %s\n\n## Completed Tasks\n\n%s\n%s\n", title, header, sep)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
