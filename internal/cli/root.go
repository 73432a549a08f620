package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/thruflo/vaultloop/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	vaultDir string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "vaultloop",
	Short: "Task lifecycle and recovery engine for a markdown vault",
	Long: `Vaultloop drives task documents in a markdown vault through their
checklists. Safe steps run automatically, risky steps wait for a human
decision in Needs_Approval/, and stuck items are quarantined to Errors/ and
retried with a bounded number of attempts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logging.SetLevel(level)
		return nil
	},
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("vaultloop version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&vaultDir, "vault", "", "vault root (default: $VAULTLOOP_VAULT or the current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// Execute runs the root command. Cancelling ctx stops long-running commands
// after the cycle in progress.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
