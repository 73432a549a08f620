package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thruflo/vaultloop/internal/recovery"
)

var quarantineReason string

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run stuck detection and the retry sweep",
	Long: `Quarantines items that sat in Needs_Action/ longer than the stuck
threshold, moves due items from Errors/ back into the queue and marks items
that reached the retry ceiling as exhausted.`,
	Args: cobra.NoArgs,
	RunE: runRecover,
}

var quarantineCmd = &cobra.Command{
	Use:   "quarantine <task>",
	Short: "Report a task as failed and move it to Errors/",
	Long: `Quarantines a queue item as if it had failed. The item is retried
after the retry delay; repeated failures exhaust it.

Example:
  vaultloop quarantine task_report_txt.md --reason "source file unreadable"`,
	Args: cobra.ExactArgs(1),
	RunE: runQuarantine,
}

func init() {
	quarantineCmd.Flags().StringVar(&quarantineReason, "reason", "reported failure", "reason recorded in errors.log")
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(quarantineCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openScheduler(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	summary, err := s.Recover(commandContext(cmd))
	if err != nil {
		return err
	}
	fmt.Printf("quarantined=%d retried=%d exhausted=%d dropped=%d\n",
		summary.Quarantined, summary.Retried, summary.Exhausted, summary.Dropped)
	fmt.Printf("in quarantine: %d, exhausted total: %d\n", summary.InQuarantine, summary.ExhaustedAll)
	return nil
}

func runQuarantine(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openScheduler(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	attempt, err := s.Quarantine(args[0], quarantineReason)
	if errors.Is(err, recovery.ErrNotFound) {
		fmt.Printf("%s not found in Needs_Action; failure logged only.\n", args[0])
		return nil
	}
	if err != nil {
		return err
	}

	maxRetries := s.Config().Recovery.MaxRetries
	if attempt >= maxRetries {
		fmt.Printf("%s exhausted after %d attempts; manual review required.\n", args[0], attempt)
		return nil
	}
	fmt.Printf("%s quarantined (attempt %d/%d).\n", args[0], attempt, maxRetries)
	return nil
}
