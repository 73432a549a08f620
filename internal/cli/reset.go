package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset <task>",
	Short: "Forget a task's progress record",
	Long: `Deletes the stored progress record for a task so its next visit starts
from the document's checklist. The document itself is not touched.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openScheduler(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	existed, err := s.Reset(args[0])
	if err != nil {
		return fmt.Errorf("failed to reset %s: %w", args[0], err)
	}
	if !existed {
		fmt.Printf("No record for %s.\n", args[0])
		return nil
	}
	fmt.Printf("Reset %s.\n", args[0])
	return nil
}
