package cli

import (
	"github.com/spf13/cobra"
	"github.com/thruflo/vaultloop/internal/loop"
)

var processCmd = &cobra.Command{
	Use:   "process <task>",
	Short: "Visit a single task under the scheduler lock",
	Long: `Runs the step executor once for the named task document in
Needs_Action/, without intake, approval sweep or recovery.

Example:
  vaultloop process task_report_txt.md`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openScheduler(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := s.ProcessTask(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	printResult(res)
	if res.Outcome == loop.OutcomeAwaitingApproval {
		printField("Approval", res.ApprovalRef)
	}
	return nil
}
