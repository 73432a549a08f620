package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/thruflo/vaultloop/internal/approval"
)

var approvalsInterval time.Duration

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and resolve approval requests",
	Long: `Approval requests live in Needs_Approval/. A reviewer writes APPROVED or
REJECTED under the request's "## Decision" heading; requests left undecided
past their deadline time out.`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests",
	Args:  cobra.NoArgs,
	RunE:  runApprovalsList,
}

var approvalsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Resolve decided and expired requests until interrupted",
	Long: `Polls Needs_Approval/ and marks each request approved, rejected or
timed out as soon as that is known. Safe to run alongside the scheduler; it
does not take the scheduler lock.`,
	Args: cobra.NoArgs,
	RunE: runApprovalsWatch,
}

func init() {
	approvalsWatchCmd.Flags().DurationVar(&approvalsInterval, "interval", 0, "poll interval (default: approval.poll_interval from config)")
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsWatchCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openScheduler(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	reqs, err := s.Gate().List()
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}
	if len(reqs) == 0 {
		fmt.Println("No approval requests.")
		return nil
	}

	now := time.Now()
	for _, req := range reqs {
		fmt.Printf("%-10s %s\n", req.Decision, req.ID)
		printField("Task", fmt.Sprintf("%s (step %d)", req.TaskID, req.StepIndex+1))
		printField("Step", req.StepText)
		if !req.Decision.Resolved() && !req.Deadline.IsZero() {
			printField("Deadline", formatDeadline(req.Deadline, now))
		}
	}
	return nil
}

func runApprovalsWatch(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openScheduler(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	interval := approvalsInterval
	if interval == 0 {
		interval = s.Config().Approval.PollInterval
	}

	fmt.Printf("Watching %s every %s (Ctrl+C to stop)\n", s.Gate().Dir(), interval)
	err = s.Gate().Watch(commandContext(cmd), interval, func(sum approval.SweepSummary) {
		if sum.Approved+sum.Rejected+sum.TimedOut == 0 {
			return
		}
		fmt.Printf("approved=%d rejected=%d timed_out=%d pending=%d\n",
			sum.Approved, sum.Rejected, sum.TimedOut, sum.Pending)
	})
	fmt.Println("Stopped.")
	return err
}

func formatDeadline(deadline, now time.Time) string {
	left := deadline.Sub(now)
	if left <= 0 {
		return fmt.Sprintf("%s (expired)", formatTime(deadline))
	}
	return fmt.Sprintf("%s (in %s)", formatTime(deadline), formatDuration(left))
}
