package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/thruflo/vaultloop/internal/loop"
	"github.com/thruflo/vaultloop/internal/scheduler"
)

var runInterval time.Duration

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run a single scheduler cycle",
	Long: `Runs one cycle: inbox intake, approval sweep, step execution over the
queue, stuck detection and retries, then log rotation.

Fails without touching the vault when another scheduler holds the lock.`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

var runContinuousCmd = &cobra.Command{
	Use:   "run-continuous",
	Short: "Run scheduler cycles until interrupted",
	Long: `Runs a cycle every --interval until SIGINT or SIGTERM. A cycle in
progress always finishes; the lock is released on exit.

Example:
  vaultloop run-continuous --interval 2m`,
	Args: cobra.NoArgs,
	RunE: runContinuous,
}

func init() {
	runContinuousCmd.Flags().DurationVar(&runInterval, "interval", 0, "time between cycles (default: scheduler.interval from config)")
	rootCmd.AddCommand(runOnceCmd)
	rootCmd.AddCommand(runContinuousCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openScheduler(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	summary, err := s.RunOnce(commandContext(cmd))
	if summary != nil {
		printCycle(summary)
	}
	return err
}

func runContinuous(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openScheduler(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	interval := runInterval
	if interval == 0 {
		interval = s.Config().Scheduler.Interval
	}

	fmt.Printf("Running every %s (Ctrl+C to stop)\n", interval)
	cycles, err := s.RunContinuous(commandContext(cmd), interval, printCycle)
	fmt.Printf("Stopped after %d cycle(s).\n", cycles)
	return err
}

// printCycle writes a one-line summary of a cycle followed by one line per
// task visited.
func printCycle(c *scheduler.CycleSummary) {
	parts := []string{
		fmt.Sprintf("new=%d", len(c.NewTasks)),
		fmt.Sprintf("processed=%d", len(c.Results)),
		fmt.Sprintf("completed=%d", c.Count(loop.OutcomeCompleted)),
		fmt.Sprintf("awaiting=%d", c.Count(loop.OutcomeAwaitingApproval)),
		fmt.Sprintf("quarantined=%d", c.Recovery.Quarantined),
		fmt.Sprintf("retried=%d", c.Recovery.Retried),
		fmt.Sprintf("exhausted=%d", c.Recovery.Exhausted),
	}
	fmt.Printf("Cycle %s: %s\n", shortID(c.ID), strings.Join(parts, " "))
	if c.Interrupted {
		fmt.Println("  interrupted before all tasks were visited")
	}
	for _, r := range c.Results {
		printResult(r)
	}
	for _, path := range c.Rotated {
		fmt.Printf("  rotated %s\n", path)
	}
}

func printResult(r loop.Result) {
	line := fmt.Sprintf("  %-40s %-18s %d/%d", r.TaskID, r.Outcome, r.CurrentStep, r.TotalSteps)
	if r.Message != "" {
		line += "  " + r.Message
	}
	fmt.Println(line)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
