package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/thruflo/vaultloop/internal/scheduler"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	Long: `Shows scheduler liveness, queue sizes, task progress, pending approvals,
quarantined items with their retry time and exhausted items.

Reads only; takes no lock.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, closeFn, err := openScheduler(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := s.Status()
	if err != nil {
		return fmt.Errorf("failed to build status: %w", err)
	}
	printReport(s, report)
	return nil
}

func printReport(s *scheduler.Scheduler, r *scheduler.Report) {
	layout := s.Layout()
	now := r.GeneratedAt

	fmt.Println(styles.Title.Render("Vault " + layout.Root))
	fmt.Println()

	fmt.Println(styles.Section.Render("Scheduler"))
	switch {
	case r.Lock == nil:
		printField("Lock", styles.Muted.Render("not running"))
	case r.LockAlive:
		printField("Lock", styles.OK.Render(fmt.Sprintf("running (pid %d on %s since %s)",
			r.Lock.PID, r.Lock.Hostname, formatTime(r.Lock.AcquiredAt))))
	default:
		printField("Lock", styles.Warn.Render(fmt.Sprintf("stale (pid %d is gone)", r.Lock.PID)))
	}
	fmt.Println()

	fmt.Println(styles.Section.Render("Folders"))
	for _, dir := range layout.Dirs() {
		printField(filepath.Base(dir), fmt.Sprintf("%d", r.DirCounts[dir]))
	}
	fmt.Println()

	fmt.Println(styles.Section.Render("Tasks"))
	if len(r.Tasks) == 0 {
		fmt.Println("  " + styles.Empty.Render("no tracked tasks"))
	}
	for _, t := range r.Tasks {
		status := string(t.Record.Status)
		fmt.Printf("  %-40s %s  step %d/%d  iter %d\n", t.ID,
			statusStyle(status).Render(fmt.Sprintf("%-18s", status)),
			t.Record.CurrentStep, t.Record.TotalSteps, t.Record.Iterations)
		if p := t.Progress; p != nil {
			fmt.Printf("    %d/%d resolved, %d more visit(s)\n", p.Resolved, p.Total, p.VisitsLeft)
		}
		if t.Record.LastError != "" {
			fmt.Println("    " + styles.Danger.Render(t.Record.LastError))
		}
	}
	fmt.Println()

	pending := r.PendingApprovals()
	fmt.Println(styles.Section.Render(fmt.Sprintf("Pending approvals (%d)", len(pending))))
	for _, req := range pending {
		fmt.Printf("  %s\n", req.ID)
		fmt.Printf("    %s step %d: %s\n", req.TaskID, req.StepIndex+1, req.StepText)
		if !req.Deadline.IsZero() {
			fmt.Printf("    deadline %s\n", formatDeadline(req.Deadline, now))
		}
	}
	fmt.Println()

	maxRetries := s.Config().Recovery.MaxRetries
	fmt.Println(styles.Section.Render(fmt.Sprintf("Quarantine (%d)", len(r.Quarantined))))
	for _, q := range r.Quarantined {
		eta := styles.Warn.Render("OVERDUE")
		if !q.Overdue() {
			eta = fmt.Sprintf("retry in %ds", int(q.RetryIn.Round(time.Second)/time.Second))
		}
		fmt.Printf("  %-40s attempt %d/%d  %s\n", q.TaskID, q.Attempt, maxRetries, eta)
		fmt.Println("    " + styles.Muted.Render(q.Reason))
	}
	fmt.Println()

	fmt.Println(styles.Section.Render(fmt.Sprintf("Exhausted (%d)", len(r.Exhausted))))
	for _, e := range r.Exhausted {
		fmt.Printf("  %s  %s\n", styles.Danger.Render(e.TaskID),
			fmt.Sprintf("%d attempts, %s, manual review required", e.Attempts, e.ErrorsFile))
	}
}

func printField(label, value string) {
	fmt.Printf("  %-14s %s\n", label+":", value)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
