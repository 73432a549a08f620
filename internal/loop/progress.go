package loop

import "github.com/thruflo/vaultloop/internal/vault"

// CalculateProgress returns the number of resolved steps and total steps.
func CalculateProgress(steps []vault.Step) (resolved, total int) {
	return vault.CountResolved(steps), len(steps)
}

// VisitsRemaining estimates how many more visits a task needs to finish its
// open steps at maxIter steps per visit. Approval waits are not counted.
func VisitsRemaining(steps []vault.Step, maxIter int) int {
	if maxIter <= 0 {
		return 0
	}
	open := len(steps) - vault.CountResolved(steps)
	return (open + maxIter - 1) / maxIter
}
