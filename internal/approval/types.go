package approval

import (
	"errors"
	"time"
)

// Decision is the resolution state of an approval request.
type Decision int

const (
	DecisionPending  Decision = iota
	DecisionApproved          // Reviewer wrote APPROVED
	DecisionRejected          // Reviewer wrote REJECTED, or the request vanished
	DecisionTimedOut          // Deadline passed without a decision
)

// String returns the decision name used in front-matter and logs.
func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "approved"
	case DecisionRejected:
		return "rejected"
	case DecisionTimedOut:
		return "timeout"
	default:
		return "pending"
	}
}

// Resolved reports whether the decision is final.
func (d Decision) Resolved() bool {
	return d != DecisionPending
}

// Suffix returns the file-name suffix that marks a resolved request.
func (d Decision) Suffix() string {
	if !d.Resolved() {
		return ""
	}
	return "." + d.String()
}

// resolvedDecisions lists resolved decisions in marker precedence order.
var resolvedDecisions = []Decision{DecisionApproved, DecisionRejected, DecisionTimedOut}

// ErrUnknownRequest is returned for refs that are not approval requests.
var ErrUnknownRequest = errors.New("unknown approval request")

// Request is a parsed approval request.
type Request struct {
	ID          string // request file name (the ref)
	UUID        string // stable identifier written at submission
	TaskID      string
	StepIndex   int
	StepText    string
	RequestedAt time.Time
	Deadline    time.Time
	Decision    Decision
	ResolvedAt  time.Time
}

// Submission describes a risky step that needs sign-off.
type Submission struct {
	TaskID    string
	StepIndex int
	StepText  string
	Reason    string // why the step was flagged
	Context   string // excerpt of the task document
}

// SweepSummary counts the requests a sweep resolved.
type SweepSummary struct {
	Pending  int
	Approved int
	Rejected int
	TimedOut int
}

func (s *SweepSummary) add(d Decision) {
	switch d {
	case DecisionApproved:
		s.Approved++
	case DecisionRejected:
		s.Rejected++
	case DecisionTimedOut:
		s.TimedOut++
	default:
		s.Pending++
	}
}
