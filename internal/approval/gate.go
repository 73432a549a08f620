// Package approval implements the non-blocking human approval protocol for
// risky steps. A request is a markdown file in Needs_Approval/; a reviewer
// resolves it by writing APPROVED or REJECTED under its "## Decision"
// heading. Resolution is recorded by renaming the file with a decision
// suffix through a state.Marker, so the scheduler and an independent watcher
// agree on exactly one outcome.
package approval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/thruflo/vaultloop/internal/logging"
	"github.com/thruflo/vaultloop/internal/state"
	"github.com/thruflo/vaultloop/internal/vault"
)

// RequestType is the front-matter type of approval request files.
const RequestType = "approval_request"

// DefaultTimeout is used when Options.Timeout is zero.
const DefaultTimeout = time.Hour

// Options holds the dependencies of a Gate.
type Options struct {
	Dir      string        // Needs_Approval directory
	Timeout  time.Duration // Optional: defaults to DefaultTimeout
	Marker   state.Marker  // Optional: defaults to state.RenameMarker
	Now      func() time.Time
	Activity *logging.ActivityLog
	Logger   *logging.Logger
}

// Gate creates and resolves approval requests.
type Gate struct {
	dir      string
	timeout  time.Duration
	marker   state.Marker
	now      func() time.Time
	activity *logging.ActivityLog
	logger   *logging.Logger
}

// NewGate creates a Gate.
func NewGate(opts Options) *Gate {
	g := &Gate{
		dir:      opts.Dir,
		timeout:  opts.Timeout,
		marker:   opts.Marker,
		now:      opts.Now,
		activity: opts.Activity,
		logger:   opts.Logger,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.marker == nil {
		g.marker = state.RenameMarker{}
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.logger == nil {
		g.logger = logging.For(logging.ComponentApproval)
	}
	return g
}

// Dir returns the directory holding requests.
func (g *Gate) Dir() string {
	return g.dir
}

func (g *Gate) path(ref string) string {
	return filepath.Join(g.dir, filepath.Base(ref))
}

// Submit writes a new pending request and returns its ref. Submit never
// blocks waiting for a decision.
func (g *Gate) Submit(ctx context.Context, sub Submission) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create approval directory: %w", err)
	}

	now := g.now().UTC()
	name := fmt.Sprintf("ralph_approval_%s_step%d_%s.md",
		vault.SafeName(sub.TaskID), sub.StepIndex+1, now.Format("20060102_150405"))
	path := state.UniquePath(g.dir, name, now)
	ref := filepath.Base(path)

	content := renderRequest(uuid.NewString(), sub, now, now.Add(g.timeout))
	if err := state.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write approval request: %w", err)
	}

	g.record("APPROVAL_SUBMITTED", "ref", ref, "task", sub.TaskID, "step", sub.StepIndex+1)
	return ref, nil
}

func renderRequest(id string, sub Submission, requested, deadline time.Time) string {
	var sb strings.Builder
	sb.WriteString("---\n")
	for _, f := range []vault.Field{
		{Key: "type", Value: RequestType},
		{Key: "id", Value: id},
		{Key: "status", Value: "pending_approval"},
		{Key: "requested_at", Value: requested.Format(logging.TimestampLayout)},
		{Key: "timeout_at", Value: deadline.Format(logging.TimestampLayout)},
		{Key: "task_id", Value: sub.TaskID},
		{Key: "step_index", Value: fmt.Sprint(sub.StepIndex)},
		{Key: "step_number", Value: fmt.Sprint(sub.StepIndex + 1)},
		{Key: "step_text", Value: sub.StepText},
	} {
		sb.WriteString(vault.FormatField(f))
		sb.WriteString("\n")
	}
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "# Approval Request: Risky Step Detected\n\n")
	fmt.Fprintf(&sb, "**Task:** `%s`\n", sub.TaskID)
	fmt.Fprintf(&sb, "**Step %d:** %s\n", sub.StepIndex+1, sub.StepText)
	fmt.Fprintf(&sb, "**Expires:** %s\n\n", deadline.Format(logging.TimestampLayout))

	sb.WriteString("## Why Approval Is Needed\n\n")
	fmt.Fprintf(&sb, "> **%s**\n\n", sub.StepText)
	if sub.Reason != "" {
		fmt.Fprintf(&sb, "Flagged because: %s\n\n", sub.Reason)
	}

	if excerpt := strings.TrimRight(sub.Context, "\n "); excerpt != "" {
		sb.WriteString("## Task Context\n\n```\n")
		sb.WriteString(excerpt)
		sb.WriteString("\n```\n\n")
	}

	sb.WriteString("## Decision\n\n")
	sb.WriteString("<!-- Write your decision below this line, then save the file. -->\n")
	sb.WriteString("<!-- Type APPROVED to allow execution, or REJECTED to skip this step. -->\n\n")
	return sb.String()
}

var (
	decisionHeadingRE = regexp.MustCompile(`(?m)^##\s+Decision\s*$`)
	htmlCommentRE     = regexp.MustCompile(`(?s)<!--.*?-->`)
	approvedRE        = regexp.MustCompile(`(?i)\bAPPROVED\b`)
	rejectedRE        = regexp.MustCompile(`(?i)\bREJECTED\b`)
)

// ParseDecision reads the reviewer's decision from a request document. Only
// text below the last "## Decision" heading counts, with HTML comments
// removed.
func ParseDecision(content string) Decision {
	locs := decisionHeadingRE.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return DecisionPending
	}
	text := htmlCommentRE.ReplaceAllString(content[locs[len(locs)-1][1]:], "")
	switch {
	case approvedRE.MatchString(text):
		return DecisionApproved
	case rejectedRE.MatchString(text):
		return DecisionRejected
	default:
		return DecisionPending
	}
}

// Outcome returns the decision for ref without blocking. A reviewer decision
// or an elapsed deadline is recorded the first time it is observed. A
// request that has disappeared without a decision marker is treated as
// rejected, so a risky step never runs without an explicit approval.
func (g *Gate) Outcome(ref string) (Decision, error) {
	return g.resolve(filepath.Base(ref))
}

// resolve is the single resolution routine shared by Outcome and Sweep.
func (g *Gate) resolve(ref string) (Decision, error) {
	if d, ok := g.markedDecision(ref); ok {
		return d, nil
	}

	path := g.path(ref)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return DecisionPending, fmt.Errorf("failed to read approval request: %w", err)
		}
		// It may have been marked between the two checks.
		if d, ok := g.markedDecision(ref); ok {
			return d, nil
		}
		g.logger.Warn("approval request vanished without a decision, treating as rejected", "ref", ref)
		return DecisionRejected, nil
	}

	content := string(data)
	decision := ParseDecision(content)
	if !decision.Resolved() {
		if g.now().Before(g.deadline(content, path)) {
			return DecisionPending, nil
		}
		decision = DecisionTimedOut
	}

	won, err := g.marker.Mark(path, path+decision.Suffix())
	if err != nil {
		return DecisionPending, err
	}
	if !won {
		if d, ok := g.markedDecision(ref); ok {
			return d, nil
		}
		return DecisionRejected, nil
	}

	g.stampResolution(path+decision.Suffix(), content, decision)
	g.record("APPROVAL_"+strings.ToUpper(decision.String()), "ref", ref)
	return decision, nil
}

// stampResolution updates the front-matter of a file this gate just marked.
// Failure only loses the cosmetic status; the marker already holds the
// decision.
func (g *Gate) stampResolution(path, content string, d Decision) {
	updated := vault.SetFields(content,
		vault.Field{Key: "status", Value: d.String()},
		vault.Field{Key: "resolved_at", Value: g.now().UTC().Format(logging.TimestampLayout)},
	)
	if err := state.WriteFileAtomic(path, []byte(updated), 0o644); err != nil {
		g.logger.Warn("failed to stamp approval resolution", "path", path, "error", err)
	}
}

func (g *Gate) markedDecision(ref string) (Decision, bool) {
	path := g.path(ref)
	for _, d := range resolvedDecisions {
		if _, err := os.Stat(path + d.Suffix()); err == nil {
			return d, true
		}
	}
	return DecisionPending, false
}

// deadline reads timeout_at, falling back to requested_at plus the gate
// timeout and finally to the file's modification time plus the timeout.
func (g *Gate) deadline(content, path string) time.Time {
	meta := vault.ParseMeta(content)
	if t, err := time.Parse(logging.TimestampLayout, meta.Get("timeout_at")); err == nil {
		return t
	}
	if t, err := time.Parse(logging.TimestampLayout, meta.Get("requested_at")); err == nil {
		return t.Add(g.timeout)
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime().Add(g.timeout)
	}
	return g.now()
}

// Get returns the parsed request for ref, resolved or not.
func (g *Gate) Get(ref string) (*Request, error) {
	ref = filepath.Base(ref)
	path := g.path(ref)
	decision := DecisionPending
	if d, ok := g.markedDecision(ref); ok {
		decision = d
		path += d.Suffix()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, ref)
		}
		return nil, fmt.Errorf("failed to read approval request: %w", err)
	}
	return parseRequest(ref, string(data), decision), nil
}

func parseRequest(ref, content string, d Decision) *Request {
	meta := vault.ParseMeta(content)
	req := &Request{
		ID:        ref,
		UUID:      meta.Get("id"),
		TaskID:    meta.Get("task_id"),
		StepIndex: meta.Int("step_index", meta.Int("step_number", 1)-1),
		StepText:  meta.Get("step_text"),
		Decision:  d,
	}
	if req.TaskID == "" {
		req.TaskID = meta.Get("source_file")
	}
	req.RequestedAt, _ = time.Parse(logging.TimestampLayout, meta.Get("requested_at"))
	req.Deadline, _ = time.Parse(logging.TimestampLayout, meta.Get("timeout_at"))
	req.ResolvedAt, _ = time.Parse(logging.TimestampLayout, meta.Get("resolved_at"))
	return req
}

// List returns every request in the directory, pending ones first, each
// group ordered by ref.
func (g *Gate) List() ([]*Request, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read approval directory: %w", err)
	}

	var reqs []*Request
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ref, decision := splitRef(e.Name())
		if ref == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(g.dir, e.Name()))
		if err != nil {
			continue
		}
		if decision == DecisionPending && vault.ParseMeta(string(data)).Get("type") != RequestType {
			continue
		}
		reqs = append(reqs, parseRequest(ref, string(data), decision))
	}

	sort.Slice(reqs, func(i, j int) bool {
		pi, pj := !reqs[i].Decision.Resolved(), !reqs[j].Decision.Resolved()
		if pi != pj {
			return pi
		}
		return reqs[i].ID < reqs[j].ID
	})
	return reqs, nil
}

// splitRef maps a directory entry to its ref and decision. Non-markdown
// entries yield an empty ref.
func splitRef(name string) (string, Decision) {
	for _, d := range resolvedDecisions {
		if strings.HasSuffix(name, ".md"+d.Suffix()) {
			return strings.TrimSuffix(name, d.Suffix()), d
		}
	}
	if strings.HasSuffix(name, ".md") {
		return name, DecisionPending
	}
	return "", DecisionPending
}

// Sweep resolves every pending request that has a decision or has expired.
func (g *Gate) Sweep(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary
	reqs, err := g.List()
	if err != nil {
		return summary, err
	}
	for _, req := range reqs {
		if req.Decision.Resolved() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		d, err := g.resolve(req.ID)
		if err != nil {
			g.logger.Warn("failed to resolve approval request", "ref", req.ID, "error", err)
			continue
		}
		summary.add(d)
	}
	return summary, nil
}

// Watch sweeps every interval until ctx is cancelled. It is the standalone
// watcher mode and may run alongside the scheduler.
func (g *Gate) Watch(ctx context.Context, interval time.Duration, onSweep func(SweepSummary)) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary, err := g.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			g.logger.Warn("approval sweep failed", "error", err)
		}
		if onSweep != nil {
			onSweep(summary)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (g *Gate) record(event string, keyVals ...interface{}) {
	if err := g.activity.Record(event, keyVals...); err != nil {
		g.logger.Warn("failed to record activity", "event", event, "error", err)
	}
}
