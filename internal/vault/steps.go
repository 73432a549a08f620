package vault

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/thruflo/vaultloop/internal/logging"
)

// Step is one checklist item of a task document. It is recomputed from the
// document every time; the document is authoritative for completion.
type Step struct {
	Index   int
	Text    string
	Done    bool // checked "- [x]"
	Skipped bool // "- [-]": resolved without running, counts as done
	line    int
}

// Resolved reports whether the step needs no further work.
func (s Step) Resolved() bool {
	return s.Done || s.Skipped
}

// Checkbox marks.
const (
	MarkDone    = 'x'
	MarkSkipped = '-'
)

var (
	stepsHeadingRE = regexp.MustCompile(`^##\s+Steps?\s*$`)
	headingRE      = regexp.MustCompile(`^##\s`)
	checkboxRE     = regexp.MustCompile(`^(\s*-\s*)\[([ xX\-])\]\s*(.+)$`)
)

// stepsRange returns the [from, to) line range holding the checklist: the
// "## Steps" section when present, otherwise the whole document.
func stepsRange(lines []string) (int, int) {
	for i, ln := range lines {
		if !stepsHeadingRE.MatchString(strings.TrimRight(ln, " \t\r")) {
			continue
		}
		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if headingRE.MatchString(lines[j]) {
				end = j
				break
			}
		}
		return i + 1, end
	}
	return 0, len(lines)
}

// ParseSteps returns the checklist of content in document order.
func ParseSteps(content string) []Step {
	lines := strings.Split(content, "\n")
	from, to := stepsRange(lines)

	var steps []Step
	for i := from; i < to; i++ {
		m := checkboxRE.FindStringSubmatch(strings.TrimRight(lines[i], "\r"))
		if m == nil {
			continue
		}
		mark := strings.ToLower(m[2])
		steps = append(steps, Step{
			Index:   len(steps),
			Text:    strings.TrimSpace(m[3]),
			Done:    mark == "x",
			Skipped: mark == "-",
			line:    i,
		})
	}
	return steps
}

// CountResolved returns how many steps are done or skipped.
func CountResolved(steps []Step) int {
	n := 0
	for _, s := range steps {
		if s.Resolved() {
			n++
		}
	}
	return n
}

// FirstOpen returns the index of the first unresolved step, or len(steps).
func FirstOpen(steps []Step) int {
	for _, s := range steps {
		if !s.Resolved() {
			return s.Index
		}
	}
	return len(steps)
}

// MarkStep checks off step index with mark and appends a timestamped note
// below it. Marking an already resolved step is a no-op, so replays after a
// crash do not duplicate notes.
func MarkStep(content string, index int, mark rune, note string, at time.Time) (string, error) {
	steps := ParseSteps(content)
	if index < 0 || index >= len(steps) {
		return content, fmt.Errorf("step %d out of range (%d steps)", index, len(steps))
	}
	step := steps[index]
	if step.Resolved() {
		return content, nil
	}

	lines := strings.Split(content, "\n")
	m := checkboxRE.FindStringSubmatch(strings.TrimRight(lines[step.line], "\r"))
	replacement := []string{fmt.Sprintf("%s[%c] %s", m[1], mark, step.Text)}
	if note != "" {
		replacement = append(replacement, fmt.Sprintf("  > %s: %s", at.UTC().Format(logging.TimestampLayout), note))
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:step.line]...)
	out = append(out, replacement...)
	out = append(out, lines[step.line+1:]...)
	return strings.Join(out, "\n"), nil
}
