package testutil

import (
	"fmt"
	"strings"
)

// TaskDocument returns a file_review task document with one open checkbox
// per step.
func TaskDocument(steps ...string) string {
	return TaskDocumentWithType("file_review", steps...)
}

// TaskDocumentWithType returns a task document with the given type.
func TaskDocumentWithType(docType string, steps ...string) string {
	var sb strings.Builder
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "type: %s\n", docType)
	sb.WriteString("priority: medium\n")
	sb.WriteString("status: pending\n")
	sb.WriteString("created_at: 2026-10-19 09:00:00 UTC\n")
	sb.WriteString("---\n\n")
	sb.WriteString("# Task\n\n")
	sb.WriteString("Sample task used in tests.\n\n")
	sb.WriteString("## Steps\n\n")
	for _, s := range steps {
		fmt.Fprintf(&sb, "- [ ] %s\n", s)
	}
	sb.WriteString("\n## Notes\n\n- [ ] not a step\n")
	return sb.String()
}

// SampleSteps returns the default steps intake gives a new inbox file.
func SampleSteps() []string {
	return []string{
		"Open and review the contents of `report.txt`",
		"Decide what action is needed",
		"Complete processing and move to Done",
	}
}

// NumberedSteps returns n steps that the default classifier treats as safe.
func NumberedSteps(n int) []string {
	steps := make([]string, n)
	for i := range steps {
		steps[i] = fmt.Sprintf("Review section %d", i+1)
	}
	return steps
}
