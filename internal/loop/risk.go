package loop

import (
	"fmt"
	"regexp"
	"strings"
)

// Risk is the classification of a single step.
type Risk int

const (
	RiskSafe  Risk = iota // Executed without review
	RiskRisky             // Requires human approval first
)

// String returns a human-readable name for the risk class.
func (r Risk) String() string {
	if r == RiskRisky {
		return "risky"
	}
	return "safe"
}

// RiskClassifier decides whether a step needs approval. The returned reason
// is shown to the reviewer.
type RiskClassifier interface {
	Classify(stepText string) (Risk, string)
}

// DefaultRiskPattern matches steps that are irreversible or externally
// visible: deletions, outbound messages, publishing, production changes and
// payments.
var DefaultRiskPattern = regexp.MustCompile(`(?i)\b(` +
	`delete|remove|drop|destroy|wipe|truncate` +
	`|send\s+email|email\s+to|notify|message` +
	`|post|publish|deploy|release|push` +
	`|overwrite|reset|clear` +
	`|linkedin|twitter|social\s+media` +
	`|production|live\s+server|external` +
	`|payment|charge|billing|invoice\s+send` +
	`)\b`)

// LexiconClassifier flags a step as risky when its text matches Pattern.
type LexiconClassifier struct {
	Pattern *regexp.Regexp
}

// NewLexiconClassifier returns a classifier using DefaultRiskPattern.
func NewLexiconClassifier() *LexiconClassifier {
	return &LexiconClassifier{Pattern: DefaultRiskPattern}
}

// Classify implements RiskClassifier.
func (c *LexiconClassifier) Classify(stepText string) (Risk, string) {
	pattern := c.Pattern
	if pattern == nil {
		pattern = DefaultRiskPattern
	}
	match := pattern.FindString(stepText)
	if match == "" {
		return RiskSafe, ""
	}
	return RiskRisky, fmt.Sprintf("matched risk keyword %q", strings.ToLower(match))
}
