package loop

import (
	"context"
	"fmt"
	"regexp"

	"github.com/thruflo/vaultloop/internal/logging"
)

// Action is one step handed to an ActionRouter.
type Action struct {
	TaskID    string
	StepIndex int
	Text      string
	Approved  bool // The step passed the approval gate
}

// ActionRouter executes a step and returns a short result note that is
// written under the step in the task document.
type ActionRouter interface {
	Execute(ctx context.Context, action Action) (string, error)
}

// RouterFunc adapts a function to ActionRouter.
type RouterFunc func(ctx context.Context, action Action) (string, error)

// Execute calls f.
func (f RouterFunc) Execute(ctx context.Context, action Action) (string, error) {
	return f(ctx, action)
}

// Category is the kind of work a step describes.
type Category int

const (
	CategoryDefault Category = iota
	CategoryReview
	CategoryLog
	CategoryArchive
)

func (c Category) String() string {
	switch c {
	case CategoryReview:
		return "review"
	case CategoryLog:
		return "log"
	case CategoryArchive:
		return "archive"
	default:
		return "default"
	}
}

var (
	reviewRE  = regexp.MustCompile(`(?i)\b(read|review|open|examine|analy[sz]e|check|verify|confirm|inspect)\b`)
	logRE     = regexp.MustCompile(`(?i)\b(log|record|note|document|track|write)\b`)
	archiveRE = regexp.MustCompile(`(?i)\b(archive|complete|finish|close|done|mark\s+complete|move\s+to\s+done)\b`)
)

// Categorize picks the category for a step. Review wins over log, log over
// archive.
func Categorize(text string) Category {
	switch {
	case reviewRE.MatchString(text):
		return CategoryReview
	case logRE.MatchString(text):
		return CategoryLog
	case archiveRE.MatchString(text):
		return CategoryArchive
	default:
		return CategoryDefault
	}
}

// CategoryRouter is the default ActionRouter. Log steps are recorded in the
// activity log; the other categories are acknowledged.
type CategoryRouter struct {
	activity *logging.ActivityLog
}

// NewCategoryRouter creates a CategoryRouter recording log steps to activity.
func NewCategoryRouter(activity *logging.ActivityLog) *CategoryRouter {
	return &CategoryRouter{activity: activity}
}

// Execute implements ActionRouter.
func (r *CategoryRouter) Execute(ctx context.Context, action Action) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch Categorize(action.Text) {
	case CategoryReview:
		return "REVIEWED: acknowledged by autonomous agent", nil
	case CategoryLog:
		if err := r.activity.Record("LOG_STEP", "task", action.TaskID, "message", action.Text); err != nil {
			return "", fmt.Errorf("failed to record log step: %w", err)
		}
		return "LOGGED: activity recorded to actions.log", nil
	case CategoryArchive:
		return "ACKNOWLEDGED: completion step noted, task will be archived on finish", nil
	default:
		return "EXECUTED: step processed by autonomous agent", nil
	}
}
