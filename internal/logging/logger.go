// Package logging provides the leveled key/value logger used for operator
// diagnostics, plus the append-only activity logs and size-bounded rotation
// the engine keeps inside the vault.
//
// Both kinds of line share one layout: a padded component column, the
// message or event, then key=value fields in key order.
package logging

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// Component names. Diagnostics and activity lines from the same part of the
// engine carry the same name so they can be correlated.
const (
	ComponentScheduler = "scheduler"
	ComponentLoop      = "ralph-loop"
	ComponentApproval  = "approval"
	ComponentRecovery  = "recovery"
	ComponentIntake    = "intake"
	ComponentState     = "state"
	ComponentCLI       = "cli"
)

// ComponentKey is the field that selects a logger's component column.
const ComponentKey = "component"

// Level represents a log level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	// LevelWarn is the default: recoverable problems such as an activity
	// line that could not be written.
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel converts a case-insensitive level name, as given to --log-level,
// into a Level.
func ParseLevel(name string) (Level, error) {
	for level, n := range levelNames {
		if strings.EqualFold(n, name) {
			return level, nil
		}
	}
	return LevelWarn, fmt.Errorf("unknown log level %q", name)
}

// sink is shared by a logger and every logger derived from it, so a level
// set from the command line reaches components scoped before it.
type sink struct {
	mu       sync.RWMutex
	minLevel Level
	output   *log.Logger
}

// Logger writes leveled diagnostics to stderr:
//
//	WARN  [scheduler   ] failed to write activity log | error="disk full"
type Logger struct {
	sink      *sink
	component string
	fields    map[string]interface{}
}

var defaultLogger = New()

// New creates a Logger at LevelWarn writing to stderr.
func New() *Logger {
	return &Logger{sink: &sink{
		minLevel: LevelWarn,
		output:   log.New(os.Stderr, "", log.LstdFlags),
	}}
}

// SetLevel sets the minimum level for l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.minLevel = level
}

// SetOutput redirects l and every logger derived from it.
func (l *Logger) SetOutput(output *log.Logger) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = output
}

// With returns a derived Logger carrying one more field. The ComponentKey
// field replaces the component column instead.
func (l *Logger) With(key string, value interface{}) *Logger {
	child := &Logger{
		sink:      l.sink,
		component: l.component,
		fields:    make(map[string]interface{}, len(l.fields)+1),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	if key == ComponentKey {
		child.component = fmt.Sprint(value)
	} else {
		child.fields[key] = value
	}
	return child
}

// Component returns the name shown in l's component column.
func (l *Logger) Component() string { return l.component }

func (l *Logger) log(level Level, msg string, keyVals ...interface{}) {
	l.sink.mu.RLock()
	minLevel, output := l.sink.minLevel, l.sink.output
	l.sink.mu.RUnlock()
	if level < minLevel {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-5s ", levelNames[level])
	writeComponent(&sb, l.component)
	sb.WriteString(msg)
	writeFields(&sb, l.fields, keyVals)
	output.Print(sb.String())
}

func (l *Logger) Debug(msg string, keyVals ...interface{}) { l.log(LevelDebug, msg, keyVals...) }
func (l *Logger) Info(msg string, keyVals ...interface{})  { l.log(LevelInfo, msg, keyVals...) }
func (l *Logger) Warn(msg string, keyVals ...interface{})  { l.log(LevelWarn, msg, keyVals...) }
func (l *Logger) Error(msg string, keyVals ...interface{}) { l.log(LevelError, msg, keyVals...) }

// SetLevel sets the minimum level of the process-wide logger.
func SetLevel(level Level) { defaultLogger.SetLevel(level) }

// With derives from the process-wide logger. Components call
// With(ComponentKey, name) to get their scoped logger.
func With(key string, value interface{}) *Logger { return defaultLogger.With(key, value) }

// For is shorthand for With(ComponentKey, component).
func For(component string) *Logger { return defaultLogger.With(ComponentKey, component) }

// writeComponent writes the fixed-width component column. Lines without a
// component get no column.
func writeComponent(sb *strings.Builder, component string) {
	if component == "" {
		return
	}
	fmt.Fprintf(sb, "[%-12s] ", component)
}

// writeFields appends " | k=v k=v" with base fields overridden by keyVals
// and keys sorted. Nothing is written when there are no fields.
func writeFields(sb *strings.Builder, base map[string]interface{}, keyVals []interface{}) {
	fields := make(map[string]interface{}, len(base)+len(keyVals)/2)
	for k, v := range base {
		fields[k] = v
	}
	for i := 0; i+1 < len(keyVals); i += 2 {
		if key, ok := keyVals[i].(string); ok {
			fields[key] = keyVals[i+1]
		}
	}
	if len(fields) == 0 {
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteString(" |")
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(formatValue(fields[k]))
	}
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		if val == "" || strings.ContainsAny(val, " \t\n") {
			return fmt.Sprintf("%q", val)
		}
		return val
	case error:
		return fmt.Sprintf("%q", val.Error())
	default:
		return fmt.Sprint(v)
	}
}
