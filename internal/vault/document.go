// Package vault reads and edits the markdown documents that make up a vault:
// task documents with YAML front-matter and a "## Steps" checklist, plan
// logs, the completion ledger and inbox intake.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thruflo/vaultloop/internal/state"
)

// Document types with special handling.
const (
	TypePlan = "plan"
)

// Document is a task document loaded from disk.
type Document struct {
	Path    string
	Content string
}

// Load reads the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Document{Path: path, Content: string(data)}, nil
}

// Name returns the document's file name, which doubles as the task id.
func (d *Document) Name() string {
	return filepath.Base(d.Path)
}

// Meta returns the parsed front-matter.
func (d *Document) Meta() Meta {
	return ParseMeta(d.Content)
}

// Type returns the front-matter "type" field.
func (d *Document) Type() string {
	return strings.TrimSpace(d.Meta().Get("type"))
}

// Steps returns the parsed checklist.
func (d *Document) Steps() []Step {
	return ParseSteps(d.Content)
}

// SetFields updates front-matter fields in memory.
func (d *Document) SetFields(fields ...Field) {
	d.Content = SetFields(d.Content, fields...)
}

// Save writes the document back atomically. Rewriting also refreshes the
// file's modification time.
func (d *Document) Save() error {
	if err := state.WriteFileAtomic(d.Path, []byte(d.Content), 0o644); err != nil {
		return fmt.Errorf("failed to save %s: %w", d.Name(), err)
	}
	return nil
}

// SafeName turns a file name into a token usable inside other file names.
func SafeName(name string) string {
	return strings.NewReplacer(".", "_", " ", "_").Replace(name)
}
