package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Marker records a state transition of a file-backed item by moving it from
// one name to another. Mark reports false, without error, when the item is no
// longer at from or something already sits at to: another party has made a
// transition first and the caller must re-read instead of overwriting.
//
// Every approval decision and every quarantine or retry move goes through a
// Marker, which makes the scheduler and an independent watcher safe to run
// side by side.
type Marker interface {
	Mark(from, to string) (bool, error)
}

// RenameMarker implements Marker with rename(2), which is atomic within a
// filesystem.
type RenameMarker struct{}

// Mark implements Marker.
func (RenameMarker) Mark(from, to string) (bool, error) {
	if _, err := os.Lstat(to); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark %s: %w", filepath.Base(from), err)
	}
	return true, nil
}

// UniquePath returns dir/name, or a timestamp-suffixed variant when that
// name is taken: name_YYYYmmdd_HHMMSS.ext, then _2, _3 and so on.
func UniquePath(dir, name string, now time.Time) string {
	dest := filepath.Join(dir, name)
	if !exists(dest) {
		return dest
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stamp := now.UTC().Format("20060102_150405")

	dest = filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, stamp, ext))
	for n := 2; exists(dest); n++ {
		dest = filepath.Join(dir, fmt.Sprintf("%s_%s_%d%s", stem, stamp, n, ext))
	}
	return dest
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
