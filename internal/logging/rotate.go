package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RotateIfNeeded renames path to a dated archive in the same directory once
// it grows beyond maxBytes. Archives are named name_YYYY-MM-DD.ext, then
// name_YYYY-MM-DD_2.ext and so on. It returns the archive path, or "" when
// no rotation happened.
func RotateIfNeeded(path string, maxBytes int64, now time.Time) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to stat log: %w", err)
	}
	if info.Size() <= maxBytes {
		return "", nil
	}

	archive := archivePath(path, now)
	if err := os.Rename(path, archive); err != nil {
		return "", fmt.Errorf("failed to rotate log: %w", err)
	}
	return archive, nil
}

func archivePath(path string, now time.Time) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	stamp := now.UTC().Format("2006-01-02")

	candidate := filepath.Join(dir, fmt.Sprintf("%s_%s%s", name, stamp, ext))
	for n := 2; fileExists(candidate); n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%s_%d%s", name, stamp, n, ext))
	}
	return candidate
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
