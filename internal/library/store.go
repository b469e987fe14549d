package library

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Save writes an entry back to its path atomically: the new content goes to
// a temporary file in the same directory, is synced, then renamed over the
// original, so concurrent readers see either the old or the new document.
func (l *Library) Save(entry *Entry) error {
	if err := l.checkLocation(entry); err != nil {
		return err
	}
	data, err := Render(entry)
	if err != nil {
		return fmt.Errorf("render entry %s: %w", entry.Name, err)
	}
	return WriteFileAtomic(entry.Path, data)
}

// checkLocation refuses writes that would place an entry outside the root
// of the location it was loaded from.
func (l *Library) checkLocation(entry *Entry) error {
	root := l.roots[entry.Location]
	if root == "" {
		return fmt.Errorf("%w: %s has no %s root", ErrLocationChange, entry.Name, entry.Location)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	absPath, err := filepath.Abs(entry.Path)
	if err != nil {
		return fmt.Errorf("resolve entry path: %w", err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return fmt.Errorf("%w: %s is outside %s", ErrLocationChange, entry.Path, root)
	}
	return nil
}

// WriteFileAtomic replaces path with data using write-to-temp then rename.
// The original file mode is kept when the file already exists.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
