package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// CleanDirectoryContents removes everything under dir except the top-level
// entries named in keep. dir itself stays, so callers holding it open keep a
// valid handle. A missing dir is not an error.
func CleanDirectoryContents(dir string, keep ...string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if slices.Contains(keep, entry.Name()) {
			continue
		}
		entryPath := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(entryPath); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entryPath, err)
		}
	}

	return nil
}

// WriteFileIfChanged writes data to path only when the current content differs.
// It reports whether a write happened. Parent directories are created as needed.
func WriteFileIfChanged(path string, data []byte, perm os.FileMode) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && string(existing) == string(data) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
