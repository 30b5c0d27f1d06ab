package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths and paths with parent-directory segments.
// Absolute paths are allowed.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains null byte")
	}
	if hasParentSegment(path) {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}
	return nil
}

// ValidateRelativePath is ValidateFilePath that also rejects absolute paths
func ValidateRelativePath(path string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}
	return nil
}

// ValidateFilePathWithBase validates a relative path and returns it joined to baseDir.
// The joined path is guaranteed to stay inside baseDir.
func ValidateFilePathWithBase(path, baseDir string) (string, error) {
	if err := ValidateRelativePath(path); err != nil {
		return "", err
	}

	cleanBase := filepath.Clean(baseDir)
	fullPath := filepath.Join(cleanBase, path)
	if fullPath != cleanBase && !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", path)
	}
	return fullPath, nil
}

func hasParentSegment(path string) bool {
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}
