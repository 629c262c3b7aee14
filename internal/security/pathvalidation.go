// Package security guards file paths that come from requests or flags.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a path resolves outside its directory.
var ErrPathTraversal = errors.New("path escapes directory")

// ValidatePathWithinDirectory checks that filePath, after cleaning and
// symlink resolution, lies inside safeDir.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	canonicalPath, err := canonicalize(filePath)
	if err != nil {
		return err
	}

	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}
	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	relPath, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("%w: %s is outside %s", ErrPathTraversal, filePath, safeDir)
	}
	return nil
}

// canonicalize returns the absolute, symlink-free form of path. For a path
// that does not exist yet, the deepest existing ancestor is resolved so a
// symlinked parent cannot smuggle the path elsewhere.
func canonicalize(path string) (string, error) {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved, nil
	}

	for dir := filepath.Dir(absPath); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, err := filepath.Rel(dir, absPath)
			if err != nil {
				return "", err
			}
			return filepath.Join(resolved, rel), nil
		}
		if dir == filepath.Dir(dir) {
			return absPath, nil
		}
	}
}

// ResolveInDirectory joins a request-supplied file name onto dir and
// returns the result if it stays inside dir. Names containing separators
// are rejected outright.
func ResolveInDirectory(dir, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: invalid file name %q", ErrPathTraversal, name)
	}
	path := filepath.Join(dir, name)
	if err := ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	return path, nil
}

// SanitizeFilename makes a safe file name from an arbitrary string such as a
// detection log name. Characters other than ASCII letters, digits, dot,
// underscore and dash become a single underscore; the result is at most 128
// bytes and never empty.
func SanitizeFilename(s string) string {
	const maxLen = 128

	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
