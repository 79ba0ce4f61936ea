// Package pathutil provides utilities for safe path handling.
package pathutil

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath = errors.New("path is empty")
	ErrNullBytes = errors.New("path contains null bytes")
)

// Resolve returns the cleaned absolute form of path, interpreting relative
// paths against base. Symlinks are kept: watch roots and file events use the
// unresolved paths too.
func Resolve(base, path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if strings.Contains(path, "\x00") {
		return "", ErrNullBytes
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return filepath.Abs(path)
}

// Within reports whether path is dir or lies below it. Both must be clean.
func Within(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}
