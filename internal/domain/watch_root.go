package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Role is the semantic role of a watched directory or file.
type Role string

const (
	RoleOther           Role = "other"
	RoleSource          Role = "source"
	RoleTestSource      Role = "test-source"
	RoleResource        Role = "resource"
	RoleConfig          Role = "config"
	RoleBuildDescriptor Role = "build-descriptor"
)

// ErrEmptyRootPath is returned when a watch root has no path.
var ErrEmptyRootPath = errors.New("watch root path cannot be empty")

// WatchRoot is a directory (or a single file) plus the role it plays in the build.
type WatchRoot struct {
	Path   string
	Role   Role
	Module string // owning module ID (group:artifact)
	Target string // mirror destination for resource and config roots
	File   bool   // single-file root, matched only by exact path
}

// Classification is the result of matching a path against the watch roots.
type Classification struct {
	Role         Role
	RelativePath string
	Root         WatchRoot
}

// Module returns the ID of the module owning the matched root.
func (c Classification) Module() string {
	return c.Root.Module
}

// Classify matches path against roots. The most specific (longest) matching root
// wins; paths outside every root are classified as RoleOther.
func Classify(path string, roots []WatchRoot) Classification {
	cleaned := filepath.Clean(path)
	best := -1
	bestLen := -1
	for i, root := range roots {
		rp := filepath.Clean(root.Path)
		if !rootMatches(cleaned, rp, root.File) {
			continue
		}
		if len(rp) > bestLen {
			best = i
			bestLen = len(rp)
		}
	}
	if best < 0 {
		return Classification{Role: RoleOther, RelativePath: cleaned}
	}
	root := roots[best]
	rel := filepath.Base(cleaned)
	if !root.File {
		if r, err := filepath.Rel(filepath.Clean(root.Path), cleaned); err == nil {
			rel = r
		}
	}
	return Classification{Role: root.Role, RelativePath: rel, Root: root}
}

func rootMatches(path, root string, file bool) bool {
	if path == root {
		return true
	}
	if file {
		return false
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// ValidateRoots rejects empty paths and the same path registered under two roles.
func ValidateRoots(roots []WatchRoot) error {
	seen := make(map[string]Role, len(roots))
	for _, root := range roots {
		if root.Path == "" {
			return ErrEmptyRootPath
		}
		p := filepath.Clean(root.Path)
		if prev, ok := seen[p]; ok && prev != root.Role {
			return fmt.Errorf("watch root %s registered as both %s and %s", p, prev, root.Role)
		}
		seen[p] = root.Role
	}
	return nil
}
