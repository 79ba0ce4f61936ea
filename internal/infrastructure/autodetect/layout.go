// Package autodetect derives the watch roots of a module from the standard
// Maven and Liberty directory layout.
package autodetect

import (
	"path/filepath"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// Standard layout, relative to the module directory.
var (
	MainSources    = filepath.Join("src", "main", "java")
	TestSources    = filepath.Join("src", "test", "java")
	MainResources  = filepath.Join("src", "main", "resources")
	TestResources  = filepath.Join("src", "test", "resources")
	WebApp         = filepath.Join("src", "main", "webapp")
	LibertyConfig  = filepath.Join("src", "main", "liberty", "config")
	ClassesDir     = filepath.Join("target", "classes")
	TestClassesDir = filepath.Join("target", "test-classes")
)

// Layout implements application.LayoutDetector for the standard layout.
type Layout struct{}

// Roots returns the watch roots of module. Only the runnable module gets a
// config root, mirrored into serverDir. Aggregator modules only contribute
// their build descriptor.
func (Layout) Roots(module *domain.ModuleNode, serverDir string, runnable bool) []domain.WatchRoot {
	dir := module.Dir
	root := func(rel string, role domain.Role, target string) domain.WatchRoot {
		return domain.WatchRoot{Path: filepath.Join(dir, rel), Role: role, Module: module.ID, Target: target}
	}

	roots := []domain.WatchRoot{{
		Path:   filepath.Join(dir, "pom.xml"),
		Role:   domain.RoleBuildDescriptor,
		Module: module.ID,
		File:   true,
	}}
	if module.Packaging == domain.PackagingPom {
		return roots
	}

	roots = append(roots,
		root(MainSources, domain.RoleSource, ""),
		root(TestSources, domain.RoleTestSource, ""),
		root(MainResources, domain.RoleResource, filepath.Join(dir, ClassesDir)),
		root(TestResources, domain.RoleResource, filepath.Join(dir, TestClassesDir)),
	)
	if module.Packaging == domain.PackagingWar {
		roots = append(roots, root(WebApp, domain.RoleResource, filepath.Join(dir, "target", module.ArtifactID())))
	}
	if runnable && serverDir != "" {
		roots = append(roots, root(LibertyConfig, domain.RoleConfig, serverDir))
	}
	return roots
}
