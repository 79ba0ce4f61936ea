package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Goals whose configuration changes cause the goal to be re-run in dev mode.
const (
	GoalCreate         = "create"
	GoalInstallFeature = "install-feature"
	GoalDeploy         = "deploy"
)

// WatchedGoals lists the goals compared by DiffProjects, in re-run order.
var WatchedGoals = []string{GoalCreate, GoalInstallFeature, GoalDeploy}

// Dependency is one declared project dependency.
type Dependency struct {
	GroupID    string
	ArtifactID string
	Version    string
	Type       string
	Scope      string
}

// Key identifies the dependency without its version.
func (d Dependency) Key() string {
	t := d.Type
	if t == "" {
		t = "jar"
	}
	return d.GroupID + ":" + d.ArtifactID + ":" + t
}

// ID returns group:artifact.
func (d Dependency) ID() string {
	return d.GroupID + ":" + d.ArtifactID
}

// IsFeature reports whether the dependency is a server feature archive.
func (d Dependency) IsFeature() bool {
	return d.Type == "esa"
}

// IsCompileScope reports whether the dependency ends up in the deployed application.
func (d Dependency) IsCompileScope() bool {
	return d.Scope == "" || d.Scope == "compile"
}

func (d Dependency) String() string {
	return d.Key() + ":" + d.Version + ":" + d.Scope
}

// ProjectModel is the part of a module's build descriptor that dev mode cares about.
type ProjectModel struct {
	ID           string
	Dir          string
	Packaging    Packaging
	Modules      []string
	Properties   map[string]string
	Dependencies []Dependency

	// Liberty plugin configuration.
	BootstrapProperties map[string]string
	JVMOptions          []string
	Env                 map[string]string
	GoalConfig          map[string]string // goal -> canonical configuration text
}

// AmbientSkip returns the skip flags declared as project properties.
func (p ProjectModel) AmbientSkip() SkipSources {
	return SkipSourcesFromProperties(p.Properties)
}

// SkipSourcesFromProperties reads skipTests, skipUTs and skipITs from a property
// map. A property present with an empty value counts as true, like -DskipTests.
func SkipSourcesFromProperties(props map[string]string) SkipSources {
	return SkipSources{
		SkipTests: boolProperty(props, "skipTests"),
		SkipUTs:   boolProperty(props, "skipUTs"),
		SkipITs:   boolProperty(props, "skipITs"),
	}
}

func boolProperty(props map[string]string, key string) *bool {
	v, ok := props[key]
	if !ok {
		return nil
	}
	b := strings.EqualFold(strings.TrimSpace(v), "true") || strings.TrimSpace(v) == ""
	return &b
}

// ProjectDelta describes how a reloaded build descriptor differs from the old one.
type ProjectDelta struct {
	RestartReasons      []string
	RerunGoals          []string
	FeatureDepsChanged  bool
	CompileDepsChanged  bool
	DependenciesChanged bool
	PropertiesChanged   bool
}

// RestartRequired reports whether the change cannot be applied without restarting dev mode.
func (d ProjectDelta) RestartRequired() bool {
	return len(d.RestartReasons) > 0
}

// IsNoop reports whether nothing relevant to dev mode changed.
func (d ProjectDelta) IsNoop() bool {
	return !d.RestartRequired() && len(d.RerunGoals) == 0 && !d.DependenciesChanged && !d.PropertiesChanged
}

// DiffProjects compares two versions of the same module's build descriptor.
func DiffProjects(old, cur ProjectModel) ProjectDelta {
	var d ProjectDelta
	if !equalStringMaps(old.BootstrapProperties, cur.BootstrapProperties) {
		d.RestartReasons = append(d.RestartReasons, "bootstrap properties")
	}
	if !equalStrings(old.JVMOptions, cur.JVMOptions) {
		d.RestartReasons = append(d.RestartReasons, "JVM options")
	}
	if !equalStringMaps(old.Env, cur.Env) {
		d.RestartReasons = append(d.RestartReasons, "server environment variables")
	}
	if !equalStrings(old.Modules, cur.Modules) {
		d.RestartReasons = append(d.RestartReasons, "reactor modules")
	}
	for _, goal := range WatchedGoals {
		if old.GoalConfig[goal] != cur.GoalConfig[goal] {
			d.RerunGoals = append(d.RerunGoals, goal)
		}
	}
	d.FeatureDepsChanged = !equalStrings(
		dependencyStrings(old.Dependencies, Dependency.IsFeature),
		dependencyStrings(cur.Dependencies, Dependency.IsFeature))
	d.CompileDepsChanged = !equalStrings(
		dependencyStrings(old.Dependencies, Dependency.IsCompileScope),
		dependencyStrings(cur.Dependencies, Dependency.IsCompileScope))
	d.DependenciesChanged = !equalStrings(
		dependencyStrings(old.Dependencies, nil),
		dependencyStrings(cur.Dependencies, nil))
	d.PropertiesChanged = !equalStringMaps(old.Properties, cur.Properties)
	return d
}

// AddedFeatureDependencies returns esa dependencies present in cur but not in old.
func AddedFeatureDependencies(old, cur ProjectModel) []Dependency {
	have := make(map[string]bool)
	for _, dep := range old.Dependencies {
		if dep.IsFeature() {
			have[dep.String()] = true
		}
	}
	var out []Dependency
	for _, dep := range cur.Dependencies {
		if dep.IsFeature() && !have[dep.String()] {
			out = append(out, dep)
		}
	}
	return out
}

func dependencyStrings(deps []Dependency, keep func(Dependency) bool) []string {
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		if keep != nil && !keep(dep) {
			continue
		}
		out = append(out, dep.String())
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStringMaps(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// String renders the delta for logs.
func (d ProjectDelta) String() string {
	if d.IsNoop() {
		return "no changes"
	}
	var parts []string
	if d.RestartRequired() {
		parts = append(parts, fmt.Sprintf("restart required (%s)", strings.Join(d.RestartReasons, ", ")))
	}
	if len(d.RerunGoals) > 0 {
		parts = append(parts, "re-run "+strings.Join(d.RerunGoals, ", "))
	}
	if d.DependenciesChanged {
		parts = append(parts, "dependencies changed")
	}
	if d.PropertiesChanged {
		parts = append(parts, "properties changed")
	}
	return strings.Join(parts, "; ")
}
