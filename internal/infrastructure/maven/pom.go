// Package maven reads Maven build descriptors and drives the mvn command line
// for compilation, plugin goals, tests and classpath resolution.
package maven

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

const (
	libertyPluginGroup    = "io.openliberty.tools"
	libertyPluginArtifact = "liberty-maven-plugin"

	bootstrapPrefix = "liberty.bootstrap."
	envPrefix       = "liberty.env."
	jvmPrefix       = "liberty.jvm."
)

// pomXML represents the parts of a POM the loader reads.
type pomXML struct {
	XMLName      xml.Name        `xml:"project"`
	GroupID      string          `xml:"groupId"`
	ArtifactID   string          `xml:"artifactId"`
	Version      string          `xml:"version"`
	Packaging    string          `xml:"packaging"`
	Parent       parentXML       `xml:"parent"`
	Modules      []string        `xml:"modules>module"`
	Properties   xmlNode         `xml:"properties"`
	Dependencies []dependencyXML `xml:"dependencies>dependency"`
	Plugins      []pluginXML     `xml:"build>plugins>plugin"`
}

type parentXML struct {
	GroupID      string `xml:"groupId"`
	ArtifactID   string `xml:"artifactId"`
	Version      string `xml:"version"`
	RelativePath string `xml:"relativePath"`
}

type dependencyXML struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Type       string `xml:"type"`
	Scope      string `xml:"scope"`
}

type pluginXML struct {
	GroupID       string         `xml:"groupId"`
	ArtifactID    string         `xml:"artifactId"`
	Configuration xmlNode        `xml:"configuration"`
	Executions    []executionXML `xml:"executions>execution"`
}

type executionXML struct {
	ID            string   `xml:"id"`
	Goals         []string `xml:"goals>goal"`
	Configuration xmlNode  `xml:"configuration"`
}

// xmlNode captures free-form XML such as plugin configuration and properties.
type xmlNode struct {
	XMLName xml.Name
	Content string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

func (n xmlNode) child(name string) (xmlNode, bool) {
	for _, c := range n.Nodes {
		if c.XMLName.Local == name {
			return c, true
		}
	}
	return xmlNode{}, false
}

func (n xmlNode) text() string {
	return strings.TrimSpace(n.Content)
}

// canonical renders the node without whitespace or comments so two POMs that
// differ only in formatting compare equal.
func (n xmlNode) canonical(interp func(string) string) string {
	var b strings.Builder
	n.writeCanonical(&b, interp)
	return b.String()
}

func (n xmlNode) writeCanonical(b *strings.Builder, interp func(string) string) {
	for _, c := range n.Nodes {
		b.WriteString("<" + c.XMLName.Local + ">")
		if len(c.Nodes) == 0 {
			b.WriteString(interp(c.text()))
		} else {
			c.writeCanonical(b, interp)
		}
		b.WriteString("</" + c.XMLName.Local + ">")
	}
}

// ParsePOM reads the build descriptor at path. Properties of a parent POM found
// on disk are inherited.
func ParsePOM(path string) (domain.ProjectModel, error) {
	return parsePOM(path, 0)
}

const maxParentDepth = 10

func parsePOM(path string, depth int) (domain.ProjectModel, error) {
	raw, err := readPOM(path)
	if err != nil {
		return domain.ProjectModel{}, err
	}

	dir := filepath.Dir(path)
	props := map[string]string{}
	if depth < maxParentDepth {
		if parentPath := parentPOMPath(dir, raw.Parent); parentPath != "" {
			if parent, err := parsePOM(parentPath, depth+1); err == nil {
				for k, v := range parent.Properties {
					props[k] = v
				}
			}
		}
	}
	for _, p := range raw.Properties.Nodes {
		props[p.XMLName.Local] = p.text()
	}

	groupID := raw.GroupID
	if groupID == "" {
		groupID = raw.Parent.GroupID
	}
	version := raw.Version
	if version == "" {
		version = raw.Parent.Version
	}
	packaging := raw.Packaging
	if packaging == "" {
		packaging = string(domain.PackagingJar)
	}

	builtins := map[string]string{
		"project.groupId":    groupID,
		"project.artifactId": raw.ArtifactID,
		"project.version":    version,
		"project.basedir":    dir,
		"basedir":            dir,
		"pom.groupId":        groupID,
		"pom.artifactId":     raw.ArtifactID,
		"pom.version":        version,
	}
	interp := interpolator(props, builtins)
	for k, v := range props {
		props[k] = interp(v)
	}

	model := domain.ProjectModel{
		ID:         interp(groupID) + ":" + interp(raw.ArtifactID),
		Dir:        dir,
		Packaging:  domain.Packaging(interp(packaging)),
		Modules:    append([]string(nil), raw.Modules...),
		Properties: props,
		GoalConfig: map[string]string{},
	}
	for _, d := range raw.Dependencies {
		model.Dependencies = append(model.Dependencies, domain.Dependency{
			GroupID:    interp(d.GroupID),
			ArtifactID: interp(d.ArtifactID),
			Version:    interp(d.Version),
			Type:       interp(d.Type),
			Scope:      interp(d.Scope),
		})
	}

	applyLibertyProperties(&model)
	for _, plugin := range raw.Plugins {
		if plugin.ArtifactID != libertyPluginArtifact {
			continue
		}
		if plugin.GroupID != "" && plugin.GroupID != libertyPluginGroup {
			continue
		}
		applyLibertyPlugin(&model, plugin, interp)
	}
	return model, nil
}

func readPOM(path string) (pomXML, error) {
	// #nosec G304 -- POM path is discovered from the project directory
	data, err := os.ReadFile(path)
	if err != nil {
		return pomXML{}, err
	}
	var raw pomXML
	if err := xml.Unmarshal(data, &raw); err != nil {
		return pomXML{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return raw, nil
}

func parentPOMPath(dir string, parent parentXML) string {
	if parent.ArtifactID == "" {
		return ""
	}
	rel := parent.RelativePath
	if rel == "" {
		rel = "../pom.xml"
	}
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "pom.xml")
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

var propertyRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolator resolves ${name} references against the project properties,
// then the built-in project values. Unknown references are left in place.
func interpolator(props, builtins map[string]string) func(string) string {
	var resolve func(s string, depth int) string
	resolve = func(s string, depth int) string {
		if depth > 10 || !strings.Contains(s, "${") {
			return s
		}
		return propertyRef.ReplaceAllStringFunc(s, func(ref string) string {
			name := ref[2 : len(ref)-1]
			if v, ok := props[name]; ok {
				return resolve(v, depth+1)
			}
			if v, ok := builtins[name]; ok {
				return v
			}
			return ref
		})
	}
	return func(s string) string { return resolve(s, 0) }
}

// applyLibertyProperties reads liberty.bootstrap.*, liberty.env.* and
// liberty.jvm.* project properties.
func applyLibertyProperties(model *domain.ProjectModel) {
	keys := make([]string, 0, len(model.Properties))
	for k := range model.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := model.Properties[k]
		switch {
		case strings.HasPrefix(k, bootstrapPrefix):
			model.BootstrapProperties = setEntry(model.BootstrapProperties, strings.TrimPrefix(k, bootstrapPrefix), v)
		case strings.HasPrefix(k, envPrefix):
			model.Env = setEntry(model.Env, strings.TrimPrefix(k, envPrefix), v)
		case strings.HasPrefix(k, jvmPrefix):
			model.JVMOptions = append(model.JVMOptions, v)
		}
	}
}

func applyLibertyPlugin(model *domain.ProjectModel, plugin pluginXML, interp func(string) string) {
	cfg := plugin.Configuration
	if n, ok := cfg.child("bootstrapProperties"); ok {
		for _, p := range n.Nodes {
			model.BootstrapProperties = setEntry(model.BootstrapProperties, p.XMLName.Local, interp(p.text()))
		}
	}
	if n, ok := cfg.child("env"); ok {
		for _, p := range n.Nodes {
			model.Env = setEntry(model.Env, p.XMLName.Local, interp(p.text()))
		}
	}
	if n, ok := cfg.child("jvmOptions"); ok {
		for _, p := range n.Nodes {
			model.JVMOptions = append(model.JVMOptions, interp(p.text()))
		}
	}

	shared := cfg.canonical(interp)
	for _, goal := range domain.WatchedGoals {
		text := shared
		for _, exec := range plugin.Executions {
			if containsGoal(exec.Goals, goal) {
				text += "|" + exec.Configuration.canonical(interp)
			}
		}
		model.GoalConfig[goal] = text
	}
}

func containsGoal(goals []string, goal string) bool {
	for _, g := range goals {
		if strings.TrimSpace(g) == goal {
			return true
		}
	}
	return false
}

func setEntry(m map[string]string, k, v string) map[string]string {
	if m == nil {
		m = make(map[string]string)
	}
	m[k] = v
	return m
}
