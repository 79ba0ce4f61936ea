package maven

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// Loader implements application.ProjectLoader for Maven projects.
type Loader struct{}

// NewLoader creates a POM loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadProject parses one build descriptor.
func (l *Loader) LoadProject(pomPath string) (domain.ProjectModel, error) {
	return ParsePOM(pomPath)
}

// LoadReactor reads the POM in projectDir and every module it aggregates,
// recursively, and links modules that depend on each other.
func (l *Loader) LoadReactor(projectDir string) (*domain.Reactor, map[string]domain.ProjectModel, error) {
	rootPOM := filepath.Join(projectDir, "pom.xml")
	if _, err := os.Stat(rootPOM); err != nil {
		return nil, nil, fmt.Errorf("no pom.xml in %s: %w", projectDir, err)
	}

	models := make(map[string]domain.ProjectModel)
	var order []string
	seen := make(map[string]bool)

	var visit func(pomPath string) error
	visit = func(pomPath string) error {
		abs, err := filepath.Abs(pomPath)
		if err != nil {
			return err
		}
		if seen[abs] {
			return nil
		}
		seen[abs] = true

		model, err := ParsePOM(abs)
		if err != nil {
			return err
		}
		if _, dup := models[model.ID]; dup {
			return fmt.Errorf("module %s is declared twice (%s)", model.ID, abs)
		}
		models[model.ID] = model
		order = append(order, model.ID)

		for _, m := range model.Modules {
			if err := visit(modulePOM(model.Dir, m)); err != nil {
				return fmt.Errorf("module %s of %s: %w", m, model.ID, err)
			}
		}
		return nil
	}
	if err := visit(rootPOM); err != nil {
		return nil, nil, err
	}

	nodes := make([]*domain.ModuleNode, 0, len(order))
	for _, id := range order {
		model := models[id]
		node := &domain.ModuleNode{ID: id, Dir: model.Dir, Packaging: model.Packaging}
		for _, dep := range model.Dependencies {
			if _, ok := models[dep.ID()]; ok && dep.Scope != "import" {
				node.Upstream = appendUnique(node.Upstream, dep.ID())
			}
		}
		nodes = append(nodes, node)
	}

	reactor, err := domain.NewReactor(nodes)
	if err != nil {
		return nil, nil, err
	}
	return reactor, models, nil
}

// modulePOM resolves a <module> entry, which names either a directory or a POM file.
func modulePOM(dir, module string) string {
	path := filepath.Join(dir, filepath.FromSlash(module))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}
	return filepath.Join(path, "pom.xml")
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
