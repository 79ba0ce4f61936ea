package application

import (
	"fmt"
	"path/filepath"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// loadConfig loads config from path, falling back to defaults when the file
// does not exist.
func loadConfig(loader ConfigLoader, configPath string) (Config, error) {
	exists, err := loader.Exists(configPath)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return DefaultConfig(), nil
	}
	return loader.Load(configPath)
}

// project is a loaded reactor plus the models of its modules.
type project struct {
	dir     string
	reactor *domain.Reactor
	models  map[string]domain.ProjectModel
}

func loadProject(loader ProjectLoader, dir string) (*project, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory: %w", err)
	}
	reactor, models, err := loader.LoadReactor(abs)
	if err != nil {
		return nil, fmt.Errorf("loading reactor: %w", err)
	}
	return &project{dir: abs, reactor: reactor, models: models}, nil
}

// resolveSkipFlags resolves the skip flags of every module from the three
// sources: configuration, user properties and project properties.
func (p *project) resolveSkipFlags(cfg Config, userProps map[string]string) {
	user := domain.SkipSourcesFromProperties(userProps)
	for _, node := range p.reactor.Modules() {
		node.SetSkipFlags(domain.ResolveSkipFlags(cfg.ConfigSkip(node.ID), user, p.models[node.ID].AmbientSkip()))
	}
}

func (p *project) selectRunnable(cfg Config, selector string) (*domain.ModuleNode, error) {
	if selector == "" {
		selector = cfg.Module
	}
	return p.reactor.SelectRunnable(selector)
}

func (p *project) roots(layout LayoutDetector, runnable *domain.ModuleNode, serverDir string) ([]domain.WatchRoot, error) {
	var roots []domain.WatchRoot
	for _, node := range p.reactor.Modules() {
		isRunnable := runnable != nil && node.ID == runnable.ID
		roots = append(roots, layout.Roots(node, serverDir, isRunnable)...)
	}
	if err := domain.ValidateRoots(roots); err != nil {
		return nil, err
	}
	return roots, nil
}

// serverParams derives the launch parameters of the server hosting runnable.
func serverParams(cfg Config, runnable *domain.ModuleNode, model domain.ProjectModel) ServerParams {
	installDir := cfg.InstallDirectory
	if !filepath.IsAbs(installDir) {
		installDir = filepath.Join(runnable.Dir, installDir)
	}
	params := ServerParams{
		InstallDir:     installDir,
		ServerName:     cfg.ServerName,
		Operation:      OperationRun,
		StopPolicy:     StopGraceful,
		Container:      cfg.Container,
		ContainerImage: cfg.ContainerImage,
		Env:            model.Env,
		StartTimeout:   cfg.ServerStartTimeout,
		StopTimeout:    cfg.VerifyTimeout,
	}
	if cfg.Debug {
		params.Operation = OperationDebug
		params.DebugPort = cfg.DebugPort
	}
	params.LogFile = filepath.Join(params.ServerDir(), "logs", "console.log")
	return params
}
