package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// Service is the entry point used by the CLI and the MCP server.
type Service struct {
	ConfigLoader ConfigLoader
	Projects     ProjectLoader
	Layout       LayoutDetector
	Compiler     Compiler
	Mirror       FileMirror
	Features     FeatureInstaller
	NewFeatures  func(installDir string) FeatureInstaller
	Deployer     Deployer
	Goals        GoalRunner
	Resolver     DependencyResolver
	Parser       ServerConfigParser
	TestRunner   TestRunner
	TestReporter TestReporter
	NewWatcher   func(cfg Config) (FileWatcher, error)
	Server       ServerController
	LogWatcher   LogWatcher
	Events       domain.EventPublisher
	Log          zerolog.Logger
	In           io.Reader
}

// Dev runs dev mode.
func (s *Service) Dev(ctx context.Context, opts DevOptions) error {
	h := &DevHandler{
		ConfigLoader: s.ConfigLoader,
		Projects:     s.Projects,
		Layout:       s.Layout,
		Compiler:     s.Compiler,
		Mirror:       s.Mirror,
		Features:     s.Features,
		NewFeatures:  s.NewFeatures,
		Deployer:     s.Deployer,
		Goals:        s.Goals,
		Resolver:     s.Resolver,
		Parser:       s.Parser,
		TestRunner:   s.TestRunner,
		TestReporter: s.TestReporter,
		NewWatcher:   s.NewWatcher,
		Server:       s.Server,
		LogWatcher:   s.LogWatcher,
		Events:       s.Events,
		Log:          s.Log,
		In:           s.In,
	}
	return h.Dev(ctx, opts)
}

// Run prepares the server of the runnable module and runs it in the
// foreground until ctx is cancelled.
func (s *Service) Run(ctx context.Context, opts RunOptions) error {
	cfg, err := loadConfig(s.ConfigLoader, opts.ConfigPath)
	if err != nil {
		return err
	}
	proj, err := loadProject(s.Projects, opts.ProjectDir)
	if err != nil {
		return err
	}
	runnable, err := proj.selectRunnable(cfg, opts.Module)
	if err != nil {
		return err
	}

	if !opts.SkipGoals {
		for _, goal := range domain.WatchedGoals {
			if err := s.Goals.RunGoal(ctx, runnable.ID, goal, opts.UserProperties); err != nil {
				return fmt.Errorf("running %s: %w", goal, err)
			}
		}
	}

	cfg.Debug = false
	params := serverParams(cfg, runnable, proj.models[runnable.ID])
	params.StopPolicy = StopForced
	session, err := s.Server.Start(ctx, params)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	s.Log.Info().Str("module", runnable.ID).Str("session", session.ID()).Msg("Liberty is running in the foreground. Press Ctrl+C to stop it.")

	var runErr error
	select {
	case <-ctx.Done():
	case <-session.Done():
		runErr = ErrServerStopped
	}
	stopTimeout := params.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout+5*time.Second)
	defer cancel()
	if err := s.Server.Stop(stopCtx, session); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Inspect reports the reactor, the runnable selection and the watch roots.
// An ambiguous or missing runnable module is reported in the result, not as
// an error.
func (s *Service) Inspect(ctx context.Context, opts InspectOptions) (InspectResult, error) {
	cfg, err := loadConfig(s.ConfigLoader, opts.ConfigPath)
	if err != nil {
		return InspectResult{}, err
	}
	proj, err := loadProject(s.Projects, opts.ProjectDir)
	if err != nil {
		return InspectResult{}, err
	}
	proj.resolveSkipFlags(cfg, opts.UserProperties)

	result := InspectResult{BuildOrder: proj.reactor.BuildOrder()}
	runnable, selErr := proj.selectRunnable(cfg, opts.Module)
	if selErr != nil {
		result.Error = selErr.Error()
		var ambiguous *domain.AmbiguousModulesError
		if errors.As(selErr, &ambiguous) {
			result.Candidates = ambiguous.Candidates
		}
	} else {
		result.Selected = runnable.ID
	}

	serverDir := ""
	if runnable != nil {
		serverDir = serverParams(cfg, runnable, proj.models[runnable.ID]).ServerDir()
	}
	for _, node := range proj.reactor.Modules() {
		isRunnable := runnable != nil && node.ID == runnable.ID
		info := ModuleInfo{
			ID:         node.ID,
			Packaging:  node.Packaging,
			Upstream:   node.Upstream,
			Downstream: node.Downstream,
			Runnable:   node.Packaging.Runnable(),
			Skip:       node.SkipFlags(),
		}
		if s.Layout != nil {
			info.Roots = s.Layout.Roots(node, serverDir, isRunnable)
		}
		result.Modules = append(result.Modules, info)
	}
	return result, nil
}

// Detect proposes a configuration for the project in opts.ProjectDir.
func (s *Service) Detect(ctx context.Context, opts DetectOptions) (DetectResult, error) {
	proj, err := loadProject(s.Projects, opts.ProjectDir)
	if err != nil {
		return DetectResult{}, err
	}
	result := DetectResult{Config: DefaultConfig(), Modules: proj.reactor.BuildOrder()}
	candidates := proj.reactor.RunnableCandidates()
	switch {
	case len(candidates) == 0:
		return result, domain.ErrNoRunnableModule
	case len(candidates) > 1:
		result.Candidates = candidates
	}
	return result, nil
}
