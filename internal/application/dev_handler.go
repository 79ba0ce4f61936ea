package application

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// Command is a line typed on the dev-mode console.
type Command int

const (
	CommandRunTests Command = iota
	CommandExit
	CommandRestart
	CommandUnknown
)

// ParseCommand interprets one line of console input.
func ParseCommand(line string) Command {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return CommandRunTests
	case "exit", "q", "quit":
		return CommandExit
	case "r", "restart":
		return CommandRestart
	default:
		return CommandUnknown
	}
}

// ErrServerStopped is returned when the server exits while dev mode is running.
var ErrServerStopped = errors.New("server stopped unexpectedly")

// DevHandler runs the dev-mode session: initial build, server start, the watch
// loop and console commands.
type DevHandler struct {
	ConfigLoader ConfigLoader
	Projects     ProjectLoader
	Layout       LayoutDetector
	Compiler     Compiler
	Mirror       FileMirror
	Features     FeatureInstaller
	// NewFeatures builds the feature installer of a server installation. It
	// takes precedence over Features.
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

type devSession struct {
	h       *DevHandler
	cfg     Config
	params  ServerParams
	engine  *BuildEngine
	tests   *TestOrchestrator
	server  ServerSession
	appName string
}

// Dev runs dev mode until ctx is cancelled, the user exits or the server dies.
func (h *DevHandler) Dev(ctx context.Context, opts DevOptions) error {
	cfg, err := loadConfig(h.ConfigLoader, opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.HotTests != nil {
		cfg.HotTests = *opts.HotTests
	}
	if opts.Debug != nil {
		cfg.Debug = *opts.Debug
	}

	proj, err := loadProject(h.Projects, opts.ProjectDir)
	if err != nil {
		return err
	}
	runnable, err := proj.selectRunnable(cfg, opts.Module)
	if err != nil {
		var ambiguous *domain.AmbiguousModulesError
		if errors.As(err, &ambiguous) {
			h.Log.Error().Strs("candidates", ambiguous.Candidates).Msg(ambiguous.Error())
		}
		return err
	}
	proj.resolveSkipFlags(cfg, opts.UserProperties)

	params := serverParams(cfg, runnable, proj.models[runnable.ID])
	roots, err := proj.roots(h.Layout, runnable, params.ServerDir())
	if err != nil {
		return err
	}

	features := h.Features
	if h.NewFeatures != nil {
		features = h.NewFeatures(params.InstallDir)
	}

	s := &devSession{h: h, cfg: cfg, params: params, appName: runnable.ArtifactID()}
	s.tests = &TestOrchestrator{
		Reactor:        proj.reactor,
		Runner:         h.TestRunner,
		Reporter:       h.TestReporter,
		Events:         h.Events,
		Log:            h.Log.With().Str("component", "tests").Logger(),
		UserProperties: opts.UserProperties,
	}
	s.engine = &BuildEngine{
		Reactor:        proj.reactor,
		Projects:       proj.models,
		Compiler:       h.Compiler,
		Mirror:         h.Mirror,
		Features:       features,
		Deployer:       h.Deployer,
		Goals:          h.Goals,
		Resolver:       h.Resolver,
		Parser:         h.Parser,
		Loader:         h.Projects,
		Tests:          s.tests,
		Events:         h.Events,
		Log:            h.Log.With().Str("component", "engine").Logger(),
		Config:         cfg,
		Runnable:       runnable.ID,
		ConfigDir:      configDir(roots, runnable.ID),
		UserProperties: opts.UserProperties,
	}

	s.tests.Start(ctx)
	defer s.tests.Close()

	s.engine.CompileAll(ctx)

	if err := s.start(ctx); err != nil {
		return err
	}
	defer s.stop()

	watcher, err := h.NewWatcher(cfg)
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.WatchRoots(roots); err != nil {
		return fmt.Errorf("watching project: %w", err)
	}

	return s.loop(ctx, watcher.Events(ctx), readCommands(ctx, h.In))
}

func (s *devSession) start(ctx context.Context) error {
	server, err := s.h.Server.Start(ctx, s.params)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	s.server = server
	log := s.h.Log.With().Str("component", "server").Logger()
	if s.h.LogWatcher != nil && s.cfg.VerifyTimeout > 0 {
		if !s.h.LogWatcher.WaitForMessage(domain.AppMessage(domain.CodeAppStarted, s.appName), s.cfg.VerifyTimeout, server.LogFile()) {
			log.Warn().Str("app", s.appName).Dur("timeout", s.cfg.VerifyTimeout).Msg("application start was not confirmed in the server log")
		}
	}
	if server.DebugPort() > 0 {
		log.Info().Int("port", server.DebugPort()).Msg("Liberty debug port")
	}
	log.Info().Str("session", server.ID()).Msg(domain.MsgDevModeRunning)
	log.Info().Msg(domain.MsgEnterForTests)
	return nil
}

func (s *devSession) stop() {
	if s.server == nil {
		return
	}
	timeout := s.params.StopTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel()
	if err := s.h.Server.Stop(ctx, s.server); err != nil {
		s.h.Log.Error().Err(err).Msg("stopping server")
	}
	s.server = nil
}

func (s *devSession) loop(ctx context.Context, changes <-chan []domain.ChangeEvent, commands <-chan string) error {
	for {
		var serverDone <-chan struct{}
		if s.server != nil {
			serverDone = s.server.Done()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-serverDone:
			// Stopping an exited server still releases its lock.
			s.stop()
			return ErrServerStopped
		case batch, ok := <-changes:
			if !ok {
				return nil
			}
			s.handleBatch(ctx, batch)
		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			switch ParseCommand(line) {
			case CommandRunTests:
				s.tests.Enqueue(domain.TestTrigger{Unit: true, Integration: true, Manual: true})
			case CommandExit:
				return nil
			case CommandRestart:
				s.stop()
				if err := s.start(ctx); err != nil {
					return err
				}
			default:
				s.h.Log.Warn().Str("input", strings.TrimSpace(line)).Msg("unknown command")
			}
		}
	}
}

func (s *devSession) handleBatch(ctx context.Context, batch []domain.ChangeEvent) {
	for _, res := range s.engine.HandleBatch(ctx, batch) {
		if res.RestartRequired {
			s.h.Log.Warn().Str("module", res.Module).Msg("To apply this change, type 'exit' and " + domain.MsgRestartRequired + ".")
		}
	}
}

func configDir(roots []domain.WatchRoot, module string) string {
	for _, r := range roots {
		if r.Module == module && r.Role == domain.RoleConfig && !r.File {
			return r.Path
		}
	}
	return ""
}

// readCommands forwards console lines until r is exhausted or ctx is done.
func readCommands(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	if r == nil {
		close(out)
		return out
	}
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
