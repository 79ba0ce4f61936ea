// Package server launches and stops the Liberty server process, either from the
// installation's server script or inside a container.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/libertydev/internal/application"
	"github.com/felixgeelhaar/libertydev/internal/domain"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/logwatch"
)

const (
	// DefaultStartTimeout bounds the wait for the server ready marker.
	DefaultStartTimeout = 90 * time.Second
	// DefaultStopTimeout bounds a graceful shutdown before the process is killed.
	DefaultStopTimeout = 30 * time.Second
	// DefaultGracePeriod is the time between SIGTERM and SIGKILL on a forced stop.
	DefaultGracePeriod = 5 * time.Second

	exitToken = "exit\n"
	lockName  = ".libertydev.lock"
)

var (
	// ErrLocked is returned when another process owns the server directory.
	ErrLocked = errors.New("server directory is in use by another dev mode session")
	// ErrSessionActive is returned when a server is already running.
	ErrSessionActive = errors.New("a server session is already running")
	// ErrUnknownSession is returned when stopping a session this controller did not start.
	ErrUnknownSession = errors.New("unknown server session")
)

// Controller owns the single server process of a dev-mode invocation.
type Controller struct {
	Log zerolog.Logger
	// Logs polls the server log; defaults to logwatch.New().
	Logs *logwatch.Watcher
	// GracePeriod between SIGTERM and SIGKILL on a forced stop.
	GracePeriod time.Duration
	// Runtime is the container CLI; defaults to DefaultContainerRuntime.
	Runtime string

	mu      sync.Mutex
	current *Session
}

// NewController creates a controller logging to log.
func NewController(log zerolog.Logger) *Controller {
	return &Controller{Log: log, Logs: logwatch.New()}
}

func (c *Controller) logs() *logwatch.Watcher {
	if c.Logs == nil {
		return logwatch.New()
	}
	return c.Logs
}

func (c *Controller) runtime() string {
	if c.Runtime == "" {
		return DefaultContainerRuntime
	}
	return c.Runtime
}

func (c *Controller) gracePeriod() time.Duration {
	if c.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return c.GracePeriod
}

// Start launches the server and blocks until it logs its ready marker. A server
// that exits or misses the start timeout is stopped and ErrServerNotReady is
// returned.
func (c *Controller) Start(ctx context.Context, params application.ServerParams) (application.ServerSession, error) {
	c.mu.Lock()
	if c.current != nil && !c.current.exited() {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	c.current = nil
	c.mu.Unlock()

	session, err := c.launch(params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.current = session
	c.mu.Unlock()

	if err := c.awaitReady(ctx, session); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), c.gracePeriod()*2)
		defer cancel()
		c.kill(stopCtx, session)
		c.finish(session)
		return nil, err
	}
	session.markReady()
	c.Log.Info().Str("session", session.id).Int("pid", session.Pid()).Str("server", params.ServerName).Msg("server is ready")
	return session, nil
}

func (c *Controller) launch(params application.ServerParams) (*Session, error) {
	serverDir := params.ServerDir()
	if params.LogFile == "" {
		params.LogFile = filepath.Join(serverDir, "logs", "console.log")
	}
	if params.StartTimeout <= 0 {
		params.StartTimeout = DefaultStartTimeout
	}
	if params.StopTimeout <= 0 {
		params.StopTimeout = DefaultStopTimeout
	}
	if params.StopPolicy == "" {
		params.StopPolicy = application.StopGraceful
	}
	if err := os.MkdirAll(filepath.Dir(params.LogFile), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	lock, err := acquireLock(filepath.Join(serverDir, lockName))
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	var container string
	if params.Container {
		container = "liberty-dev-" + id[:8]
	}
	argv, err := startCommand(params, container, c.runtime())
	if err != nil {
		_ = lock.release()
		return nil, err
	}

	// #nosec G304 -- Log path is derived from the server directory
	logFile, err := os.OpenFile(params.LogFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = lock.release()
		return nil, fmt.Errorf("opening server log: %w", err)
	}

	// #nosec G204 -- argv is built from the server configuration
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = serverDir
	cmd.Env = environment(params)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setProcessGroup(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = logFile.Close()
		_ = lock.release()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		_ = lock.release()
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	session := &Session{
		id:        id,
		params:    params,
		cmd:       cmd,
		stdin:     stdin,
		log:       logFile,
		lock:      lock,
		container: container,
		done:      make(chan struct{}),
	}
	go session.wait()

	c.Log.Debug().Str("session", id).Strs("command", argv).Str("log", params.LogFile).Msg("server process started")
	return session, nil
}

func (c *Controller) awaitReady(ctx context.Context, s *Session) error {
	timer := time.NewTimer(s.params.StartTimeout)
	defer timer.Stop()
	interval := c.logs().Interval
	if interval <= 0 {
		interval = logwatch.DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ready := domain.LogMessage(domain.CodeServerReady)
	for {
		if n, err := logwatch.CountOccurrences(ready, s.params.LogFile); err == nil && n > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return fmt.Errorf("%w: server exited with code %d", application.ErrServerNotReady, s.ExitCode())
		case <-timer.C:
			return fmt.Errorf("%w: %s not logged within %s", application.ErrServerNotReady, domain.CodeServerReady, s.params.StartTimeout)
		case <-ticker.C:
		}
	}
}

// Stop shuts the session down according to its stop policy and releases the
// server directory. Exit codes 0 and 1 count as a clean stop.
func (c *Controller) Stop(ctx context.Context, session application.ServerSession) error {
	s, ok := session.(*Session)
	if !ok || s == nil {
		return ErrUnknownSession
	}
	defer c.finish(s)

	if s.exited() {
		return nil
	}

	if s.params.StopPolicy == application.StopForced {
		c.kill(ctx, s)
		return c.awaitStopped(s, false)
	}

	if err := c.requestStop(ctx, s); err != nil {
		c.Log.Warn().Err(err).Str("session", s.id).Msg("stop request failed")
	}

	timer := time.NewTimer(s.params.StopTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		c.Log.Warn().Str("session", s.id).Dur("timeout", s.params.StopTimeout).Msg("server did not stop in time, killing it")
		c.kill(ctx, s)
		return c.awaitStopped(s, false)
	case <-ctx.Done():
		c.kill(context.Background(), s)
		return ctx.Err()
	}

	if err := c.awaitStopped(s, s.Ready()); err != nil {
		return err
	}
	if code := s.ExitCode(); code != 0 && code != 1 {
		return fmt.Errorf("server exited with code %d", code)
	}
	return nil
}

// requestStop writes the exit token to the server and runs the stop command.
func (c *Controller) requestStop(ctx context.Context, s *Session) error {
	if _, err := io.WriteString(s.stdin, exitToken); err != nil && !errors.Is(err, os.ErrClosed) {
		c.Log.Debug().Err(err).Msg("writing exit token")
	}
	_ = s.stdin.Close()

	argv := stopCommand(s.params, s.container, c.runtime())
	if len(argv) == 0 {
		return nil
	}
	// #nosec G204 -- argv is built from the server configuration
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = environment(s.params)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, out)
	}
	return nil
}

// kill sends SIGTERM to the process group and SIGKILL after the grace period.
func (c *Controller) kill(ctx context.Context, s *Session) {
	if s.exited() {
		return
	}
	pid := s.Pid()
	if pid <= 0 {
		return
	}
	if s.container != "" {
		// #nosec G204 -- container name is generated by the controller
		_ = exec.CommandContext(ctx, c.runtime(), "kill", s.container).Run()
	}
	if err := terminate(pid); err != nil {
		c.Log.Debug().Err(err).Int("pid", pid).Msg("terminate")
	}
	timer := time.NewTimer(c.gracePeriod())
	defer timer.Stop()
	select {
	case <-s.done:
		return
	case <-timer.C:
	case <-ctx.Done():
	}
	if err := kill(pid); err != nil {
		c.Log.Debug().Err(err).Int("pid", pid).Msg("kill")
	}
	<-s.done
}

// awaitStopped checks the log for the stopped marker once the process is gone.
func (c *Controller) awaitStopped(s *Session, requireMarker bool) error {
	<-s.done
	if !requireMarker {
		return nil
	}
	if !c.logs().WaitForMessage(domain.LogMessage(domain.CodeServerStopped), time.Second, s.params.LogFile) {
		return fmt.Errorf("server exited without logging %s", domain.CodeServerStopped)
	}
	return nil
}

func (c *Controller) finish(s *Session) {
	if err := s.lock.release(); err != nil {
		c.Log.Debug().Err(err).Msg("releasing server lock")
	}
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
	c.Log.Debug().Str("session", s.id).Int("exit_code", s.ExitCode()).Msg("server session ended")
}

// Current returns the running session, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
