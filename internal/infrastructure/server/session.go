package server

import (
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/felixgeelhaar/libertydev/internal/application"
)

// Session is a running server process.
type Session struct {
	id        string
	params    application.ServerParams
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	log       *os.File
	lock      *fileLock
	container string // container name, when running in a container

	done chan struct{}

	mu      sync.Mutex
	ready   bool
	exitErr error
}

func (s *Session) ID() string            { return s.id }
func (s *Session) LogFile() string       { return s.params.LogFile }
func (s *Session) DebugPort() int        { return s.params.DebugPort }
func (s *Session) Container() bool       { return s.container != "" }
func (s *Session) Done() <-chan struct{} { return s.done }

// Pid returns the process ID of the server (or container client) process.
func (s *Session) Pid() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Ready reports whether the server logged its ready marker.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Session) markReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
}

// ExitCode returns the exit code of the process once it has exited, or -1.
func (s *Session) ExitCode() int {
	select {
	case <-s.done:
	default:
		return -1
	}
	if s.cmd.ProcessState == nil {
		return -1
	}
	return s.cmd.ProcessState.ExitCode()
}

func (s *Session) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) wait() {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.exitErr = err
	s.mu.Unlock()
	_ = s.log.Close()
	close(s.done)
}
