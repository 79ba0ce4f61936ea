// Package logwatch polls a server log file for messages.
//
// The log is opened read-only on every poll and never locked, so the server
// process can keep appending to it while it is being watched.
package logwatch

import (
	"bufio"
	"errors"
	"io"
	"os"
	"time"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// DefaultInterval is the delay between two polls of the log file.
const DefaultInterval = 50 * time.Millisecond

// Matcher decides whether a log line contains the awaited message.
type Matcher = domain.LogMatcher

// Contains matches lines containing the literal substring s.
func Contains(s string) Matcher {
	return domain.LogMessage(s)
}

// Regexp matches lines against a regular expression.
func Regexp(expr string) (Matcher, error) {
	m, err := domain.NewLogPattern(expr)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MustRegexp is like Regexp but panics on an invalid expression.
func MustRegexp(expr string) Matcher {
	m, err := Regexp(expr)
	if err != nil {
		panic(err)
	}
	return m
}

// AppStarted matches the message a server logs once the named application has
// started (code CWWKZ0001I followed by the application name).
func AppStarted(app string) Matcher {
	return domain.AppMessage(domain.CodeAppStarted, app)
}

// Watcher polls log files.
type Watcher struct {
	Interval time.Duration
}

// New creates a watcher with the default poll interval.
func New() *Watcher {
	return &Watcher{Interval: DefaultInterval}
}

func (w *Watcher) interval() time.Duration {
	if w == nil || w.Interval <= 0 {
		return DefaultInterval
	}
	return w.Interval
}

// WaitForMessage polls logFile until a line matches m or timeout elapses.
// It returns false on timeout and never fails: an unreadable or missing log is
// treated as not containing the message yet.
func (w *Watcher) WaitForMessage(m Matcher, timeout time.Duration, logFile string) bool {
	return w.poll(timeout, func() bool {
		n, err := CountOccurrences(m, logFile)
		return err == nil && n > 0
	})
}

// WaitForOccurrences polls logFile until exactly expected lines match m.
func (w *Watcher) WaitForOccurrences(m Matcher, timeout time.Duration, logFile string, expected int) bool {
	return w.poll(timeout, func() bool {
		n, err := CountOccurrences(m, logFile)
		if err != nil {
			return expected == 0
		}
		return n == expected
	})
}

func (w *Watcher) poll(timeout time.Duration, done func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if done() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(w.interval())
	}
}

// CountOccurrences returns how many lines of logFile match m. A missing file
// contains no lines.
func CountOccurrences(m Matcher, logFile string) (int, error) {
	f, err := os.Open(logFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	return countReader(m, f)
}

func countReader(m Matcher, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		if m.Match(sc.Text()) {
			n++
		}
	}
	return n, sc.Err()
}
