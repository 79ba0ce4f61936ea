// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// New returns a console logger writing to w. Debug events are dropped unless
// verbose is set. Output is coloured only when w is a terminal.
func New(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !colorEnabled(w),
		TimeFormat: time.TimeOnly,
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a sub-logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetVerbose switches the process-wide level between info and debug.
func SetVerbose(verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// EventLog publishes domain events as debug log entries.
type EventLog struct {
	Log zerolog.Logger
}

// Publish implements domain.EventPublisher.
func (e EventLog) Publish(event domain.DomainEvent) error {
	e.Log.Debug().Str("event", event.EventType()).Time("at", event.OccurredAt()).Msg("dev-mode event")
	return nil
}
