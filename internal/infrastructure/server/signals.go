package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM so that the
// server is stopped before the process exits.
func ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
