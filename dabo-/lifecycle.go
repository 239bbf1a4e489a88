package dabo

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Shutdown is canceled when the process is asked to stop, e.g. on an interrupt
// signal. Long running operations like queries use it as parent context, so
// a blocking driver call is aborted and its connection reports a lost
// connection.
var Shutdown context.Context
var ShutdownCancel func()

func init() {
	Shutdown, ShutdownCancel = context.WithCancel(context.Background())
}

// ShutdownOnSignal cancels Shutdown on SIGINT or SIGTERM. A second signal
// stops the process immediately.
func ShutdownOnSignal() {
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		pkglog.Print("shutting down", slog.String("signal", sig.String()))
		ShutdownCancel()
		<-sigc
		pkglog.Print("second signal, exiting")
		os.Exit(1)
	}()
}
