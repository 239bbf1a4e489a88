package dabovar

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"testing"
)

var quietRegister = testing.Testing()

// RegisterLogger returns the logger to pass as bstore.Options.RegisterLogger.
//
// Under test, nil is returned for database files that do not exist yet, so
// fresh test databases do not log their schema registration.
func RegisterLogger(path string, log *slog.Logger) *slog.Logger {
	if !quietRegister {
		return log
	}
	if _, err := os.Stat(path); err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return log
}
