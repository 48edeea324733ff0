// Package rlog is the process-wide structured logger. Every other
// package asks for a named sub-logger instead of reaching for a global
// singleton directly, so call sites read "component=scheduler.usb" in
// the log stream without every file re-deriving that key.
package rlog

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu   sync.Mutex
	base = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
	})
)

// SetLevel adjusts verbosity for the whole process. Called once from
// cmd/sidrelay after flags are parsed.
func SetLevel(lvl log.Level) {
	mu.Lock()
	defer mu.Unlock()
	base.SetLevel(lvl)
}

// SetOutput redirects the base logger, used by tests that want to
// capture output instead of writing to stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base.SetOutput(w)
}

// For returns a sub-logger tagged with component=name.
func For(name string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base.With("component", name)
}
