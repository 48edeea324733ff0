// Package keyboard reads single raw keystrokes from the controlling
// terminal for the UI thread described in spec.md §5: "reads keyboard
// ... sends commands via a bounded synchronous channel to the
// producer. Also owns the abort_type atomic." Grounded on
// internal/backend/ftdi's use of github.com/pkg/term to put a tty into
// raw mode, applied here to stdin's controlling terminal instead of a
// SIDBlaster's serial line.
package keyboard

import (
	"context"
	"io"

	"github.com/pkg/term"

	"github.com/sidrelay/sidrelay/internal/rlog"
)

var log = rlog.For("keyboard")

// ttyPath is the controlling terminal device; opening it directly
// (rather than os.Stdin) keeps key reads working even when stdin is
// redirected.
const ttyPath = "/dev/tty"

// Listen puts the controlling terminal into raw mode and calls onKey
// once per byte read, until ctx is cancelled or the terminal closes.
// It is a no-op (logging a warning) when no controlling terminal is
// available, e.g. under a test harness or a detached service.
func Listen(ctx context.Context, onKey func(b byte)) {
	t, err := term.Open(ttyPath, term.RawMode)
	if err != nil {
		log.Warn("no controlling terminal, keyboard commands disabled", "err", err)
		return
	}
	listen(ctx, t, onKey)
}

// reader is the subset of *term.Term Listen needs, narrowed so tests
// can substitute a pty instead of a real controlling terminal.
type reader interface {
	io.Reader
	io.Closer
}

func listen(ctx context.Context, t reader, onKey func(b byte)) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 1)
		for {
			n, err := t.Read(buf)
			if err != nil {
				if err != io.EOF {
					log.Warn("reading keyboard input", "err", err)
				}
				return
			}
			if n > 0 {
				onKey(buf[0])
			}
		}
	}()

	go func() {
		<-ctx.Done()
		t.Close()
	}()

	<-done
}
