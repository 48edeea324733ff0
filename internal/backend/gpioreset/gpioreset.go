// Package gpioreset drives an optional GPIO line that hard-resets SID
// hardware sitting behind a Raspberry-Pi-class host, for boards (like
// some armSID/FPGASID carrier setups) whose reset pin is wired to a
// GPIO header rather than addressable over the data backend itself.
// This is supplemental to spec.md §4.7's register-level reset recipes,
// not a replacement for them.
package gpioreset

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sidrelay/sidrelay/internal/rlog"
)

var log = rlog.For("backend.gpioreset")

// resetPulseWidth is how long the reset line is held active before
// being released, long enough for a SID's reset input to register.
const resetPulseWidth = 20 * time.Millisecond

// Line wraps a single GPIO output line used as an active-low hardware
// reset signal.
type Line struct {
	req *gpiocdev.Line
}

// Open requests exclusive output control of offset on the given chip
// (e.g. "gpiochip0"), defaulting the line high (reset inactive).
func Open(chip string, offset int) (*Line, error) {
	req, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(1))
	if err != nil {
		return nil, fmt.Errorf("gpioreset: request line %s:%d: %w", chip, offset, err)
	}
	return &Line{req: req}, nil
}

// Pulse drives the line low, waits resetPulseWidth, then releases it.
func (l *Line) Pulse() error {
	if err := l.req.SetValue(0); err != nil {
		return fmt.Errorf("gpioreset: assert low: %w", err)
	}
	time.Sleep(resetPulseWidth)
	if err := l.req.SetValue(1); err != nil {
		return fmt.Errorf("gpioreset: release high: %w", err)
	}
	log.Debug("pulsed hardware reset line")
	return nil
}

// Close releases the GPIO line request.
func (l *Line) Close() error {
	return l.req.Close()
}
