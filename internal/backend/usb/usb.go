// Package usb implements the USB-bulk SID device backend (spec.md
// §4.4): VID 0xCAFE / PID 0x4011, a 1-byte opcode header packing up to
// 15 cycled writes per bulk-out transfer, and a parallel control
// channel for device-level commands (set clock, set model, mute,
// reset) that never touch the data path.
package usb

import (
	"fmt"
	"io"

	"github.com/sidrelay/sidrelay/internal/clock"
	"github.com/sidrelay/sidrelay/internal/control"
	"github.com/sidrelay/sidrelay/internal/reset"
	"github.com/sidrelay/sidrelay/internal/rlog"
	"github.com/sidrelay/sidrelay/internal/sidwrite"
)

var log = rlog.For("backend.usb")

// VendorID and ProductID identify the hardware this backend targets.
const (
	VendorID  = 0xcafe
	ProductID = 0x4011
)

const (
	opcodeCycledWrite = 0
	opcodeCommand     = 1
	configParam       = 0x00

	cmdSetClock     = 0x01
	cmdSetModel     = 0x02
	cmdMuteAll      = 0x03
	cmdReset        = 0x04
	cmdSetDevice    = 0x05
	cmdClearBuffer  = 0x06

	// MaxBatch is the largest number of writes per bulk transfer: one
	// header byte plus 15*4 payload bytes is 61 bytes.
	MaxBatch = 15
)

// Transfer is the minimal device-file handle this backend needs: a
// bulk-out endpoint write and a way to close the handle. Real
// enumeration/opening happens through internal/registry's udev
// integration; this interface keeps the framing logic testable
// without a real USB stack.
type Transfer interface {
	io.Writer
	io.Closer
}

// Device drives one USBSID-family board over its bulk-out endpoint.
type Device struct {
	xfer        Transfer
	socketCount int
	name        string
	connected   bool
}

// New wraps an already-opened bulk transfer handle.
func New(xfer Transfer, socketCount int) *Device {
	return &Device{xfer: xfer, socketCount: socketCount, name: "usbsid", connected: true}
}

// Name identifies this device instance for registry logging.
func (d *Device) Name() string { return d.name }

// IsConnected reports the last-known liveness of the bulk endpoint.
func (d *Device) IsConnected() bool { return d.connected }

// TestConnection probes the control channel with a harmless
// zero-parameter clear-buffer command; any write failure marks the
// device disconnected.
func (d *Device) TestConnection() error {
	if err := d.sendCommand(cmdClearBuffer, 0); err != nil {
		d.connected = false
		return err
	}
	return nil
}

// Disconnect closes the bulk transfer handle and marks the device
// gone.
func (d *Device) Disconnect() error {
	d.connected = false
	return d.xfer.Close()
}

// CyclesPerMicro reports the hardware's own ~1MHz counting rate; the
// device itself counts cycles, so the host-side scheduler gate only
// needs to avoid starving or overflowing its FIFO.
func (d *Device) CyclesPerMicro() float64 { return 1.0 }

func (d *Device) BatchSize() int   { return MaxBatch }
func (d *Device) SocketCount() int { return d.socketCount }

// Issue packs up to MaxBatch writes into one bulk-out frame: a header
// byte (opcode<<6 | len-1) followed by 4 bytes per write
// [reg, data, cycles_hi, cycles_lo] (spec.md §4.4 USB-bulk specifics).
// The device adds one sync cycle per write, so cycles-1 is sent.
func (d *Device) Issue(batch []sidwrite.Write) error {
	for len(batch) > 0 {
		n := len(batch)
		if n > MaxBatch {
			n = MaxBatch
		}
		frame := make([]byte, 1, 1+n*4)
		frame[0] = byte(opcodeCycledWrite<<6 | (n - 1))
		for _, w := range batch[:n] {
			sent := w.Cycles
			if sent > 0 {
				sent--
			}
			frame = append(frame, w.Reg, w.Data, byte(sent>>8), byte(sent))
		}
		if _, err := d.xfer.Write(frame); err != nil {
			return fmt.Errorf("usb: bulk write: %w", err)
		}
		batch = batch[n:]
	}
	return nil
}

// Silence returns the same silence sequence the common scheduler loop
// would issue on abort; USB devices count their own cycles so no
// cycle adjustment is needed here.
func (d *Device) Silence() []sidwrite.Write {
	return reset.AllSids(d.socketCount, false)
}

// sendCommand writes a 5-byte control frame:
// [opcode_COMMAND<<6 | CONFIG, command, param, 0, 0].
func (d *Device) sendCommand(cmd byte, param byte) error {
	frame := []byte{byte(opcodeCommand<<6 | configParam), cmd, param, 0, 0}
	_, err := d.xfer.Write(frame)
	return err
}

// HandleCommand translates an out-of-band control.Command into the
// device's control-channel wire format. PAL/NTSC selection on this
// backend is a device-side command, not host-side cycle stretching
// (spec.md §4.4): the device itself re-times its output clock.
func (d *Device) HandleCommand(cmd control.Command) error {
	switch cmd.Kind {
	case control.CmdSetClock:
		c, _ := cmd.Arg.(clock.Clock)
		return d.sendCommand(cmdSetClock, byte(c))
	case control.CmdSetModel:
		model, _ := cmd.Arg.(reset.SidModel)
		return d.sendCommand(cmdSetModel, byte(model))
	case control.CmdMuteAll:
		return d.sendCommand(cmdMuteAll, 0)
	case control.CmdReset:
		return d.sendCommand(cmdReset, 0)
	case control.CmdSetDevice:
		socket, _ := cmd.Arg.(int)
		return d.sendCommand(cmdSetDevice, byte(socket))
	case control.CmdClearBuffer:
		return d.sendCommand(cmdClearBuffer, 0)
	default:
		log.Warn("unhandled control command on usb backend", "kind", cmd.Kind.String())
		return nil
	}
}

// Close releases the bulk transfer handle.
func (d *Device) Close() error { return d.xfer.Close() }
