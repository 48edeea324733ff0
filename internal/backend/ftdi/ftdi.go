// Package ftdi implements the FTDI-serial SID device backend (spec.md
// §4.4): SIDBlaster-style boards where every register write is two
// bytes, (reg&0x1F)|0xE0 then data, with the host timing the 500kbit/s
// line itself since the device does no cycle counting of its own.
package ftdi

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/term"

	"github.com/sidrelay/sidrelay/internal/control"
	"github.com/sidrelay/sidrelay/internal/rlog"
	"github.com/sidrelay/sidrelay/internal/sidwrite"
)

var log = rlog.For("backend.ftdi")

const (
	// BaudRate matches sidblaster.rs's BAUD_RATE.
	BaudRate = 500_000

	// maxBatchWrites and maxBatchCycles are the flush thresholds
	// spec.md §4.4 names for this backend ("small batches when the next
	// write's cycle distance exceeds thresholds").
	maxBatchWrites = 50
	maxBatchCycles = 1000

	// sameRegisterFlushCycles forces an early flush so two writes to
	// the same register land close enough together to matter audibly.
	sameRegisterFlushCycles = 20

	writeOpcodeMask = 0xe0
)

// Port is the subset of *term.Term this backend needs, narrowed so
// tests can substitute a pty.
type Port interface {
	io.Writer
	io.Closer
}

// Open configures a serial device the way sidblaster.rs's
// configure_device does: 500kbaud, 8N1, no flow control, raw mode.
// Grounded on doismellburning-samoyed's serial_port_open, which uses
// the same github.com/pkg/term package.
func Open(devicePath string) (*term.Term, error) {
	t, err := term.Open(devicePath, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("ftdi: open %s: %w", devicePath, err)
	}
	if err := t.SetSpeed(BaudRate); err != nil {
		t.Close()
		return nil, fmt.Errorf("ftdi: set baud rate: %w", err)
	}
	return t, nil
}

// Device drives one SIDBlaster-style board over an already-open
// serial port.
type Device struct {
	port        Port
	lastRegTime map[uint8]uint32
	cyclesNow   uint32

	pending       []byte
	pendingCycles uint32

	name      string
	connected bool
}

// New wraps an opened serial port for one logical SID socket.
func New(port Port) *Device {
	return &Device{port: port, lastRegTime: make(map[uint8]uint32), name: "sidblaster", connected: true}
}

// Name identifies this device instance for registry logging.
func (d *Device) Name() string { return d.name }

// IsConnected reports the last-known liveness of the serial port.
func (d *Device) IsConnected() bool { return d.connected }

// TestConnection probes the port with a harmless zero-duration write;
// any failure marks the device disconnected. The board has no status
// read-back, so this is the closest equivalent to the other backends'
// control-channel probes.
func (d *Device) TestConnection() error {
	if _, err := d.port.Write(nil); err != nil {
		d.connected = false
		return fmt.Errorf("ftdi: probe: %w", err)
	}
	return nil
}

// Disconnect closes the serial port and marks the device gone.
func (d *Device) Disconnect() error {
	d.connected = false
	return d.port.Close()
}

// HandleCommand answers the out-of-band commands this backend can
// honor directly on the data path; it has no side control channel, so
// mute and reset are expressed as ordinary register writes.
func (d *Device) HandleCommand(cmd control.Command) error {
	switch cmd.Kind {
	case control.CmdMuteAll, control.CmdReset:
		return d.Issue(d.Silence())
	case control.CmdClearBuffer:
		return d.flush()
	default:
		log.Warn("unhandled control command on ftdi backend", "kind", cmd.Kind.String())
		return nil
	}
}

// CyclesPerMicro is the nominal PAL rate; the host is solely
// responsible for timing since the board has no cycle counter.
func (d *Device) CyclesPerMicro() float64 { return 0.985248 }

func (d *Device) BatchSize() int   { return maxBatchWrites }
func (d *Device) SocketCount() int { return 1 }

// Issue writes each register write as two bytes and flushes whenever
// the accumulated batch crosses a write-count or cycle threshold, or
// the same register is touched again within sameRegisterFlushCycles
// (spec.md §4.4 FTDI specifics).
func (d *Device) Issue(batch []sidwrite.Write) error {
	for _, w := range batch {
		reg := sidwrite.Register(w.Reg)

		if last, ok := d.lastRegTime[reg]; ok && d.cyclesNow-last < sameRegisterFlushCycles {
			if err := d.flush(); err != nil {
				return err
			}
		}

		d.pending = append(d.pending, reg|writeOpcodeMask, w.Data)
		d.pendingCycles += uint32(w.Cycles)
		d.cyclesNow += uint32(w.Cycles)
		d.lastRegTime[reg] = d.cyclesNow

		if len(d.pending)/2 >= maxBatchWrites || d.pendingCycles >= maxBatchCycles {
			if err := d.flush(); err != nil {
				return err
			}
		}
	}
	return d.flush()
}

func (d *Device) flush() error {
	if len(d.pending) == 0 {
		return nil
	}
	// The board has no cycle counter; the host sleeps to cover the
	// nominal duration of this batch before the next flush is issued.
	time.Sleep(time.Duration(float64(d.pendingCycles)/d.CyclesPerMicro()) * time.Microsecond)

	if _, err := d.port.Write(d.pending); err != nil {
		return fmt.Errorf("ftdi: serial write: %w", err)
	}
	d.pending = d.pending[:0]
	d.pendingCycles = 0
	return nil
}

// Silence writes the literal 14-byte silence sequence sidblaster.rs
// uses directly: the volume register (0x18) and the three voices'
// frequency registers zeroed without going through the reset package's general recipe,
// since this backend addresses one un-socketed chip at a time.
func (d *Device) Silence() []sidwrite.Write {
	regs := []uint8{0x18, 0x01, 0x00, 0x08, 0x07, 0x0f, 0x0e}
	writes := make([]sidwrite.Write, 0, len(regs))
	for _, r := range regs {
		writes = append(writes, sidwrite.Write{Reg: r, Data: 0})
	}
	return writes
}

// Close releases the serial port.
func (d *Device) Close() error {
	log.Debug("closing FTDI serial port")
	return d.port.Close()
}
