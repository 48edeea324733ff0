// Package net implements the TCP network SID device backend (spec.md
// §4.4): the v2 wire protocol, [cmd, arg, len_hi, len_lo] + payload
// framed batches, Busy-retry-after-sleep, and Error-closes-connection
// semantics. v1 (implicit two-device, no stereo) is rejected at
// connect time per the Open Question resolution recorded in
// SPEC_FULL.md §9.
package net

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/sidrelay/sidrelay/internal/clock"
	"github.com/sidrelay/sidrelay/internal/control"
	"github.com/sidrelay/sidrelay/internal/errs"
	"github.com/sidrelay/sidrelay/internal/reset"
	"github.com/sidrelay/sidrelay/internal/rlog"
	"github.com/sidrelay/sidrelay/internal/sidwrite"
)

var log = rlog.For("backend.net")

// Command is the v2 request opcode set (spec.md §6's wire table).
type Command byte

const (
	CmdFlush Command = iota
	CmdTrySetSidCount
	CmdMute
	CmdTryReset
	CmdTryDelay
	CmdTryWrite
	CmdTryRead
	CmdGetVersion
	CmdTrySetSampling
	CmdTrySetClock
	CmdGetConfigCount
	CmdGetConfigInfo
	CmdSetSidPosition
	CmdSetSidLevel
	CmdTrySetSidModel
	CmdSetDelay
	CmdSetFadeIn
	CmdSetFadeOut
	CmdSetPsidHeader
)

// Response is the v2 reply opcode set.
type Response byte

const (
	RespOk Response = iota
	RespBusy
	RespError
	RespRead
	RespVersion
	RespCount
	RespInfo
)

const (
	writeBufferSize       = 1024
	bufferSingleWriteSize = 4
	maxSidWrites          = writeBufferSize - bufferSingleWriteSize
	writeCyclesThreshold  = 63 * 312 * 5 / 2
	minWaitTimeBusy       = 15 * time.Millisecond
	bufferHeaderSize      = 4
)

// Conn is the minimal transport the backend needs: a read/write byte
// stream (a *net.TCPConn in production, an in-memory pipe in tests).
type Conn interface {
	io.Reader
	io.Writer
}

// Device drives one v2 network SID server connection.
type Device struct {
	conn   Conn
	r      *bufio.Reader
	sockets int

	buf       []byte
	bufCycles uint32

	name      string
	connected bool
}

// Dial wraps an already-connected v2 stream. Callers that need to
// open the TCP connection use the stdlib net package directly; this
// type only speaks the wire protocol once connected.
func Dial(conn Conn, sockets int) (*Device, error) {
	d := &Device{conn: conn, r: bufio.NewReader(conn), sockets: sockets, name: "network-sid", connected: true}
	d.resetBuffer()

	version, err := d.requestByte(CmdGetVersion, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("net: get version: %w", err)
	}
	if version < 2 {
		return nil, errs.Config(fmt.Sprintf("network SID server speaks protocol v%d; v1 (no stereo) is not supported", version), nil)
	}
	return d, nil
}

func (d *Device) resetBuffer() {
	d.buf = make([]byte, bufferHeaderSize, writeBufferSize)
	d.bufCycles = 0
}

func (d *Device) CyclesPerMicro() float64 { return 0.985248 } // PAL rate; device re-times internally
func (d *Device) BatchSize() int          { return maxSidWrites / bufferSingleWriteSize }
func (d *Device) SocketCount() int        { return d.sockets }

// Issue appends each write to the v2 batch buffer as
// [cycles_hi, cycles_lo, (sid_index<<5)|(reg&0x1F), data], flushing
// when the buffer or cycle-threshold is reached (spec.md §4.4).
func (d *Device) Issue(batch []sidwrite.Write) error {
	for _, w := range batch {
		if len(d.buf)+bufferSingleWriteSize > writeBufferSize || d.bufCycles >= writeCyclesThreshold {
			if err := d.flush(); err != nil {
				return err
			}
		}
		d.buf = append(d.buf, byte(w.Cycles>>8), byte(w.Cycles), w.Reg, w.Data)
		d.bufCycles += uint32(w.Cycles)
	}
	return d.flush()
}

func (d *Device) flush() error {
	if len(d.buf) == bufferHeaderSize {
		return nil
	}
	payload := d.buf[bufferHeaderSize:]
	d.buf[0] = byte(CmdTryWrite)
	d.buf[1] = 0
	d.buf[2] = byte(len(payload) >> 8)
	d.buf[3] = byte(len(payload))

	for {
		if _, err := d.conn.Write(d.buf); err != nil {
			return fmt.Errorf("net: write batch: %w", err)
		}
		resp, err := d.readResponse()
		if err != nil {
			return err
		}
		switch resp {
		case RespOk:
			d.resetBuffer()
			return nil
		case RespBusy:
			time.Sleep(minWaitTimeBusy)
			continue
		default:
			d.Disconnect()
			return fmt.Errorf("net: server replied %d, closing connection", resp)
		}
	}
}

// requestByte sends a command and returns the data byte that follows
// the response; an Ok response carries no data byte and yields 0.
func (d *Device) requestByte(cmd Command, arg byte, payload []byte) (byte, error) {
	header := []byte{byte(cmd), arg, byte(len(payload) >> 8), byte(len(payload))}
	if _, err := d.conn.Write(append(header, payload...)); err != nil {
		return 0, err
	}
	resp, err := d.readResponse()
	if err != nil {
		return 0, err
	}
	if resp == RespError {
		return 0, fmt.Errorf("net: server returned Error for command %d", cmd)
	}
	if resp == RespOk {
		return 0, nil
	}
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	return b, nil
}

func (d *Device) readResponse() (Response, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("net: read response: %w", err)
	}
	return Response(b), nil
}

// Silence returns no writes. The v2 protocol has no bulk silence
// opcode; HandleCommand sends CmdTryReset for a Reset command instead.
func (d *Device) Silence() []sidwrite.Write { return nil }

// Name identifies this connection for registry logging.
func (d *Device) Name() string { return d.name }

// IsConnected reports the last-known liveness of the TCP stream.
func (d *Device) IsConnected() bool { return d.connected }

// TestConnection probes the server with a zero-argument GetVersion
// request; any I/O failure marks the device disconnected.
func (d *Device) TestConnection() error {
	if _, err := d.requestByte(CmdGetVersion, 0, nil); err != nil {
		d.connected = false
		return err
	}
	return nil
}

// Disconnect closes the underlying connection, if closeable, and
// marks the device gone.
func (d *Device) Disconnect() error {
	d.connected = false
	if closer, ok := d.conn.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// HandleCommand translates an out-of-band control.Command into the
// matching v2 wire command.
func (d *Device) HandleCommand(cmd control.Command) error {
	switch cmd.Kind {
	case control.CmdSetClock:
		c, _ := cmd.Arg.(clock.Clock)
		_, err := d.requestByte(CmdTrySetClock, byte(c), nil)
		return err
	case control.CmdSetModel:
		model, _ := cmd.Arg.(reset.SidModel)
		_, err := d.requestByte(CmdTrySetSidModel, byte(model), nil)
		return err
	case control.CmdMuteAll:
		_, err := d.requestByte(CmdMute, 0, nil)
		return err
	case control.CmdReset:
		_, err := d.requestByte(CmdTryReset, 0, nil)
		return err
	case control.CmdClearBuffer:
		_, err := d.requestByte(CmdFlush, 0, nil)
		return err
	default:
		log.Warn("unhandled control command on net backend", "kind", cmd.Kind.String())
		return nil
	}
}
