// Package http implements the HTTP remote player backend (spec.md
// §4.4 "HTTP remote player", grounded on the Ultimate device's
// multipart-POST-plus-UDP-watchdog design): not a cycle-by-cycle
// backend. The whole SID file and song number are POSTed once; the
// host then only tracks an estimated cycles-in-FIFO counter and pings
// the device over UDP to confirm it is still alive.
package http

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/sidrelay/sidrelay/internal/control"
	"github.com/sidrelay/sidrelay/internal/rlog"
	"github.com/sidrelay/sidrelay/internal/sidwrite"
)

var log = rlog.For("backend.http")

const (
	sidPlayEndpoint = "/v1/runners:sidplay"
	songParam       = "songnr"

	connectionTimeout = 500 * time.Millisecond
	totalTimeout      = 5 * time.Second

	watchdogMagic    = "Any Ultimates around?"
	watchdogInterval = 2 * time.Second
	udpTimeout       = 100 * time.Millisecond

	// minCyclesInFIFO approximates when the remote player's own buffer
	// runs dry; the scheduler sleeps instead of issuing real writes.
	minCyclesInFIFO = 4 * 312 * 63
)

// Device drives one Ultimate-class HTTP remote player.
type Device struct {
	baseURL  string
	udpAddr  string
	client   *http.Client
	sidData  []byte
	song     int

	cyclesInFIFO uint32
	stopWatchdog chan struct{}

	name      string
	connected bool
}

// New builds a Device targeting baseURL (e.g. "http://192.168.1.64")
// and udpAddr (host:port) for the watchdog ping.
func New(baseURL, udpAddr string) *Device {
	return &Device{
		baseURL:   baseURL,
		udpAddr:   udpAddr,
		client:    &http.Client{Timeout: totalTimeout},
		name:      "ultimate-http",
		connected: true,
	}
}

// Name identifies this device instance for registry logging.
func (d *Device) Name() string { return d.name }

// IsConnected reports the last-known liveness of the watchdog ping.
func (d *Device) IsConnected() bool { return d.connected }

// TestConnection reuses the watchdog UDP ping as a liveness probe;
// failure marks the device disconnected.
func (d *Device) TestConnection() error {
	if err := d.ping(); err != nil {
		d.connected = false
		return err
	}
	return nil
}

// Disconnect stops the watchdog goroutine and marks the device gone.
func (d *Device) Disconnect() error {
	d.connected = false
	d.StopWatchdog()
	return nil
}

// HandleCommand answers the commands meaningful to a whole-file
// remote player: Reset re-POSTs the last tune and song, ClearBuffer
// resets the estimated FIFO level. The remote player has no
// per-voice mute or model-select surface, so those log and no-op.
func (d *Device) HandleCommand(cmd control.Command) error {
	switch cmd.Kind {
	case control.CmdReset:
		if d.sidData == nil {
			return nil
		}
		return d.SendSID(context.Background(), "tune.sid", d.song, d.sidData)
	case control.CmdClearBuffer:
		d.cyclesInFIFO = 0
		return nil
	default:
		log.Warn("unhandled control command on http backend", "kind", cmd.Kind.String())
		return nil
	}
}

// CyclesPerMicro is nominal PAL; this backend never meters real
// cycle-by-cycle timing, only its own idle-sleep budget.
func (d *Device) CyclesPerMicro() float64 { return 0.985248 }

// BatchSize is large: writes from the producer are swallowed into a
// sleep rather than issued individually (spec.md §4.4).
func (d *Device) BatchSize() int   { return 4096 }
func (d *Device) SocketCount() int { return 1 }

// SendSID POSTs the tune and selected song as multipart form data to
// the sidplay endpoint, per spec.md §4.4's "entire SID file ... is
// POSTed as multipart to a REST endpoint".
func (d *Device) SendSID(ctx context.Context, filename string, song int, sidData []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("sid", filename)
	if err != nil {
		return fmt.Errorf("http: create form file: %w", err)
	}
	if _, err := part.Write(sidData); err != nil {
		return fmt.Errorf("http: write sid payload: %w", err)
	}
	if err := w.WriteField(songParam, fmt.Sprintf("%d", song)); err != nil {
		return fmt.Errorf("http: write song field: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("http: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+sidPlayEndpoint, &body)
	if err != nil {
		return fmt.Errorf("http: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("http: sidplay request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http: sidplay returned status %d", resp.StatusCode)
	}

	d.sidData, d.song = sidData, song
	d.cyclesInFIFO = minCyclesInFIFO
	return nil
}

// Issue does not stream individual writes to an HTTP player; it
// only sleeps for the batch's nominal duration (the estimated FIFO
// level is left unchanged), matching spec.md §4.4's "writes are swallowed into a
// sleep that preserves the host's sense of time".
func (d *Device) Issue(batch []sidwrite.Write) error {
	var cycles uint64
	for _, w := range batch {
		cycles += uint64(w.Cycles)
	}
	time.Sleep(time.Duration(float64(cycles)/d.CyclesPerMicro()) * time.Microsecond)
	return nil
}

func (d *Device) Silence() []sidwrite.Write { return nil }

// StartWatchdog periodically sends the magic UDP ping and logs when
// the device stops answering; it does not abort playback on its own,
// matching the original's "confirm connectivity" rather than
// "terminate on timeout" semantics.
func (d *Device) StartWatchdog(ctx context.Context) {
	d.stopWatchdog = make(chan struct{})
	go func() {
		ticker := time.NewTicker(watchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopWatchdog:
				return
			case <-ticker.C:
				if err := d.ping(); err != nil {
					log.Warn("ultimate device watchdog ping failed", "err", err)
				}
			}
		}
	}()
}

func (d *Device) ping() error {
	conn, err := net.DialTimeout("udp", d.udpAddr, connectionTimeout)
	if err != nil {
		return fmt.Errorf("http: dial watchdog udp: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(udpTimeout))
	if _, err := conn.Write([]byte(watchdogMagic)); err != nil {
		return fmt.Errorf("http: write watchdog ping: %w", err)
	}
	buf := make([]byte, len(watchdogMagic))
	if _, err := conn.Read(buf); err != nil {
		return fmt.Errorf("http: read watchdog reply: %w", err)
	}
	return nil
}

// StopWatchdog stops the background ping goroutine.
func (d *Device) StopWatchdog() {
	if d.stopWatchdog != nil {
		close(d.stopWatchdog)
	}
}
