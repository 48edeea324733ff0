// Package registry maps logical SID indices (what a client addresses
// by number) onto the physical device instance and socket offset that
// actually owns that chip, the way the original acid64 engine's
// SidDevices facade does. Grounded on
// original_source/src/player/sid_devices.rs.
package registry

import (
	"fmt"
	"sync"

	"github.com/sidrelay/sidrelay/internal/control"
	"github.com/sidrelay/sidrelay/internal/reset"
	"github.com/sidrelay/sidrelay/internal/rlog"
	"github.com/sidrelay/sidrelay/internal/scheduler"
)

var log = rlog.For("registry")

// Device is one connected backend instance (a USB dongle, a network
// server, an FTDI dongle, an HTTP remote) exposed through the
// scheduler.Backend surface plus the identity/connection-state calls
// the registry needs to route and supervise it.
type Device interface {
	scheduler.Backend

	Name() string
	IsConnected() bool
	TestConnection() error
	Disconnect() error
	HandleCommand(cmd control.Command) error
}

// Registry holds every connected Device and the logical-SID-index to
// (device, socket-offset) mapping clients address chips by,
// mirroring SidDevices' parallel device_mapping_id/device_offset
// arrays.
type Registry struct {
	mu sync.Mutex

	devices      []Device
	cmds         []*control.Channel
	mappingID    []int
	socketOffset []int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add registers a connected device, the command channel feeding the
// scheduler goroutine that owns its handle, and appends one logical
// SID index per socket it exposes, in socket order. cmds may be nil
// for devices with no scheduler goroutine yet (e.g. in tests that
// never exercise Broadcast); Broadcast skips a nil channel.
func (r *Registry) Add(dev Device, cmds *control.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	devIdx := len(r.devices)
	r.devices = append(r.devices, dev)
	r.cmds = append(r.cmds, cmds)
	for offset := 0; offset < dev.SocketCount(); offset++ {
		r.mappingID = append(r.mappingID, devIdx)
		r.socketOffset = append(r.socketOffset, offset)
	}

	log.Info("device registered", "name", dev.Name(), "sockets", dev.SocketCount())
}

// Count returns the total number of logical SID indices across every
// registered device.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mappingID)
}

// resolve returns the device and its local socket offset for a
// logical SID index. Caller must hold r.mu.
func (r *Registry) resolve(sidIndex int) (Device, int, error) {
	if sidIndex < 0 || sidIndex >= len(r.mappingID) {
		return nil, 0, fmt.Errorf("registry: sid index %d out of range", sidIndex)
	}
	devIdx := r.mappingID[sidIndex]
	return r.devices[devIdx], r.socketOffset[sidIndex], nil
}

// DeviceFor exposes the resolved device and socket offset for a
// logical SID index, for callers (the scheduler wiring in cmd/
// sidrelay) that need to route writes directly.
func (r *Registry) DeviceFor(sidIndex int) (Device, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolve(sidIndex)
}

// CmdsFor returns the command channel bound to sidIndex's owning
// device (nil if it was registered without one), for a caller that
// needs to hand it to scheduler.Loop.
func (r *Registry) CmdsFor(sidIndex int) (*control.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sidIndex < 0 || sidIndex >= len(r.mappingID) {
		return nil, fmt.Errorf("registry: sid index %d out of range", sidIndex)
	}
	return r.cmds[r.mappingID[sidIndex]], nil
}

// IsConnected reports whether sidIndex's owning device is connected.
// sidIndex == -1 means "every device".
func (r *Registry) IsConnected(sidIndex int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sidIndex == -1 {
		for _, dev := range r.devices {
			if !dev.IsConnected() {
				return false
			}
		}
		return true
	}

	dev, _, err := r.resolve(sidIndex)
	if err != nil {
		return false
	}
	return dev.IsConnected()
}

// TestConnection probes sidIndex's device (or every device, if -1)
// and disconnects any device found unresponsive, same as acid64's
// test_connection/disconnect_device pairing.
func (r *Registry) TestConnection(sidIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sidIndex == -1 {
		for i := len(r.devices) - 1; i >= 0; i-- {
			if err := r.devices[i].TestConnection(); err != nil || !r.devices[i].IsConnected() {
				r.disconnectLocked(i)
			}
		}
		return
	}

	dev, _, err := r.resolve(sidIndex)
	if err != nil {
		return
	}
	if err := dev.TestConnection(); err != nil || !dev.IsConnected() {
		for i, d := range r.devices {
			if d == dev {
				r.disconnectLocked(i)
				break
			}
		}
	}
}

// CanPairDevices reports whether two logical SID indices live on the
// same physical device instance and can be driven in lockstep (e.g.
// as a stereo pair on one USB/network backend).
func (r *Registry) CanPairDevices(sid1, sid2 int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sid1 < 0 || sid1 >= len(r.mappingID) || sid2 < 0 || sid2 >= len(r.mappingID) {
		return false
	}
	return r.mappingID[sid1] == r.mappingID[sid2]
}

// Disconnect drops sidIndex's owning device and every logical index
// it served, renumbering the remaining mapping in place.
func (r *Registry) Disconnect(sidIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	devIdx, _, err := r.resolve(sidIndex)
	if err != nil {
		return
	}
	for i, d := range r.devices {
		if d == devIdx {
			r.disconnectLocked(i)
			return
		}
	}
}

func (r *Registry) disconnectLocked(devIdx int) {
	dev := r.devices[devIdx]
	if err := dev.Disconnect(); err != nil {
		log.Warn("error disconnecting device", "name", dev.Name(), "err", err)
	}

	r.devices = append(r.devices[:devIdx], r.devices[devIdx+1:]...)
	r.cmds = append(r.cmds[:devIdx], r.cmds[devIdx+1:]...)

	keepMapping := r.mappingID[:0]
	keepOffset := r.socketOffset[:0]
	for i, m := range r.mappingID {
		switch {
		case m == devIdx:
			continue
		case m > devIdx:
			keepMapping = append(keepMapping, m-1)
		default:
			keepMapping = append(keepMapping, m)
		}
		keepOffset = append(keepOffset, r.socketOffset[i])
	}
	r.mappingID = keepMapping
	r.socketOffset = keepOffset

	log.Info("device disconnected", "name", dev.Name())
}

// SilenceAll mutes every socket on every registered device, used on
// shutdown and before handing control back after a pairing change.
func (r *Registry) SilenceAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dev := range r.devices {
		writes := reset.AllSids(dev.SocketCount(), false)
		if err := dev.Issue(writes); err != nil {
			log.Warn("silence failed", "name", dev.Name(), "err", err)
		}
	}
}

// Broadcast fans an out-of-band command out to every registered
// device's command channel, for session-wide commands like MuteAll
// that are not addressed to one logical SID index. It never touches a
// device handle directly: spec.md §5 gives the scheduler goroutine
// exclusive ownership of each handle, so Broadcast only enqueues and
// the owning scheduler's drainCommands applies it via HandleCommand.
func (r *Registry) Broadcast(cmd control.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, dev := range r.devices {
		ch := r.cmds[i]
		if ch == nil {
			log.Warn("no command channel bound, dropping broadcast", "name", dev.Name(), "kind", cmd.Kind)
			continue
		}
		if !ch.TrySend(cmd) {
			log.Warn("command channel full, dropping broadcast", "name", dev.Name(), "kind", cmd.Kind)
		}
	}
}
