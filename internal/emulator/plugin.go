package emulator

import "errors"

// ErrPluginUnavailable is returned by PluginEmulator until a real SID
// engine binding exists.
var ErrPluginUnavailable = errors.New("emulator: no SID engine plugin bound")

// PluginEmulator is where a binding to a real SID engine (acid64-style
// dynamic library, cgo, or an FFI shim) would live. Wiring an actual
// third-party SID emulation library is out of scope here; this stub
// keeps the SidEmulator interface's shape honest about what a full
// port would still need.
type PluginEmulator struct{}

func (PluginEmulator) Version() string { return "" }

func (PluginEmulator) LoadFile(data []byte) (Info, error) {
	return Info{}, ErrPluginUnavailable
}

func (PluginEmulator) SetSongToPlay(song int) error { return ErrPluginUnavailable }

func (PluginEmulator) Run() Command { return CmdIdle }

func (PluginEmulator) GetCycles() uint32  { return 0 }
func (PluginEmulator) GetRegister() uint8 { return 0 }
func (PluginEmulator) GetData() uint8     { return 0 }
