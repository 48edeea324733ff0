package emulator

// FakeEvent is one scripted event for FakeEmulator, the sequence-driven
// SidEmulator used by property tests (spec.md §8) and scenario tests
// (S1-S6) to inject exact event streams like
// "Delay(0x1FFFF), Write(0x00, 0xAB)" without a real tune.
type FakeEvent struct {
	Cmd    Command
	Reg    uint8
	Data   uint8
	Cycles uint32
}

// FakeEmulator replays a fixed slice of FakeEvent values, then reports
// CmdIdle forever. Unlike TuneEmulator it needs no text format — tests
// build the event slice directly.
type FakeEmulator struct {
	Info    Info
	events  []FakeEvent
	pos     int
	current FakeEvent
}

// NewFakeEmulator builds a FakeEmulator that will yield events in
// order, then idle indefinitely.
func NewFakeEmulator(info Info, events []FakeEvent) *FakeEmulator {
	return &FakeEmulator{Info: info, events: events}
}

func (f *FakeEmulator) Version() string { return "sidrelay-fake-emulator/1" }

func (f *FakeEmulator) LoadFile(data []byte) (Info, error) {
	return f.Info, nil
}

func (f *FakeEmulator) SetSongToPlay(song int) error {
	f.Info.StartSong = song
	return nil
}

func (f *FakeEmulator) Run() Command {
	if f.pos >= len(f.events) {
		return CmdIdle
	}
	ev := f.events[f.pos]
	f.pos++
	f.current = ev
	return ev.Cmd
}

func (f *FakeEmulator) GetCycles() uint32  { return f.current.Cycles }
func (f *FakeEmulator) GetRegister() uint8 { return f.current.Reg }
func (f *FakeEmulator) GetData() uint8     { return f.current.Data }
