package producer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidrelay/sidrelay/internal/control"
	"github.com/sidrelay/sidrelay/internal/emulator"
	"github.com/sidrelay/sidrelay/internal/sidwrite"
)

const (
	eventualTimeout = 2 * time.Second
	eventualTick    = 2 * time.Millisecond
)

// recordingSink is a Sink that never reports Busy, so Run drains a
// short scripted emulator without ever retrying.
type recordingSink struct {
	writes  []sidwrite.Write
	started bool
}

func (s *recordingSink) TryWrite(w sidwrite.Write) sidwrite.Response {
	s.writes = append(s.writes, w)
	return sidwrite.Ok
}

func (s *recordingSink) SetQueueStarted(v bool) { s.started = v }

// flakySink rejects the first busyFor TryWrite calls as Busy, then
// accepts everything afterward, to exercise the retry path under
// backpressure.
type flakySink struct {
	mu       sync.Mutex
	busyFor  int
	attempts int
	writes   []sidwrite.Write
	started  bool
}

func (s *flakySink) TryWrite(w sidwrite.Write) sidwrite.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.busyFor {
		return sidwrite.Busy
	}
	s.writes = append(s.writes, w)
	return sidwrite.Ok
}

func (s *flakySink) SetQueueStarted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = v
}

func (s *flakySink) snapshot() []sidwrite.Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sidwrite.Write, len(s.writes))
	copy(out, s.writes)
	return out
}

func TestProducer_WriteEmitsAccumulatedDelay(t *testing.T) {
	fe := emulator.NewFakeEmulator(emulator.Info{}, []emulator.FakeEvent{
		{Cmd: emulator.CmdDelay, Cycles: 100},
		{Cmd: emulator.CmdWrite, Reg: 0x04, Data: 0x41, Cycles: 20},
	})

	var abort control.Abort
	cmds := control.NewChannel(4)
	sink := &recordingSink{}
	p := New(fe, sink, &abort, cmds, 0)

	go p.Run(8)

	require.Eventually(t, func() bool {
		return len(sink.writes) >= 1
	}, eventualTimeout, eventualTick)

	abort.Store(control.AbortToQuit)
	require.Eventually(t, func() bool {
		return abort.Load() == control.Aborted
	}, eventualTimeout, eventualTick)

	assert.Equal(t, sidwrite.WithSocket(0, 0x04), sink.writes[0].Reg)
	assert.Equal(t, uint8(0x41), sink.writes[0].Data)
	assert.Equal(t, uint16(120), sink.writes[0].Cycles)
	assert.True(t, sink.started)
}

func TestProducer_SplitsOversizedDelay(t *testing.T) {
	fe := emulator.NewFakeEmulator(emulator.Info{}, []emulator.FakeEvent{
		{Cmd: emulator.CmdDelay, Cycles: 0x1ffff},
		{Cmd: emulator.CmdWrite, Reg: 0x00, Data: 0xab},
	})

	var abort control.Abort
	cmds := control.NewChannel(4)
	sink := &recordingSink{}
	p := New(fe, sink, &abort, cmds, 0)

	go p.Run(8)

	require.Eventually(t, func() bool {
		return len(sink.writes) >= 2
	}, eventualTimeout, eventualTick)

	abort.Store(control.AbortToQuit)
	require.Eventually(t, func() bool {
		return abort.Load() == control.Aborted
	}, eventualTimeout, eventualTick)

	assert.Equal(t, sidwrite.DummyReg, sink.writes[0].Reg)
	assert.Equal(t, uint16(0xffff), sink.writes[0].Cycles)
	assert.Equal(t, uint16(0xffff), sink.writes[1].Cycles)
}

func TestProducer_ResetCommandClearsLastWriteTable(t *testing.T) {
	fe := emulator.NewFakeEmulator(emulator.Info{}, []emulator.FakeEvent{
		{Cmd: emulator.CmdWrite, Reg: 0x04, Data: 0x21},
	})

	var abort control.Abort
	cmds := control.NewChannel(4)
	sink := &recordingSink{}
	p := New(fe, sink, &abort, cmds, 0)

	go p.Run(8)

	require.Eventually(t, func() bool {
		return len(sink.writes) >= 1
	}, eventualTimeout, eventualTick)

	cmds.TrySend(control.Command{Kind: control.CmdReset})
	abort.Store(control.AbortToQuit)
	require.Eventually(t, func() bool {
		return abort.Load() == control.Aborted
	}, eventualTimeout, eventualTick)

	assert.Equal(t, uint8(0), p.LastWrites().Last[sidwrite.WithSocket(0, 0x04)])
}

// TestProducer_BusyPreservesPaddingOrder is the regression test for the
// enqueue-overwrite bug: an oversized delay splits into two padding
// writes ahead of the real register write, and the sink stays Busy for
// the first few attempts. None of the padding may be dropped in favor
// of a later write, and everything must land in the original order.
func TestProducer_BusyPreservesPaddingOrder(t *testing.T) {
	fe := emulator.NewFakeEmulator(emulator.Info{}, []emulator.FakeEvent{
		{Cmd: emulator.CmdDelay, Cycles: 0x1ffff},
		{Cmd: emulator.CmdWrite, Reg: 0x00, Data: 0xab},
	})

	var abort control.Abort
	cmds := control.NewChannel(4)
	sink := &flakySink{busyFor: 2}
	p := New(fe, sink, &abort, cmds, 0)

	go p.Run(8)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 3
	}, eventualTimeout, eventualTick)

	abort.Store(control.AbortToQuit)
	require.Eventually(t, func() bool {
		return abort.Load() == control.Aborted
	}, eventualTimeout, eventualTick)

	writes := sink.snapshot()
	require.Len(t, writes, 3)
	assert.Equal(t, sidwrite.DummyReg, writes[0].Reg, "first padding write must survive Busy retry")
	assert.Equal(t, sidwrite.DummyReg, writes[1].Reg, "second padding write must survive Busy retry")
	assert.Equal(t, sidwrite.WithSocket(0, 0x00), writes[2].Reg, "real write must arrive last, not first")
}

// TestProducer_PauseThenResumeReplaysLastWrites drives the Paused
// transition directly (standing in for the UI thread) and checks that
// resuming replays the last-recorded write for every previously-touched
// register before the emulator is allowed to produce any more events
// (spec.md §4.6).
func TestProducer_PauseThenResumeReplaysLastWrites(t *testing.T) {
	fe := emulator.NewFakeEmulator(emulator.Info{}, []emulator.FakeEvent{
		{Cmd: emulator.CmdWrite, Reg: 0x00, Data: 0x11},
		{Cmd: emulator.CmdWrite, Reg: 0x01, Data: 0x22},
	})

	var abort control.Abort
	cmds := control.NewChannel(4)
	sink := &recordingSink{}
	p := New(fe, sink, &abort, cmds, 0)

	go p.Run(8)

	require.Eventually(t, func() bool {
		return len(sink.writes) >= 2
	}, eventualTimeout, eventualTick)

	abort.Store(control.Paused)
	require.Eventually(t, func() bool {
		return abort.Load() == control.Paused
	}, eventualTimeout, eventualTick)

	preResumeCount := len(sink.writes)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, preResumeCount, len(sink.writes), "paused producer must not keep writing")

	abort.CompareAndSwap(control.Paused, control.NoAbort)

	require.Eventually(t, func() bool {
		return len(sink.writes) > preResumeCount
	}, eventualTimeout, eventualTick)

	abort.Store(control.AbortToQuit)
	require.Eventually(t, func() bool {
		return abort.Load() == control.Aborted
	}, eventualTimeout, eventualTick)

	replayed := sink.writes[preResumeCount:]
	require.NotEmpty(t, replayed)
	seen := map[uint8]uint8{}
	for _, w := range replayed {
		seen[w.Reg] = w.Data
	}
	assert.Equal(t, uint8(0x11), seen[sidwrite.WithSocket(0, 0x00)])
	assert.Equal(t, uint8(0x22), seen[sidwrite.WithSocket(0, 0x01)])
}
