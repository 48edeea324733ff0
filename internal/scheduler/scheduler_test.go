package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidrelay/sidrelay/internal/control"
	"github.com/sidrelay/sidrelay/internal/sidwrite"
)

type fakeSource struct {
	mu      sync.Mutex
	pending []sidwrite.Write
	started bool
	wake    chan struct{}
}

func newFakeSource() *fakeSource { return &fakeSource{wake: make(chan struct{}, 1)} }

func (f *fakeSource) push(w sidwrite.Write) {
	f.mu.Lock()
	f.pending = append(f.pending, w)
	f.started = true
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *fakeSource) Pop() (sidwrite.Write, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return sidwrite.Write{}, false
	}
	w := f.pending[0]
	f.pending = f.pending[1:]
	return w, true
}

func (f *fakeSource) QueueStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeSource) Wake() <-chan struct{} { return f.wake }

func (f *fakeSource) Drain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = nil
}

type fakeBackend struct {
	mu       sync.Mutex
	issued   []sidwrite.Write
	sockets  int
	commands []control.Command
}

func (b *fakeBackend) CyclesPerMicro() float64 { return 1 } // 1MHz, trivial gate
func (b *fakeBackend) BatchSize() int          { return 4 }
func (b *fakeBackend) SocketCount() int        { return b.sockets }

func (b *fakeBackend) Issue(batch []sidwrite.Write) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issued = append(b.issued, batch...)
	return nil
}

func (b *fakeBackend) Silence() []sidwrite.Write { return nil }

func (b *fakeBackend) HandleCommand(cmd control.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = append(b.commands, cmd)
	return nil
}

func TestLoop_DeliversWritesInOrder(t *testing.T) {
	src := newFakeSource()
	backend := &fakeBackend{sockets: 1}
	var abort control.Abort
	cmds := control.NewChannel(4)

	go Loop(src, backend, &abort, cmds)

	src.push(sidwrite.Write{Reg: 0x00, Data: 1, Cycles: 10})
	src.push(sidwrite.Write{Reg: 0x01, Data: 2, Cycles: 10})

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.issued) >= 2
	}, 2*time.Second, 2*time.Millisecond)

	abort.Store(control.AbortToQuit)
	require.Eventually(t, func() bool {
		return abort.Load() == control.Aborted
	}, 2*time.Second, 2*time.Millisecond)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, uint8(0x00), backend.issued[0].Reg)
	assert.Equal(t, uint8(0x01), backend.issued[1].Reg)
}

func TestLoop_AbortSilencesBeforeExiting(t *testing.T) {
	src := newFakeSource()
	backend := &fakeBackend{sockets: 2}
	var abort control.Abort
	cmds := control.NewChannel(4)

	abort.Store(control.Aborting)
	go Loop(src, backend, &abort, cmds)

	require.Eventually(t, func() bool {
		return abort.Load() == control.Aborted
	}, 2*time.Second, 2*time.Millisecond)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.NotEmpty(t, backend.issued, "aborting must still emit a silence sequence")
}

func TestLoop_DispatchesCommandsToBackend(t *testing.T) {
	src := newFakeSource()
	backend := &fakeBackend{sockets: 1}
	var abort control.Abort
	cmds := control.NewChannel(4)

	go Loop(src, backend, &abort, cmds)

	cmds.TrySend(control.Command{Kind: control.CmdMuteAll})

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.commands) >= 1
	}, 2*time.Second, 2*time.Millisecond)

	abort.Store(control.AbortToQuit)
	require.Eventually(t, func() bool {
		return abort.Load() == control.Aborted
	}, 2*time.Second, 2*time.Millisecond)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, control.CmdMuteAll, backend.commands[0].Kind)
}

func TestLoop_PauseSilencesOnceThenResumesWithoutReSilencing(t *testing.T) {
	src := newFakeSource()
	backend := &fakeBackend{sockets: 1}
	var abort control.Abort
	cmds := control.NewChannel(4)

	go Loop(src, backend, &abort, cmds)

	abort.Store(control.Paused)
	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.issued) > 0
	}, 2*time.Second, 2*time.Millisecond)

	backend.mu.Lock()
	silencedOnPause := len(backend.issued)
	backend.mu.Unlock()

	// Commands still drain while paused (e.g. a ClearBuffer arriving
	// mid-pause), but the silence sequence is only issued once.
	cmds.TrySend(control.Command{Kind: control.CmdMuteAll})
	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.commands) >= 1
	}, 2*time.Second, 2*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	backend.mu.Lock()
	assert.Equal(t, silencedOnPause, len(backend.issued), "must not re-silence every pause-loop tick")
	backend.mu.Unlock()

	abort.CompareAndSwap(control.Paused, control.NoAbort)
	src.push(sidwrite.Write{Reg: 0x00, Data: 1, Cycles: 10})

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		for _, w := range backend.issued {
			if w.Reg == 0x00 && w.Data == 1 {
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond, "resumed loop must keep issuing normal writes")

	abort.Store(control.AbortToQuit)
	require.Eventually(t, func() bool {
		return abort.Load() == control.Aborted
	}, 2*time.Second, 2*time.Millisecond)
}

func TestLoop_ClearBufferDrainsQueuedWrites(t *testing.T) {
	src := newFakeSource()
	backend := &fakeBackend{sockets: 1}
	var abort control.Abort
	cmds := control.NewChannel(4)

	src.push(sidwrite.Write{Reg: 0x00, Data: 1, Cycles: 10})
	src.push(sidwrite.Write{Reg: 0x01, Data: 2, Cycles: 10})
	cmds.TrySend(control.Command{Kind: control.CmdClearBuffer})

	go Loop(src, backend, &abort, cmds)

	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.commands) >= 1
	}, 2*time.Second, 2*time.Millisecond)

	abort.Store(control.AbortToQuit)
	require.Eventually(t, func() bool {
		return abort.Load() == control.Aborted
	}, 2*time.Second, 2*time.Millisecond)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Empty(t, src.pending, "ClearBuffer must drain writes queued before it was observed")
}
