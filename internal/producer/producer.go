// Package producer runs the translation loop between a SID emulator's
// event stream and the sidwrite queue a scheduler drains (spec.md
// §4.1): accumulating Delay events, applying clock adjustment,
// maintaining the LastWriteTable, and respecting backpressure from a
// full queue by retrying the same write.
package producer

import (
	"time"

	"github.com/sidrelay/sidrelay/internal/clock"
	"github.com/sidrelay/sidrelay/internal/control"
	"github.com/sidrelay/sidrelay/internal/emulator"
	"github.com/sidrelay/sidrelay/internal/reset"
	"github.com/sidrelay/sidrelay/internal/rlog"
	"github.com/sidrelay/sidrelay/internal/sidwrite"
)

var log = rlog.For("producer")

// busyRetryDelay is how long the producer sleeps before retrying a
// write the queue rejected as Busy (spec.md §4.1 "sleep ~5ms").
const busyRetryDelay = 5 * time.Millisecond

// idleDummyCyclesPAL is the idle-cycle threshold (one second's worth, at
// the PAL rate) after which an idle dummy write is emitted so a
// scheduler always has something to meter time against.
const idleDummyCyclesPAL = uint32(985248)

// Sink is the subset of sidwrite.Queue the producer depends on,
// narrowed for testability.
type Sink interface {
	TryWrite(w sidwrite.Write) sidwrite.Response
	SetQueueStarted(v bool)
}

// Producer drives one emulator instance into one Sink queue.
type Producer struct {
	emu    emulator.SidEmulator
	queue  Sink
	abort  *control.Abort
	cmds   *control.Channel
	clock  *clock.Adjust
	lwt    sidwrite.LastWriteTable
	socket int

	delayCycles   uint32
	idleCycles    uint32
	nowCycles     uint32
	pending       []sidwrite.Write
	useNativeClock bool
	wasPaused     bool
}

// New builds a Producer bound to one emulator instance, targeting one
// logical SID socket.
func New(emu emulator.SidEmulator, queue Sink, abort *control.Abort, cmds *control.Channel, socket int) *Producer {
	return &Producer{
		emu:    emu,
		queue:  queue,
		abort:  abort,
		cmds:   cmds,
		clock:  clock.New(clock.PAL),
		socket: socket,
	}
}

// SetClock switches the clock-adjust mode; OneMHz disables adjustment.
func (p *Producer) SetClock(c clock.Clock) {
	p.clock.Reset(c)
	p.useNativeClock = c != clock.OneMHz
}

// Run drives the emulator event loop until the control state is
// neither NO_ABORT nor PAUSED (while paused it idles and drains
// commands), per spec.md §4.1/§5. minCycle is the destination
// backend's MIN_CYCLE_SID_WRITE.
func (p *Producer) Run(minCycle uint16) {
	for {
		p.drainCommands()

		state := p.abort.Load()
		if state == control.Paused {
			p.wasPaused = true
			time.Sleep(busyRetryDelay)
			continue
		}
		if state != control.NoAbort {
			break
		}
		if p.wasPaused {
			p.wasPaused = false
			p.replayLastWrites()
		}

		if len(p.pending) > 0 {
			if !p.flushPending() {
				time.Sleep(busyRetryDelay)
				continue
			}
		}

		cmd := p.emu.Run()
		switch cmd {
		case emulator.CmdIdle:
			p.idleCycles += minCyclesOr(minCycle)
			if p.idleCycles >= idleDummyCyclesPAL {
				p.idleCycles = 0
				p.enqueue(sidwrite.Write{Reg: sidwrite.DummyReg, Data: 0, Cycles: minCycle})
			}

		case emulator.CmdDelay:
			p.delayCycles += p.emu.GetCycles()

		case emulator.CmdWrite:
			p.idleCycles = 0
			reg := p.emu.GetRegister()
			data := p.emu.GetData()
			total := p.delayCycles + p.emu.GetCycles()
			p.delayCycles = 0

			if p.useNativeClock {
				total = p.clock.AdjustCycles(total, uint32(minCycle))
				if voice, offset, ok := voiceFrequencyOffset(reg); ok {
					p.clock.UpdateFrequency(p.socket, voice, offset, data)
				}
			}

			padding, remainder := sidwrite.SplitDelay(total)
			for _, pad := range padding {
				p.enqueue(pad)
			}

			w := sidwrite.Write{
				Reg:    sidwrite.WithSocket(p.socket, reg),
				Data:   data,
				Cycles: sidwrite.ClampCycles(remainder, minCycle),
			}
			p.nowCycles += uint32(w.Cycles)
			p.lwt.Record(w.Reg, w.Data, p.nowCycles)
			p.enqueue(w)

		case emulator.CmdRead:
			p.idleCycles = 0

		case emulator.CmdInitDone, emulator.CmdNextPart:
			// advisory, not enqueued.

		default:
			log.Warn("unknown emulator command, treating as idle", "command", int(cmd))
		}
	}

	p.onAbort()
}

func minCyclesOr(minCycle uint16) uint32 {
	if minCycle == 0 {
		return 8
	}
	return uint32(minCycle)
}

// voiceFrequencyOffset maps a bare register (0x00-0x1c) to its voice
// index (0-2) and frequency byte offset (0=lo, 1=hi), when it is one
// of the six frequency registers; ok is false for every other register.
func voiceFrequencyOffset(reg uint8) (voice int, offset uint8, ok bool) {
	if reg > 0x14 {
		return 0, 0, false
	}
	within := reg % 7
	if within > 1 {
		return 0, 0, false
	}
	return int(reg / 7), within, true
}

// enqueue appends a write to the pending FIFO and, when nothing is
// already waiting, tries to hand it to the sink immediately. A write
// that does not flush right away (or that arrives while earlier
// writes are still waiting) stays queued in order: retry_write
// semantics apply to the whole pending sequence, not just the most
// recent write, so a run of padding writes produced by one oversized
// delay can never have an earlier entry silently dropped in favor of
// a later one (spec.md §8 invariant 2 / boundary 8, scenario S4).
func (p *Producer) enqueue(w sidwrite.Write) {
	if len(p.pending) == 0 {
		switch p.queue.TryWrite(w) {
		case sidwrite.Ok:
			p.queue.SetQueueStarted(true)
			return
		case sidwrite.Busy:
			p.pending = append(p.pending, w)
			return
		default: // sidwrite.Error
			log.Error("backend disconnected mid-write")
			p.abort.Store(control.Aborted)
			return
		}
	}
	p.pending = append(p.pending, w)
}

// flushPending drains the pending FIFO front-to-back, stopping at the
// first write the sink still refuses so nothing behind it is skipped.
// Returns false (retry later) only when the front write is Busy.
func (p *Producer) flushPending() bool {
	for len(p.pending) > 0 {
		switch p.queue.TryWrite(p.pending[0]) {
		case sidwrite.Ok:
			p.queue.SetQueueStarted(true)
			p.pending = p.pending[1:]
		case sidwrite.Busy:
			return false
		default: // sidwrite.Error
			log.Error("backend disconnected mid-write")
			p.abort.Store(control.Aborted)
			p.pending = nil
			return true
		}
	}
	return true
}

// replayLastWrites reissues the last-recorded value of every register
// in the fixed resume order for this producer's own SID socket,
// restoring the exact pre-pause state before the emulator resumes
// (spec.md §4.6).
func (p *Producer) replayLastWrites() {
	baseReg := uint8(p.socket * 0x20)
	for _, w := range reset.Replay(baseReg, &p.lwt) {
		p.nowCycles += uint32(w.Cycles)
		p.enqueue(w)
	}
}

func (p *Producer) drainCommands() {
	for {
		cmd, ok := p.cmds.TryRecv()
		if !ok {
			return
		}
		switch cmd.Kind {
		case control.CmdSetClock:
			if c, ok := cmd.Arg.(clock.Clock); ok {
				p.SetClock(c)
			}
		case control.CmdReset:
			p.lwt.Reset()
			p.delayCycles = 0
			p.idleCycles = 0
		case control.CmdNextSong:
			song, ok := cmd.Arg.(int)
			if !ok {
				break
			}
			if err := p.emu.SetSongToPlay(song); err != nil {
				log.Warn("switching song", "song", song, "err", err)
				break
			}
			p.lwt.Reset()
			p.delayCycles = 0
			p.idleCycles = 0
			p.pending = nil
		}
	}
}

func (p *Producer) onAbort() {
	switch p.abort.Load() {
	case control.Aborting, control.AbortToQuit:
		p.abort.CompareAndSwap(control.Aborting, control.Aborted)
		p.abort.CompareAndSwap(control.AbortToQuit, control.Aborted)
	}
}

// LastWrites exposes the producer's LastWriteTable for pause/resume
// replay (spec.md §4.6), read-only from the controller's perspective.
func (p *Producer) LastWrites() *sidwrite.LastWriteTable { return &p.lwt }
