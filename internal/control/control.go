// Package control holds the cross-goroutine abort state machine and
// the out-of-band command channel described in spec.md §4.1/§5: a
// crossbeam-style bounded channel carrying MuteAll/Reset/SetClock/
// SetDevice/ClearBuffer/SetModel from the device facade to the
// scheduler without going through the data queue, plus the shared
// AbortState atomic every goroutine in a playback session observes.
package control

import "sync/atomic"

// AbortState is the control-state enum of spec.md §3/§5, held in one
// atomic integer and observed by the producer, scheduler and UI.
type AbortState int32

const (
	NoAbort AbortState = iota
	// Paused is the UI-driven pause state (spec.md §4.6/§5): the
	// producer stops pulling from the emulator and the scheduler
	// issues one Silence sequence, both without exiting. It is not an
	// abort at all — the session resumes from here back to NoAbort.
	Paused
	Aborting
	Aborted
	AbortForCommand
	AbortToQuit
)

func (s AbortState) String() string {
	switch s {
	case NoAbort:
		return "NO_ABORT"
	case Paused:
		return "PAUSED"
	case Aborting:
		return "ABORTING"
	case Aborted:
		return "ABORTED"
	case AbortForCommand:
		return "ABORT_FOR_COMMAND"
	case AbortToQuit:
		return "ABORT_TO_QUIT"
	default:
		return "UNKNOWN"
	}
}

// Abort wraps the shared atomic int32, giving every goroutine in a
// playback session the same view of §5's control state.
type Abort struct {
	state atomic.Int32
}

func (a *Abort) Load() AbortState { return AbortState(a.state.Load()) }
func (a *Abort) Store(s AbortState) { a.state.Store(int32(s)) }

// CompareAndSwap transitions the state only if it currently matches
// from, used by the producer/scheduler to avoid clobbering a
// concurrent ABORT_TO_QUIT with a lesser ABORTING.
func (a *Abort) CompareAndSwap(from, to AbortState) bool {
	return a.state.CompareAndSwap(int32(from), int32(to))
}

// Active reports whether any non-NO_ABORT transition has been
// requested; producer and scheduler loops check this each tick.
func (a *Abort) Active() bool { return a.Load() != NoAbort }

// CommandKind enumerates the out-of-band commands that bypass the
// write queue entirely (spec.md §4.1 "crossbeam-style bounded
// channel").
type CommandKind int

const (
	CmdMuteAll CommandKind = iota
	CmdReset
	CmdSetClock
	CmdSetDevice
	CmdClearBuffer
	CmdSetModel
	// CmdNextSong advances the producer's emulator to a new subsong
	// (spec.md §8 scenario S2, "press + for next song"). Arg is the
	// 1-based song number to select.
	CmdNextSong
)

func (k CommandKind) String() string {
	switch k {
	case CmdMuteAll:
		return "MuteAll"
	case CmdReset:
		return "Reset"
	case CmdSetClock:
		return "SetClock"
	case CmdSetDevice:
		return "SetDevice"
	case CmdClearBuffer:
		return "ClearBuffer"
	case CmdSetModel:
		return "SetModel"
	case CmdNextSong:
		return "NextSong"
	default:
		return "Unknown"
	}
}

// Command is one out-of-band instruction. Arg is interpreted according
// to Kind: a clock.Clock for SetClock, a reset.SidModel for SetModel,
// a socket index for SetDevice, a 1-based song number (int) for
// NextSong, and nil otherwise.
type Command struct {
	Kind CommandKind
	Arg  any
}

// Channel is the bounded, non-blocking-send command channel from the
// device facade to a scheduler. Capacity is small and fixed: commands
// are rare control-plane events, never a data path.
type Channel struct {
	ch chan Command
}

// NewChannel creates a command channel of the given capacity.
func NewChannel(capacity int) *Channel {
	return &Channel{ch: make(chan Command, capacity)}
}

// TrySend enqueues a command without blocking; false means the
// channel's small buffer is full and the caller should retry.
func (c *Channel) TrySend(cmd Command) bool {
	select {
	case c.ch <- cmd:
		return true
	default:
		return false
	}
}

// TryRecv drains one command without blocking; ok is false when
// nothing is waiting.
func (c *Channel) TryRecv() (cmd Command, ok bool) {
	select {
	case cmd = <-c.ch:
		return cmd, true
	default:
		return Command{}, false
	}
}
