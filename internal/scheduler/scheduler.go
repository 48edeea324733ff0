// Package scheduler implements the common scheduler-loop skeleton
// shared by every backend family (spec.md §4.4): pop a batch from the
// write queue, wait for the batch's target wall-clock timestamp using
// a sleep-then-busy-spin timing gate, hand the batch to a backend's
// Issue, and update cycle accounting.
package scheduler

import (
	"time"

	"github.com/sidrelay/sidrelay/internal/control"
	"github.com/sidrelay/sidrelay/internal/reset"
	"github.com/sidrelay/sidrelay/internal/rlog"
	"github.com/sidrelay/sidrelay/internal/sidwrite"
)

var log = rlog.For("scheduler")

// idleSleep is how long the scheduler sleeps when the queue has not
// yet started or is momentarily empty (spec.md §4.4 step 2).
const idleSleep = 5 * time.Millisecond

// spinThreshold is the remaining-wait cutoff below which the timing
// gate stops sleeping and busy-spins instead (spec.md §4.4's "remaining
// wait > ~1.5ms: sleep; then busy-spin").
const spinThreshold = 1500 * time.Microsecond

// sleepSlack is subtracted from a sleep so the subsequent busy-spin
// always has time left to correct drift, rather than overshooting.
const sleepSlack = 1 * time.Millisecond

// Source is the subset of sidwrite.Queue the scheduler consumes.
type Source interface {
	Pop() (sidwrite.Write, bool)
	QueueStarted() bool
	Wake() <-chan struct{}

	// Drain discards every currently-queued write. The scheduler calls
	// this on CmdClearBuffer so no write queued before the sentinel
	// reaches hardware after it (spec.md §8 invariant 3).
	Drain()
}

// Backend is what a device family must implement to be driven by the
// common loop: issue a batch of writes, and silence every socket when
// aborting.
type Backend interface {
	// CyclesPerMicro is the backend's own clock rate in SID
	// cycles-per-microsecond, used by the timing gate.
	CyclesPerMicro() float64

	// BatchSize is the maximum writes to pop per iteration (spec.md
	// §4.4 step 3 — e.g. 15 for USB so N*4 bytes fit one transfer).
	BatchSize() int

	// Issue sends a batch to hardware; an error aborts the session.
	Issue(batch []sidwrite.Write) error

	// Silence returns this backend's own silence sequence. Loop does
	// not call it: on abort it issues reset.AllSids over SocketCount()
	// sockets instead.
	Silence() []sidwrite.Write

	// SocketCount reports how many logical sockets this backend
	// instance currently serves, for the abort-time silence sequence.
	SocketCount() int

	// HandleCommand applies one out-of-band control command (spec.md
	// §5 MuteAll/Reset/SetClock/SetDevice/ClearBuffer/SetModel). Called
	// only from the scheduler goroutine that owns this backend's
	// handle, never concurrently with Issue.
	HandleCommand(cmd control.Command) error
}

// Loop runs the common scheduler skeleton until abort is neither
// NO_ABORT nor PAUSED (while paused it only drains commands). It is
// meant to run on its own goroutine, one per active
// backend instance.
func Loop(queue Source, backend Backend, abort *control.Abort, cmds *control.Channel) {
	var (
		startTime       time.Time
		cyclesProcessed uint64
		started         bool
		pauseSilenced   bool
	)

	for {
		state := abort.Load()

		if state == control.Paused {
			if !pauseSilenced {
				silenceAll(backend)
				pauseSilenced = true
				started = false
			}
			drainCommands(cmds, backend, queue)
			time.Sleep(idleSleep)
			continue
		}
		pauseSilenced = false

		if state != control.NoAbort {
			silenceAll(backend)
			abort.CompareAndSwap(control.Aborting, control.Aborted)
			abort.CompareAndSwap(control.AbortToQuit, control.Aborted)
			abort.CompareAndSwap(control.AbortForCommand, control.Aborted)
			return
		}

		drainCommands(cmds, backend, queue)

		if !queue.QueueStarted() {
			started = false
			select {
			case <-queue.Wake():
			case <-time.After(idleSleep):
			}
			continue
		}

		batch := popBatch(queue, backend.BatchSize())
		if len(batch) == 0 {
			select {
			case <-queue.Wake():
			case <-time.After(idleSleep):
			}
			continue
		}

		if !started {
			startTime = time.Now()
			cyclesProcessed = 0
			started = true
		}

		var batchCycles uint64
		for _, w := range batch {
			batchCycles += uint64(w.Cycles)
		}

		waitGate(startTime, cyclesProcessed, backend.CyclesPerMicro())

		if err := backend.Issue(batch); err != nil {
			log.Error("backend write failed", "err", err)
			abort.Store(control.Aborted)
			return
		}

		cyclesProcessed += batchCycles
	}
}

// waitGate blocks until cyclesProcessed SID cycles have elapsed since
// startTime at the backend's rate (spec.md §4.4 "Timing gate detail").
func waitGate(startTime time.Time, cyclesProcessed uint64, cyclesPerMicro float64) {
	if cyclesPerMicro <= 0 {
		return
	}
	targetMicros := float64(cyclesProcessed) / cyclesPerMicro
	target := startTime.Add(time.Duration(targetMicros * float64(time.Microsecond)))

	remaining := time.Until(target)
	if remaining > spinThreshold {
		time.Sleep(remaining - sleepSlack)
	}
	for time.Now().Before(target) {
		// busy-spin for sub-millisecond precision.
	}
}

func popBatch(queue Source, max int) []sidwrite.Write {
	batch := make([]sidwrite.Write, 0, max)
	for len(batch) < max {
		w, ok := queue.Pop()
		if !ok {
			break
		}
		if w.StopDraining {
			break
		}
		batch = append(batch, w)
	}
	return batch
}

func drainCommands(cmds *control.Channel, backend Backend, queue Source) {
	for {
		cmd, ok := cmds.TryRecv()
		if !ok {
			return
		}
		if cmd.Kind == control.CmdClearBuffer {
			queue.Drain()
		}
		if err := backend.HandleCommand(cmd); err != nil {
			log.Warn("command failed", "kind", cmd.Kind, "err", err)
		}
	}
}

func silenceAll(backend Backend) {
	n := backend.SocketCount()
	writes := reset.AllSids(n, false)
	if err := backend.Issue(writes); err != nil {
		log.Warn("silence-on-abort failed", "err", err)
	}
}
