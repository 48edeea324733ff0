package sidwrite

import (
	"sync/atomic"

	"code.hybscloud.com/lfq"
)

// MaxCyclesInBuffer bounds the producer side independent of queue
// slot count: once the scheduler is this many SID cycles behind, the
// producer backs off even if ring slots remain (spec §4.3).
const MaxCyclesInBuffer = 63 * 312 * 5 // ~100ms of PAL C64 time

// Queue is the bounded SPSC ring between one producer goroutine and
// one scheduler goroutine, plus the two atomics that accompany it:
// CyclesInBuffer (monotonic cycle sum currently queued) and
// QueueStarted (the scheduler idles while this is false).
//
// Queue never reorders writes: Push/Pop preserve FIFO order exactly,
// which is what spec invariant 1 requires of the device boundary.
type Queue struct {
	ring           *lfq.SPSC[Write]
	cyclesInBuffer atomic.Uint32
	queueStarted   atomic.Bool
	wake           chan struct{}
	maxCycles      uint32
}

// New creates a queue of the given power-of-two capacity. Typical
// capacities are 65536 for FTDI, 2048 for USB (spec §4.3).
func New(capacity int) *Queue {
	return &Queue{
		ring:      lfq.NewSPSC[Write](capacity),
		wake:      make(chan struct{}, 1),
		maxCycles: MaxCyclesInBuffer,
	}
}

// SetMaxCyclesInBuffer overrides the default backpressure threshold;
// backends with a bigger on-device FIFO (USB bulk) raise it.
func (q *Queue) SetMaxCyclesInBuffer(n uint32) { q.maxCycles = n }

// TryWrite is the producer-visible, non-blocking push described in
// spec §4.3: Busy means the ring is at least half full or the cycle
// budget would be reached by this write, Ok means the write was accepted.
func (q *Queue) TryWrite(w Write) Response {
	if q.ring.Len() >= q.ring.Cap()/2 {
		return Busy
	}
	if q.cyclesInBuffer.Load()+uint32(w.Cycles) >= q.maxCycles {
		return Busy
	}
	if err := q.ring.Enqueue(&w); err != nil {
		return Busy
	}
	q.cyclesInBuffer.Add(uint32(w.Cycles))
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return Ok
}

// Pop removes the oldest write, saturating-subtracting its cycles from
// CyclesInBuffer. ok is false when the queue is empty.
func (q *Queue) Pop() (w Write, ok bool) {
	w, err := q.ring.Dequeue()
	if err != nil {
		return Write{}, false
	}
	q.saturatingSub(uint32(w.Cycles))
	return w, true
}

func (q *Queue) saturatingSub(n uint32) {
	for {
		cur := q.cyclesInBuffer.Load()
		next := cur - n
		if n > cur {
			next = 0
		}
		if q.cyclesInBuffer.CompareAndSwap(cur, next) {
			return
		}
	}
}

// CyclesInBuffer returns the live cycle-sum atomic (spec invariant 2).
func (q *Queue) CyclesInBuffer() uint32 { return q.cyclesInBuffer.Load() }

// Len reports the number of queued entries.
func (q *Queue) Len() int { return q.ring.Len() }

// Cap reports the ring's fixed capacity.
func (q *Queue) Cap() int { return q.ring.Cap() }

// QueueStarted reports whether the producer has pushed a write after
// the most recent stop-draining sentinel (spec §4.3).
func (q *Queue) QueueStarted() bool { return q.queueStarted.Load() }

// SetQueueStarted is called by the producer on the first write after a
// stop-draining sentinel.
func (q *Queue) SetQueueStarted(v bool) { q.queueStarted.Store(v) }

// Wake returns the channel a scheduler can select on instead of
// polling at a fixed interval while the queue is empty.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

// Drain removes every queued entry without processing it, used when a
// stop-draining sentinel or song change must guarantee that no stale
// write reaches the hardware (spec invariant 3).
func (q *Queue) Drain() {
	for {
		if _, ok := q.Pop(); !ok {
			return
		}
	}
}
