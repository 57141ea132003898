package sim

import (
	"container/heap"
	"fmt"
)

// Kernel is a deterministic event queue ordered by (time, insertion order).
type Kernel struct {
	now     Time
	seq     uint64
	queue   eventHeap
	pending map[EventID]*event
	running bool
}

type event struct {
	at    Time
	seq   uint64
	id    EventID
	fn    func()
	index int
}

// NewKernel returns a kernel positioned at time zero.
func NewKernel() *Kernel {
	return &Kernel{pending: make(map[EventID]*event)}
}

func (k *Kernel) Now() Time {
	return k.now
}

// ScheduleAfter queues fn to run delay nanoseconds from now. A negative
// delay is an integration bug and panics.
func (k *Kernel) ScheduleAfter(delay Time, fn func()) EventID {
	if delay < 0 {
		panic(fmt.Sprintf("sim: negative delay %d", delay))
	}
	k.seq++
	ev := &event{at: k.now + delay, seq: k.seq, id: EventID(k.seq), fn: fn}
	heap.Push(&k.queue, ev)
	k.pending[ev.id] = ev
	return ev.id
}

func (k *Kernel) Cancel(id EventID) {
	ev, ok := k.pending[id]
	if !ok {
		return
	}
	delete(k.pending, id)
	heap.Remove(&k.queue, ev.index)
}

// Pending reports the number of events still queued.
func (k *Kernel) Pending() int {
	return len(k.pending)
}

// Run executes every event strictly before until and leaves the clock at
// until. A panic raised by a callback aborts the run and is returned as an
// error carrying the simulated time at which it happened.
func (k *Kernel) Run(until Time) (err error) {
	if until < k.now {
		return fmt.Errorf("run until %d: clock already at %d", until, k.now)
	}
	if k.running {
		return fmt.Errorf("run until %d: kernel already running", until)
	}
	k.running = true
	defer func() {
		k.running = false
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("event at t=%d: %w", k.now, e)
			} else {
				err = fmt.Errorf("event at t=%d: %v", k.now, r)
			}
		}
	}()

	for k.queue.Len() > 0 {
		next := k.queue[0]
		if next.at >= until {
			break
		}
		heap.Pop(&k.queue)
		delete(k.pending, next.id)
		k.now = next.at
		next.fn()
	}
	k.now = until
	return nil
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].at == h[j].at {
		return h[i].seq < h[j].seq
	}
	return h[i].at < h[j].at
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*event)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}
