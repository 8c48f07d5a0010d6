//go:build linux

package reactor

import (
	"container/heap"
	"time"

	"golang.org/x/sys/unix"
)

// minRearmDelay is the floor spec.md §4.2 imposes on rearming the OS
// timer: "rearmed to max(100ms, new_earliest - now)".
const minRearmDelay = 100 * time.Millisecond

// TimerEvent is a (deadline, period-or-oneshot, callback, cancelled)
// record, per spec.md §3.
type TimerEvent struct {
	deadline time.Time
	period   time.Duration // 0 means one-shot
	callback func()
	cancelled bool
	repeating bool
	index int // heap index, maintained by container/heap
}

// Cancel marks the timer cancelled; it will not fire. The entry is not
// removed from the wheel at once: it stays in the heap until its
// deadline passes, when onFire pops and discards it.
func (t *TimerEvent) Cancel() {
	t.cancelled = true
}

// Cancelled reports whether Cancel has been called.
func (t *TimerEvent) Cancelled() bool { return t.cancelled }

// timerHeap is a container/heap ordered by deadline: the earliest
// deadline is always at the root, so Fire only ever needs to look at
// heap[0].
type timerHeap []*TimerEvent

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x interface{}) {
	te := x.(*TimerEvent)
	te.index = len(*h)
	*h = append(*h, te)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	te := old[n-1]
	old[n-1] = nil
	te.index = -1
	*h = old[:n-1]
	return te
}

// TimerWheel is an OS-timer-notifier-backed ordered set of pending
// TimerEvents, per spec.md §2 item 4 / §4.2. It must only be touched
// from its owning EventLoop's thread; cross-thread callers go through
// EventLoop.AddTimer, which trampolines via the task queue.
type TimerWheel struct {
	fd     *FdEvent
	tfd    int
	heap   timerHeap
	loop   *EventLoop
}

func newTimerWheel(loop *EventLoop) (*TimerWheel, error) {
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	fd := AcquireFdEvent(tfd)
	w := &TimerWheel{fd: fd, tfd: tfd, loop: loop}
	fd.ReadCB = w.onFire
	return w, nil
}

// Add inserts ev and rearms the OS timer if ev is now the earliest
// pending deadline, per spec.md §4.2. Must be called on the loop thread.
func (w *TimerWheel) Add(ev *TimerEvent) {
	wasEmpty := w.heap.Len() == 0
	var prevEarliest time.Time
	if !wasEmpty {
		prevEarliest = w.heap[0].deadline
	}
	heap.Push(&w.heap, ev)
	if wasEmpty || ev.deadline.Before(prevEarliest) {
		w.rearm(ev.deadline)
	}
}

// NewTimeout builds and adds a one-shot timer firing after d, invoking
// cb on the loop thread. Must be called on the loop thread.
func (w *TimerWheel) NewTimeout(d time.Duration, cb func()) *TimerEvent {
	ev := &TimerEvent{deadline: time.Now().Add(d), callback: cb}
	w.Add(ev)
	return ev
}

// NewTicker builds and adds a repeating timer firing every d, starting
// at now+d. Must be called on the loop thread.
func (w *TimerWheel) NewTicker(d time.Duration, cb func()) *TimerEvent {
	ev := &TimerEvent{deadline: time.Now().Add(d), period: d, repeating: true, callback: cb}
	w.Add(ev)
	return ev
}

// rearm sets the OS timer notifier to fire at max(100ms, deadline-now).
func (w *TimerWheel) rearm(deadline time.Time) {
	delay := time.Until(deadline)
	if delay < minRearmDelay {
		delay = minRearmDelay
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(delay.Nanoseconds()),
	}
	_ = unix.TimerfdSettime(w.tfd, 0, &spec, nil)
}

// onFire is the FdEvent read callback registered against the timerfd. It
// first drains the timerfd's own readiness counter (EAGAIN-terminated,
// per spec.md §4.2 — "must drain all pending fires... to prevent
// spurious rearms"), then pops and fires every entry whose deadline has
// passed.
func (w *TimerWheel) onFire() {
	var buf [8]byte
	for {
		if _, err := unix.Read(w.tfd, buf[:]); err != nil {
			break
		}
	}

	now := time.Now()
	for w.heap.Len() > 0 {
		next := w.heap[0]
		if next.deadline.After(now) {
			w.rearm(next.deadline)
			return
		}
		heap.Pop(&w.heap)
		if next.cancelled {
			continue
		}
		if next.callback != nil {
			next.callback()
		}
		if next.repeating && !next.cancelled {
			next.deadline = next.deadline.Add(next.period)
			heap.Push(&w.heap, next)
		}
	}
}

// Len returns the number of pending (not yet fired) timer entries,
// exposed for metrics.
func (w *TimerWheel) Len() int { return w.heap.Len() }

func (w *TimerWheel) close() error {
	return unix.Close(w.tfd)
}
