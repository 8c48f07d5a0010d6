//go:build linux

// Package reactor implements the epoll-driven event loop, fd readiness
// dispatch, timer wheel, and I/O worker pool described in spec.md §2
// items 2-8 / §4.1-§4.2 / §4.5 (worker pool only).
//
// Dispatch is readiness-based and raw-fd-identified: a loop iteration
// waits on epoll, then delivers each ready fd's registered callback
// directly, rather than delivering pre-completed read/write results
// keyed by a higher-level connection identity. Cross-thread work lands
// on a double-buffered pending-task queue, timers run on a heap-based
// wheel, and fd state lives in a lazily-allocated table. See DESIGN.md.
package reactor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/a2535171138/rpcgo/metrics"
)

// DefaultEpollTimeout is the coarse upper bound on one epoll_wait call,
// per spec.md §4.1/§5 (default 10s).
const DefaultEpollTimeout = 10 * time.Second

// ErrThreadAlreadyOwnsLoop is returned by NewEventLoop when the calling
// OS thread already owns an EventLoop, per spec.md §4.1 ("creation on a
// thread that already owns one fails fatally"). Turning this error into
// a fatal process exit is the caller's responsibility (typically
// IOWorker.run), matching spec.md §7's "Fatal init" classification.
var ErrThreadAlreadyOwnsLoop = errors.New("reactor: OS thread already owns an EventLoop")

var (
	threadLoopsMu sync.Mutex
	threadLoops   = map[int]*EventLoop{}
)

// Current returns the EventLoop owned by the calling OS thread, or nil
// if the calling thread owns none.
func Current() *EventLoop {
	tid := unix.Gettid()
	threadLoopsMu.Lock()
	defer threadLoopsMu.Unlock()
	return threadLoops[tid]
}

// EventLoop is a single-thread-owned reactor: one epoll instance, one
// wakeup notifier, one timer wheel, one task queue, and the set of fds
// currently registered with this loop's epoll, per spec.md §2 item 6.
type EventLoop struct {
	poller *poller
	wakeup *wakeupFdEvent
	Timers *TimerWheel

	tid      int
	epollTO  int // milliseconds

	taskMu  sync.Mutex
	pending []func()
	scratch []func() // swapped with pending each iteration

	registered map[int]*FdEvent

	looping atomic.Bool
	stopped atomic.Bool

	log       logrus.FieldLogger
	collect   *metrics.Collectors
}

// Option configures a new EventLoop.
type Option func(*EventLoop)

// WithLogger attaches a sink for reactor-level log events. The core
// never depends on a concrete logger, only this interface (spec.md §1).
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *EventLoop) { l.log = log }
}

// WithEpollTimeout overrides the default 10s epoll_wait bound.
func WithEpollTimeout(d time.Duration) Option {
	return func(l *EventLoop) { l.epollTO = int(d.Milliseconds()) }
}

// WithCollectors attaches Prometheus collectors. A nil value (the
// default) disables instrumentation without changing behavior, per
// SPEC_FULL.md §8.
func WithCollectors(c *metrics.Collectors) Option {
	return func(l *EventLoop) { l.collect = c }
}

// NewEventLoop constructs an EventLoop bound to the calling OS thread.
// Callers that spawn a dedicated thread for this loop (reactor.IOWorker
// does) must call runtime.LockOSThread first.
func NewEventLoop(opts ...Option) (*EventLoop, error) {
	tid := unix.Gettid()

	threadLoopsMu.Lock()
	if _, exists := threadLoops[tid]; exists {
		threadLoopsMu.Unlock()
		return nil, ErrThreadAlreadyOwnsLoop
	}
	threadLoopsMu.Unlock()

	p, err := newPoller(128)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll create: %w", err)
	}

	l := &EventLoop{
		poller:     p,
		tid:        tid,
		epollTO:    int(DefaultEpollTimeout.Milliseconds()),
		registered: make(map[int]*FdEvent),
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	wk, err := newWakeupFdEvent(l)
	if err != nil {
		_ = p.close()
		return nil, fmt.Errorf("reactor: wakeup eventfd: %w", err)
	}
	l.wakeup = wk
	if err := l.addFdEventLocal(wk.fd, EventRead); err != nil {
		_ = p.close()
		_ = wk.close()
		return nil, fmt.Errorf("reactor: register wakeup fd: %w", err)
	}

	timers, err := newTimerWheel(l)
	if err != nil {
		_ = p.close()
		_ = wk.close()
		return nil, fmt.Errorf("reactor: timerfd create: %w", err)
	}
	l.Timers = timers
	if err := l.addFdEventLocal(timers.fd, EventRead); err != nil {
		_ = p.close()
		_ = wk.close()
		_ = timers.close()
		return nil, fmt.Errorf("reactor: register timer fd: %w", err)
	}

	threadLoopsMu.Lock()
	threadLoops[tid] = l
	threadLoopsMu.Unlock()

	return l, nil
}

// IsInLoopThread reports whether the calling goroutine is running on the
// OS thread that owns this loop.
func (l *EventLoop) IsInLoopThread() bool {
	return unix.Gettid() == l.tid
}

// IsLooping reports whether Loop is currently running.
func (l *EventLoop) IsLooping() bool { return l.looping.Load() }

// AddFdEvent registers handle for its current interest mask. Safe to
// call from any thread: if not already on the loop thread, the add is
// trampolined through AddTask per spec.md §4.1.
func (l *EventLoop) AddFdEvent(handle *FdEvent, interest InterestFlags) error {
	if l.IsInLoopThread() {
		return l.addFdEventLocal(handle, interest)
	}
	errCh := make(chan error, 1)
	l.AddTask(func() { errCh <- l.addFdEventLocal(handle, interest) }, true)
	return <-errCh
}

func (l *EventLoop) addFdEventLocal(handle *FdEvent, interest InterestFlags) error {
	handle.interest = interest
	handle.loop = l
	if _, exists := l.registered[handle.Fd]; exists {
		if err := l.poller.modify(handle.Fd, interest); err != nil {
			l.log.Errorf("reactor: epoll_mod fd=%d: %v", handle.Fd, err)
			return err
		}
		return nil
	}
	if err := l.poller.add(handle.Fd, interest); err != nil {
		l.log.Errorf("reactor: epoll_add fd=%d: %v", handle.Fd, err)
		return err
	}
	l.registered[handle.Fd] = handle
	return nil
}

// DeleteFdEvent unregisters handle from epoll. Safe to call from any
// thread (trampolined like AddFdEvent).
func (l *EventLoop) DeleteFdEvent(handle *FdEvent) error {
	if l.IsInLoopThread() {
		return l.deleteFdEventLocal(handle)
	}
	errCh := make(chan error, 1)
	l.AddTask(func() { errCh <- l.deleteFdEventLocal(handle) }, true)
	return <-errCh
}

func (l *EventLoop) deleteFdEventLocal(handle *FdEvent) error {
	if _, exists := l.registered[handle.Fd]; !exists {
		return nil
	}
	delete(l.registered, handle.Fd)
	if err := l.poller.remove(handle.Fd); err != nil {
		l.log.Errorf("reactor: epoll_del fd=%d: %v", handle.Fd, err)
		return err
	}
	handle.loop = nil
	return nil
}

// AddTask enqueues fn to run on the loop thread during the next
// task-queue drain. If wake is true (the default callers should pass)
// and the caller is not already on the loop thread, one byte is written
// to the wakeup notifier so an in-progress epoll_wait returns promptly,
// per spec.md §4.1.
func (l *EventLoop) AddTask(fn func(), wake bool) {
	l.taskMu.Lock()
	l.pending = append(l.pending, fn)
	l.taskMu.Unlock()

	if wake && !l.IsInLoopThread() {
		l.wakeup.wake()
	}
}

// AddTimer adds a TimerEvent to this loop's TimerWheel, trampolining
// through the task queue if called off the loop thread, per spec.md
// §9's Design Note deciding cross-thread add_timer goes through
// add_task rather than a dedicated timer-map mutex.
func (l *EventLoop) AddTimer(d time.Duration, repeating bool, cb func()) *TimerEvent {
	ev := &TimerEvent{deadline: time.Now().Add(d), period: d, repeating: repeating, callback: cb}
	if l.IsInLoopThread() {
		l.Timers.Add(ev)
		return ev
	}
	done := make(chan struct{})
	l.AddTask(func() { l.Timers.Add(ev); close(done) }, true)
	<-done
	return ev
}

// Wakeup causes an in-progress epoll_wait to return promptly.
func (l *EventLoop) Wakeup() { l.wakeup.wake() }

// Stop requests loop termination; Loop returns once the current
// iteration completes.
func (l *EventLoop) Stop() {
	l.stopped.Store(true)
	l.Wakeup()
}

// Loop runs the reactor until Stop is called. It must be invoked from
// the thread that constructed the EventLoop.
//
// Each iteration: (a) atomically swap the pending-task queue into a
// local list and run each task to completion; (b) epoll_wait up to
// epollTO; (c) for each returned event, enqueue its read/write callback
// as a task — so triggered callbacks run in iteration N+1's step (a),
// per spec.md §4.1.
func (l *EventLoop) Loop() {
	l.looping.Store(true)
	defer l.looping.Store(false)
	defer l.cleanup()

	for !l.stopped.Load() {
		l.runPendingTasks()

		events, err := l.poller.wait(l.epollTO)
		if l.collect != nil {
			l.collect.ReactorEpollWaits.Inc()
		}
		if err != nil {
			l.log.Errorf("reactor: epoll_wait: %v", err)
			continue
		}

		for _, ev := range events {
			fd := int(ev.Fd)
			handle, ok := l.registered[fd]
			if !ok {
				continue
			}
			mask := InterestFlags(ev.Events)
			if mask&EventError != 0 && handle.ErrorCB != nil {
				cb := handle.ErrorCB
				l.AddTask(cb, false)
				continue
			}
			if mask&EventRead != 0 && handle.ReadCB != nil {
				cb := handle.ReadCB
				l.AddTask(cb, false)
			}
			if mask&EventWrite != 0 && handle.WriteCB != nil {
				cb := handle.WriteCB
				l.AddTask(cb, false)
			}
		}
	}
}

func (l *EventLoop) runPendingTasks() {
	l.taskMu.Lock()
	l.pending, l.scratch = l.scratch, l.pending
	l.taskMu.Unlock()

	for _, fn := range l.scratch {
		fn()
	}
	l.scratch = l.scratch[:0]

	if l.collect != nil {
		l.taskMu.Lock()
		depth := len(l.pending)
		l.taskMu.Unlock()
		l.collect.ReactorTaskQueueDepth.Set(float64(depth))
	}
}

func (l *EventLoop) cleanup() {
	threadLoopsMu.Lock()
	delete(threadLoops, l.tid)
	threadLoopsMu.Unlock()

	_ = l.wakeup.close()
	_ = l.Timers.close()
	_ = l.poller.close()
}
