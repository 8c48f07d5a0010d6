//go:build linux

package reactor

import (
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/a2535171138/rpcgo/metrics"
)

// IOWorker owns exactly one OS thread and exactly one EventLoop running
// on it, per spec.md §2 item 7 ("I/O Worker: owns one event loop bound
// to one OS thread"). Workers are homogeneous and interchangeable —
// spec.md §4.5 makes no rx/tx distinction, so every worker can accept
// any connection handed to it.
type IOWorker struct {
	loop *EventLoop

	// constructed is an unbuffered channel closed once run has built
	// (or failed to build) its EventLoop, so Start can block until
	// EventLoop() is safe to call. There is no separate start gate: run
	// enters Loop right after closing it.
	constructed chan struct{}
}

// newIOWorker allocates a worker. The caller must call run in a new
// goroutine to actually start it.
func newIOWorker() *IOWorker {
	return &IOWorker{constructed: make(chan struct{})}
}

// NewIOWorker allocates a standalone worker not bound to a WorkerPool —
// for components (such as a Tcp Client) that need their own
// single-thread loop. Call Start to launch it.
func NewIOWorker() *IOWorker {
	return newIOWorker()
}

// Start launches the worker's dedicated goroutine and blocks until its
// EventLoop has been constructed (or construction failed).
func (w *IOWorker) Start(log logrus.FieldLogger, collect *metrics.Collectors) *EventLoop {
	go w.run(log, collect)
	return w.EventLoop()
}

// run locks the calling goroutine to its OS thread, builds an
// EventLoop on it, publishes the loop, and then runs it until Stop is
// called. It must be launched with `go w.run(...)`.
func (w *IOWorker) run(log logrus.FieldLogger, collect *metrics.Collectors) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	loop, err := NewEventLoop(WithLogger(log), WithCollectors(collect))
	if err != nil {
		// Fatal per spec.md §7 ("Fatal init: ... loop creation fails ->
		// abort startup"); the worker pool surfaces this by leaving
		// w.loop nil, which EventLoop() callers must treat as "worker
		// failed to start."
		log.Errorf("reactor: io worker failed to start: %v", err)
		close(w.constructed)
		return
	}
	w.loop = loop
	close(w.constructed)

	loop.Loop()
}

// EventLoop blocks until the worker's loop has been constructed (or
// construction failed) and returns it. A nil return indicates startup
// failure.
func (w *IOWorker) EventLoop() *EventLoop {
	<-w.constructed
	return w.loop
}

// Stop requests the worker's loop to terminate.
func (w *IOWorker) Stop() {
	if l := w.EventLoop(); l != nil {
		l.Stop()
	}
}
