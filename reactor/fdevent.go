package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// InterestFlags is a bitmask subset of {EventRead, EventWrite}.
type InterestFlags uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead InterestFlags = unix.EPOLLIN
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite InterestFlags = unix.EPOLLOUT
	// EventError indicates an error or hangup condition.
	EventError InterestFlags = unix.EPOLLERR | unix.EPOLLHUP
)

// FdEvent binds a file descriptor to edge/level readiness handlers, per
// spec.md §2 item 2 / §3. A single FdEvent is shared (by fd) across
// however many components reference it — the pool in this file is the
// only owner.
type FdEvent struct {
	Fd       int
	ReadCB   func()
	WriteCB  func()
	ErrorCB  func()
	interest InterestFlags
	loop     *EventLoop // the loop currently registered with epoll, if any
}

// Interest returns the currently registered interest mask.
func (e *FdEvent) Interest() InterestFlags { return e.interest }

// fdPool is the process-wide, lazily-allocated, never-reclaimed arena
// keyed by fd described in spec.md §9 Design Notes ("re-architect as an
// arena keyed by fd with interior mutability on entries; allocate lazily
// on first use, never reclaim"). Entries are keyed by raw fd rather than
// by a net.Conn-derived identity, so a slot can be reused across
// accept/close cycles without ever walking a live connection set.
type fdPool struct {
	mu      sync.Mutex
	entries map[int]*FdEvent
}

func newFdPool() *fdPool {
	return &fdPool{entries: make(map[int]*FdEvent, 1024)}
}

// Get returns the shared FdEvent handle for fd, allocating one on first
// use. The pool never removes entries — fds are small integers and the
// pool's peak size is bounded by the process fd limit.
func (p *fdPool) Get(fd int) *FdEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[fd]
	if !ok {
		e = &FdEvent{Fd: fd}
		p.entries[fd] = e
	}
	return e
}

// globalFdPool is the single process-wide pool, per spec.md §5 ("Shared
// resources... Fd-Event pool is process-wide and guarded by a mutex").
var globalFdPool = newFdPool()

// AcquireFdEvent returns the shared FdEvent for fd from the process-wide
// pool.
func AcquireFdEvent(fd int) *FdEvent {
	return globalFdPool.Get(fd)
}
