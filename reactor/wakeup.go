//go:build linux

package reactor

import "golang.org/x/sys/unix"

// wakeupFdEvent is the eventfd-backed cross-thread wake primitive, per
// spec.md §2 item 3 / §4.1's cross-thread enqueue contract.
type wakeupFdEvent struct {
	fd *FdEvent
}

func newWakeupFdEvent(loop *EventLoop) (*wakeupFdEvent, error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	fd := AcquireFdEvent(efd)
	w := &wakeupFdEvent{fd: fd}
	fd.ReadCB = w.drain
	return w, nil
}

// drain reads (and discards) every pending notification on the eventfd.
// eventfd semantics coalesce writes into a single counter, so one read
// per wakeup is sufficient, but we loop until EAGAIN to be safe against
// platforms/timings that deliver more than one readiness notification
// before the drain runs.
func (w *wakeupFdEvent) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd.Fd, buf[:])
		if err != nil {
			return
		}
	}
}

// wake writes one notification, causing an in-progress epoll_wait on the
// owning loop to return promptly.
func (w *wakeupFdEvent) wake() {
	one := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, _ = unix.Write(w.fd.Fd, one)
}

func (w *wakeupFdEvent) close() error {
	return unix.Close(w.fd.Fd)
}
