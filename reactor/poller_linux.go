//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// poller wraps a single epoll instance. spec.md §5 confines all
// mutation of a loop's registrations to the owning loop's own thread,
// so unlike a poller shared across goroutines, this one needs no
// internal locking — there is never concurrent access to guard against.
type poller struct {
	epfd     int
	eventBuf []unix.EpollEvent
}

func newPoller(maxEvents int) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if maxEvents <= 0 {
		maxEvents = 128
	}
	return &poller{epfd: epfd, eventBuf: make([]unix.EpollEvent, maxEvents)}, nil
}

func (p *poller) add(fd int, events InterestFlags) error {
	ev := unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *poller) modify(fd int, events InterestFlags) error {
	ev := unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *poller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for up to timeoutMs milliseconds and returns the triggered
// events. EINTR is treated as "no events" rather than an error.
func (p *poller) wait(timeoutMs int) ([]unix.EpollEvent, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	return p.eventBuf[:n], nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}
