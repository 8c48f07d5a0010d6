//go:build linux

package tcp

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/a2535171138/rpcgo/netutil"
)

// toSockaddrInet4 projects a NetAddr into the raw sockaddr form the
// unix syscalls require.
func toSockaddrInet4(a *netutil.NetAddr) (*unix.SockaddrInet4, error) {
	sa := &unix.SockaddrInet4{Port: a.Port}
	ip := a.TCPAddr().IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("tcp: address %q is not a valid IPv4 dotted-quad", a.String())
	}
	copy(sa.Addr[:], ip)
	return sa, nil
}

// fromSockaddr projects a raw sockaddr back into a NetAddr. Only
// SockaddrInet4 is supported, matching spec.md §6's IPv4-only address
// format.
func fromSockaddr(sa unix.Sockaddr) *netutil.NetAddr {
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return &netutil.NetAddr{}
	}
	ip := fmt.Sprintf("%d.%d.%d.%d", in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3])
	return netutil.New(ip, in4.Port)
}

// getsockname returns the local address bound to fd.
func getsockname(fd int) *netutil.NetAddr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return &netutil.NetAddr{}
	}
	return fromSockaddr(sa)
}

// newNonblockingSocket creates a non-blocking, close-on-exec TCP/IPv4
// socket, grounded on other_examples' mdlayher/socket Conn construction
// idiom (SOCK_NONBLOCK|SOCK_CLOEXEC where the kernel supports it).
func newNonblockingSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	return fd, nil
}
