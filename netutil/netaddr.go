// Package netutil provides the IPv4 address value object shared by the
// tcp and rpc packages.
package netutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// NetAddr is an IPv4 address/port pair with validation and a native
// sockaddr projection.
type NetAddr struct {
	IP   string
	Port int
}

// New builds a NetAddr from an IP and a port.
func New(ip string, port int) *NetAddr {
	return &NetAddr{IP: ip, Port: port}
}

// Parse builds a NetAddr from an "ip:port" string. It never returns an
// error itself — a malformed string yields a zero-valued address —
// callers that need to reject a bad address should call CheckValid.
func Parse(addr string) *NetAddr {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return &NetAddr{}
	}
	port, _ := strconv.Atoi(addr[i+1:])
	return &NetAddr{IP: addr[:i], Port: port}
}

// FromTCPAddr projects a resolved net.TCPAddr (as returned by getsockname
// /getpeername equivalents) into a NetAddr.
func FromTCPAddr(a *net.TCPAddr) *NetAddr {
	if a == nil {
		return &NetAddr{}
	}
	return &NetAddr{IP: a.IP.String(), Port: a.Port}
}

// String renders the address back as "ip:port".
func (a *NetAddr) String() string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// CheckValid rejects an empty IP, a port outside [0, 65535], and an
// unparseable dotted-quad, per spec.md §6.
func (a *NetAddr) CheckValid() bool {
	if a == nil || a.IP == "" {
		return false
	}
	if a.Port < 0 || a.Port > 65535 {
		return false
	}
	ip := net.ParseIP(a.IP)
	if ip == nil || ip.To4() == nil {
		return false
	}
	return true
}

// TCPAddr projects the address into the stdlib's sockaddr-equivalent
// type, used to dial/bind/connect.
func (a *NetAddr) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.ParseIP(a.IP), Port: a.Port}
}
