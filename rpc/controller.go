package rpc

import (
	"sync"
	"time"

	"github.com/a2535171138/rpcgo/errcode"
	"github.com/a2535171138/rpcgo/netutil"
)

// DefaultTimeout is the per-call timeout applied when a Controller is
// not given an explicit one, per spec.md §4.7/§5 ("default 1000ms").
const DefaultTimeout = time.Second

// Controller is the Rpc Controller described in spec.md §3/§4.7: the
// per-call mutable state a Channel threads through a single
// call_method invocation.
type Controller struct {
	mu sync.Mutex

	msgID      string
	methodName string

	errorCode errcode.Code
	errorInfo string
	failed    bool
	cancelled bool

	local *netutil.NetAddr
	peer  *netutil.NetAddr

	timeout time.Duration
}

// NewController returns a Controller with spec.md §4.7's reset defaults
// applied.
func NewController() *Controller {
	c := &Controller{}
	c.Reset()
	return c
}

// Reset restores spec.md §4.7's reset rule: "error_code:=0,
// error_info:='', msg_id:='', failed:=false, cancelled:=false,
// local/peer_addr:=null, timeout:=1000ms".
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCode = errcode.OK
	c.errorInfo = ""
	c.msgID = ""
	c.methodName = ""
	c.failed = false
	c.cancelled = false
	c.local = nil
	c.peer = nil
	c.timeout = DefaultTimeout
}

// MsgID returns the call's message identifier.
func (c *Controller) MsgID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgID
}

// SetMsgID sets the call's message identifier.
func (c *Controller) SetMsgID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgID = id
}

// MethodName returns the full service.method name.
func (c *Controller) MethodName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.methodName
}

// SetMethodName sets the full service.method name.
func (c *Controller) SetMethodName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methodName = name
}

// SetError records a failure, per spec.md §4.7's error-surfacing steps.
func (c *Controller) SetError(code errcode.Code, info string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCode = code
	c.errorInfo = info
	c.failed = true
}

// Error returns the recorded error code and message.
func (c *Controller) Error() (errcode.Code, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorCode, c.errorInfo
}

// Failed reports whether SetError has been called since the last
// Reset.
func (c *Controller) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// SetCancelled marks the call cancelled (by timeout), per spec.md
// §5's cancellation rule: the user closure is suppressed but internal
// cleanup still runs.
func (c *Controller) SetCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

// Cancelled reports whether SetCancelled has been called.
func (c *Controller) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// SetLocal records the local address observed for this call.
func (c *Controller) SetLocal(a *netutil.NetAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = a
}

// Local returns the local address, or nil if unset.
func (c *Controller) Local() *netutil.NetAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// SetPeer records the peer address observed for this call.
func (c *Controller) SetPeer(a *netutil.NetAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peer = a
}

// Peer returns the peer address, or nil if unset.
func (c *Controller) Peer() *netutil.NetAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// SetTimeout overrides the per-call timeout (default DefaultTimeout).
func (c *Controller) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Timeout returns the per-call timeout.
func (c *Controller) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}
