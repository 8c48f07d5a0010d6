package rpc

import (
	"testing"
	"time"

	"github.com/a2535171138/rpcgo/errcode"
	"github.com/a2535171138/rpcgo/netutil"
)

func TestControllerDefaults(t *testing.T) {
	c := NewController()
	if c.Timeout() != DefaultTimeout {
		t.Fatalf("Timeout() = %v, want %v", c.Timeout(), DefaultTimeout)
	}
	if c.Failed() || c.Cancelled() {
		t.Fatalf("fresh controller should not be failed/cancelled")
	}
	if code, _ := c.Error(); code != errcode.OK {
		t.Fatalf("fresh controller error code = %v, want OK", code)
	}
}

func TestControllerResetRestoresDefaults(t *testing.T) {
	c := NewController()
	c.SetMsgID("123")
	c.SetError(errcode.ErrorFailedConnect, "boom")
	c.SetCancelled()
	c.SetLocal(netutil.New("127.0.0.1", 1))
	c.SetPeer(netutil.New("127.0.0.1", 2))
	c.SetTimeout(5 * time.Second)

	c.Reset()

	if c.MsgID() != "" || c.Failed() || c.Cancelled() || c.Local() != nil || c.Peer() != nil {
		t.Fatalf("Reset left non-default state: %+v", c)
	}
	if c.Timeout() != DefaultTimeout {
		t.Fatalf("Reset timeout = %v, want %v", c.Timeout(), DefaultTimeout)
	}
	if code, info := c.Error(); code != errcode.OK || info != "" {
		t.Fatalf("Reset error = (%v, %q), want (OK, \"\")", code, info)
	}
}
