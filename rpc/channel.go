//go:build linux

package rpc

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/a2535171138/rpcgo/errcode"
	"github.com/a2535171138/rpcgo/metrics"
	"github.com/a2535171138/rpcgo/netutil"
	"github.com/a2535171138/rpcgo/tcp"
	"github.com/a2535171138/rpcgo/wire"
)

// Channel is the Rpc Channel described in spec.md §4.7: it owns (or is
// handed) a Tcp Client and orchestrates one call_method invocation at a
// time per Controller, with a one-shot timeout timer racing the
// connect/write/read continuation chain. Closures capturing the Channel
// keep it reachable for as long as a call is in flight, so no explicit
// refcount is kept; sync.Once guarantees the completion callback fires
// exactly once regardless of which path (success, error, or timeout)
// reaches it first.
type Channel struct {
	client *tcp.Client
	peer   *netutil.NetAddr

	checksum wire.ChecksumMode
	log      logrus.FieldLogger
	collect  *metrics.Collectors
}

// NewChannel builds a Channel that calls methods against peer through
// client.
func NewChannel(client *tcp.Client, peer *netutil.NetAddr, log logrus.FieldLogger, collect *metrics.Collectors) *Channel {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Channel{client: client, peer: peer, log: log, collect: collect}
}

// CallMethod implements spec.md §4.7's call_method: it assigns a
// msg_id if the controller doesn't already have one, marshals the
// request, arms a one-shot timeout, connects (reusing an existing
// connection if already established), writes the request, and reads
// the correlated response — invoking closure exactly once, per spec.md
// §8's at-most-once testable property.
//
// marshalReq and unmarshalRsp are the call site's own body codec
// (encoding/json in testservice): a payload serializer is explicitly
// out of core scope per spec.md §1, so the Channel never inspects
// request/response bodies itself.
func (ch *Channel) CallMethod(ctrl *Controller, method string, marshalReq func() ([]byte, error), unmarshalRsp func([]byte) error, closure func()) {
	if ctrl.MsgID() == "" {
		ctrl.SetMsgID(NextMsgID())
	}
	ctrl.SetMethodName(method)

	reqPayload, err := marshalReq()
	if err != nil {
		ctrl.SetError(errcode.ErrorFailedSerialize, err.Error())
		closure()
		return
	}

	var once sync.Once
	start := time.Now()

	timer := ch.client.Loop().AddTimer(ctrl.Timeout(), false, func() {
		once.Do(func() {
			ctrl.SetCancelled()
			ctrl.SetError(errcode.ErrorRPCCallTimeout, "rpc call timed out")
			closure()
			ch.collect.DecCallsInFlight()
			ch.collect.RecordCall(method, "timeout", time.Since(start).Seconds())
		})
	})

	ch.collect.IncCallsInFlight()

	connectErr := ch.client.Connect(ch.peer, func(code errcode.Code) {
		if code != errcode.OK {
			once.Do(func() {
				timer.Cancel()
				ctrl.SetError(code, "connect failed: "+code.String())
				closure()
				ch.collect.DecCallsInFlight()
				ch.collect.RecordCall(method, "connect_error", time.Since(start).Seconds())
			})
			return
		}

		msgID := ctrl.MsgID()
		env := wire.NewRequest(msgID, method, reqPayload)

		writeErr := ch.client.WriteMessage(env, func() {
			readErr := ch.client.ReadMessage(msgID, func(rsp *wire.Envelope) {
				once.Do(func() {
					timer.Cancel()
					if rsp.ErrCode != 0 {
						ctrl.SetError(errcode.Code(rsp.ErrCode), rsp.ErrInfo)
					} else if uerr := unmarshalRsp(rsp.Payload); uerr != nil {
						ctrl.SetError(errcode.ErrorFailedDeserialize, uerr.Error())
					}
					// Cancellation and completion are mutually exclusive
					// by construction (both paths are guarded by the same
					// once), so this is always true here; kept to mirror
					// spec.md §4.7's explicit cancellation check.
					if !ctrl.Cancelled() {
						closure()
					}
					ch.collect.DecCallsInFlight()
					outcome := "success"
					if ctrl.Failed() {
						outcome = "app_error"
					}
					ch.collect.RecordCall(method, outcome, time.Since(start).Seconds())
				})
			})
			if readErr != nil {
				once.Do(func() {
					timer.Cancel()
					ctrl.SetError(errcode.ErrorRPCChannelInit, readErr.Error())
					closure()
					ch.collect.DecCallsInFlight()
				})
			}
		})
		if writeErr != nil {
			once.Do(func() {
				timer.Cancel()
				ctrl.SetError(errcode.ErrorRPCChannelInit, writeErr.Error())
				closure()
				ch.collect.DecCallsInFlight()
			})
		}
	})
	if connectErr != nil {
		once.Do(func() {
			timer.Cancel()
			ctrl.SetError(errcode.ErrorRPCChannelInit, connectErr.Error())
			closure()
			ch.collect.DecCallsInFlight()
		})
	}
}
