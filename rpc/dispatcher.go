package rpc

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/a2535171138/rpcgo/errcode"
	"github.com/a2535171138/rpcgo/metrics"
	"github.com/a2535171138/rpcgo/tcp"
	"github.com/a2535171138/rpcgo/wire"
)

// MethodHandler handles one RPC method call. Request/response body
// marshaling is the handler's own concern — a payload serializer is
// explicitly out of core scope per spec.md §1 — so it receives and
// returns opaque bytes alongside the populated Controller. A non-OK
// code maps directly onto the response envelope's err_code/err_info.
type MethodHandler func(ctrl *Controller, reqPayload []byte) (rspPayload []byte, code errcode.Code, errInfo string)

// Service is one registered RPC service, per spec.md §4.9's "mapping
// from service full name to service handler."
type Service interface {
	FullName() string
	Methods() map[string]MethodHandler
}

// Dispatcher holds the process-wide service registry and implements
// tcp.Dispatcher, per spec.md §4.9 / §5 ("RPC dispatcher registry is
// process-wide"). A method name is looked up by splitting on its first
// dot into a service full name and a method name within it.
type Dispatcher struct {
	mu       sync.RWMutex
	services map[string]Service

	log     logrus.FieldLogger
	collect *metrics.Collectors
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(log logrus.FieldLogger, collect *metrics.Collectors) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{services: make(map[string]Service), log: log, collect: collect}
}

// Register adds svc to the registry, keyed by its FullName.
func (d *Dispatcher) Register(svc Service) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services[svc.FullName()] = svc
}

// Dispatch implements tcp.Dispatcher, per spec.md §4.9's steps: split
// method_name on the first '.', look up the service then the method,
// invoke the handler, and populate rsp's err_code/err_info/payload.
// msg_id and method_name are always copied from req to rsp, already
// done by wire.NewResponse before Dispatch is called.
func (d *Dispatcher) Dispatch(req, rsp *wire.Envelope, conn *tcp.Connection) {
	idx := strings.IndexByte(req.MethodName, '.')
	if idx < 0 {
		rsp.ErrCode = int32(errcode.ErrorParseServiceName)
		rsp.ErrInfo = fmt.Sprintf("malformed method_name %q: missing '.' separator", req.MethodName)
		d.collect.RecordCall(req.MethodName, "parse_error", 0)
		return
	}
	serviceName, methodName := req.MethodName[:idx], req.MethodName[idx+1:]

	d.mu.RLock()
	svc, ok := d.services[serviceName]
	d.mu.RUnlock()
	if !ok {
		rsp.ErrCode = int32(errcode.ErrorServiceNotFound)
		rsp.ErrInfo = fmt.Sprintf("service not found: %s", serviceName)
		d.collect.RecordCall(req.MethodName, "not_found", 0)
		return
	}

	handler, ok := svc.Methods()[methodName]
	if !ok {
		rsp.ErrCode = int32(errcode.ErrorServiceNotFound)
		rsp.ErrInfo = fmt.Sprintf("method not found: %s.%s", serviceName, methodName)
		d.collect.RecordCall(req.MethodName, "not_found", 0)
		return
	}

	ctrl := NewController()
	ctrl.SetMsgID(req.MsgID)
	ctrl.SetMethodName(req.MethodName)
	ctrl.SetLocal(conn.Local())
	ctrl.SetPeer(conn.Peer())

	payload, code, errInfo := handler(ctrl, req.Payload)
	rsp.Payload = payload
	rsp.ErrCode = int32(code)
	rsp.ErrInfo = errInfo

	outcome := "success"
	if code != errcode.OK {
		outcome = "app_error"
	}
	d.collect.RecordCall(req.MethodName, outcome, 0)
}
