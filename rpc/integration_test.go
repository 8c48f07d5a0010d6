//go:build linux

package rpc_test

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/a2535171138/rpcgo/buffer"
	"github.com/a2535171138/rpcgo/errcode"
	"github.com/a2535171138/rpcgo/netutil"
	"github.com/a2535171138/rpcgo/rpc"
	"github.com/a2535171138/rpcgo/tcp"
	"github.com/a2535171138/rpcgo/testservice"
	"github.com/a2535171138/rpcgo/wire"
)

func startOrderServer(t *testing.T) *tcp.Server {
	t.Helper()
	disp := rpc.NewDispatcher(nil, nil)
	disp.Register(testservice.OrderService{})

	srv, err := tcp.NewServer(netutil.New("127.0.0.1", 0), disp, tcp.WithServerWorkers(1))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	started := make(chan struct{})
	go func() {
		close(started)
		_ = srv.Start()
	}()
	<-started
	time.Sleep(20 * time.Millisecond)
	t.Cleanup(srv.Stop)
	return srv
}

func newChannel(t *testing.T, peer *netutil.NetAddr) *rpc.Channel {
	t.Helper()
	client, err := tcp.NewClient(nil, wire.ChecksumCRC32, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Close)
	return rpc.NewChannel(client, peer, nil, nil)
}

func TestCallMethodSuccess(t *testing.T) {
	srv := startOrderServer(t)
	ch := newChannel(t, srv.Addr())

	ctrl := rpc.NewController()
	req := testservice.MakeOrderRequest{Price: 100, Goods: "widget"}
	var rsp testservice.MakeOrderResponse

	done := make(chan struct{})
	ch.CallMethod(ctrl, "OrderService.MakeOrder",
		func() ([]byte, error) { return json.Marshal(req) },
		func(b []byte) error { return json.Unmarshal(b, &rsp) },
		func() { close(done) },
	)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("call did not complete")
	}

	if ctrl.Failed() {
		code, info := ctrl.Error()
		t.Fatalf("call failed: %v %q", code, info)
	}
	if rsp.OrderID == "" {
		t.Fatal("expected a non-empty order id")
	}
}

func TestCallMethodApplicationError(t *testing.T) {
	srv := startOrderServer(t)
	ch := newChannel(t, srv.Addr())

	ctrl := rpc.NewController()
	req := testservice.MakeOrderRequest{Price: 1, Goods: "cheap"}
	var appErr testservice.MakeOrderAppError

	done := make(chan struct{})
	ch.CallMethod(ctrl, "OrderService.MakeOrder",
		func() ([]byte, error) { return json.Marshal(req) },
		func(b []byte) error { return json.Unmarshal(b, &appErr) },
		func() { close(done) },
	)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("call did not complete")
	}

	if ctrl.Failed() {
		t.Fatalf("transport-level call should not be marked failed for an app-level error")
	}
	if appErr.RetCode != -1 || appErr.ResInfo != "short balance" {
		t.Fatalf("app error = %+v, want ret_code=-1 res_info=short balance", appErr)
	}
}

func TestCallMethodUnknownMethod(t *testing.T) {
	srv := startOrderServer(t)
	ch := newChannel(t, srv.Addr())

	ctrl := rpc.NewController()
	done := make(chan struct{})
	ch.CallMethod(ctrl, "OrderService.DoesNotExist",
		func() ([]byte, error) { return []byte("{}"), nil },
		func([]byte) error { return nil },
		func() { close(done) },
	)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("call did not complete")
	}

	code, _ := ctrl.Error()
	if code != errcode.ErrorServiceNotFound {
		t.Fatalf("error code = %v, want ERROR_SERVICE_NOT_FOUND", code)
	}
}

func TestCallMethodConnectRefusedFailsAtMostOnce(t *testing.T) {
	// No server listening on this address: the connect itself fails
	// fast, racing the timeout timer. Whichever completes first, the
	// completion closure must still fire exactly once.
	ch := newChannel(t, netutil.New("127.0.0.1", 1))

	ctrl := rpc.NewController()
	ctrl.SetTimeout(50 * time.Millisecond)

	done := make(chan struct{})
	var fired int
	ch.CallMethod(ctrl, "OrderService.MakeOrder",
		func() ([]byte, error) { return []byte("{}"), nil },
		func([]byte) error { return nil },
		func() { fired++; close(done) },
	)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("call did not complete")
	}

	if fired != 1 {
		t.Fatalf("closure fired %d times, want exactly 1", fired)
	}
	if !ctrl.Failed() {
		t.Fatal("expected the call to fail (connect refused or timeout)")
	}
}

// TestCallMethodTimeout exercises spec.md §8 scenario 5: the connect
// succeeds, the server accepts but never reads or writes, and the
// 50ms call timeout must fire ERROR_RPC_CALL_TIMEOUT within roughly
// 50-150ms of the call starting.
func TestCallMethodTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	var mu sync.Mutex
	var accepted []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			accepted = append(accepted, conn)
			mu.Unlock()
		}
	}()
	defer func() {
		mu.Lock()
		for _, c := range accepted {
			c.Close()
		}
		mu.Unlock()
	}()

	addr := ln.Addr().(*net.TCPAddr)
	ch := newChannel(t, netutil.New("127.0.0.1", addr.Port))

	ctrl := rpc.NewController()
	ctrl.SetTimeout(50 * time.Millisecond)

	req := testservice.MakeOrderRequest{Price: 100, Goods: "widget"}
	done := make(chan struct{})
	var fired int
	start := time.Now()
	ch.CallMethod(ctrl, "OrderService.MakeOrder",
		func() ([]byte, error) { return json.Marshal(req) },
		func([]byte) error { return nil },
		func() { fired++; close(done) },
	)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("call did not complete")
	}
	elapsed := time.Since(start)

	if fired != 1 {
		t.Fatalf("closure fired %d times, want exactly 1", fired)
	}
	if !ctrl.Failed() {
		t.Fatal("expected the call to time out")
	}
	if code, _ := ctrl.Error(); code != errcode.ErrorRPCCallTimeout {
		t.Fatalf("error code = %v, want ERROR_RPC_CALL_TIMEOUT", code)
	}
	if elapsed < 50*time.Millisecond || elapsed > 150*time.Millisecond {
		t.Fatalf("completion landed at %v, want within ~50-150ms", elapsed)
	}
}

// TestCallMethodInterleavedPipeliningCorrelatesOutOfOrderResponses
// exercises spec.md §8 scenario 6: two in-flight calls on one Channel
// and one connection, each with its own msg_id, must be correlated by
// msg_id rather than by response arrival order. The fake server below
// deliberately answers the two pipelined requests in reverse order.
func TestCallMethodInterleavedPipeliningCorrelatesOutOfOrderResponses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		codec := wire.NewCodec(wire.ChecksumCRC32, nil, nil)
		in := buffer.New(256)
		var pending []*wire.Envelope
		readBuf := make([]byte, 256)
		next := func() *wire.Envelope {
			for len(pending) == 0 {
				n, rerr := conn.Read(readBuf)
				if rerr != nil {
					return nil
				}
				in.Write(readBuf[:n])
				pending = append(pending, codec.Decode(in)...)
			}
			e := pending[0]
			pending = pending[1:]
			return e
		}

		// Answer the warm-up request immediately, in order, so the
		// client observes a fully established connection before the
		// two pipelined requests are sent.
		warmup := next()
		if warmup == nil {
			return
		}
		warmupOut := buffer.New(128)
		codec.Encode(wire.NewResponse(warmup), warmupOut)
		conn.Write(warmupOut.Bytes())

		reqA := next()
		reqB := next()
		if reqA == nil || reqB == nil {
			return
		}
		out := buffer.New(256)
		for _, req := range []*wire.Envelope{reqB, reqA} {
			rsp := wire.NewResponse(req)
			rsp.Payload = req.Payload
			codec.Encode(rsp, out)
		}
		conn.Write(out.Bytes())
	}()

	addr := ln.Addr().(*net.TCPAddr)
	ch := newChannel(t, netutil.New("127.0.0.1", addr.Port))

	type outcome struct {
		payload string
		failed  bool
	}
	invoke := func(payload string) chan outcome {
		ctrl := rpc.NewController()
		result := make(chan outcome, 1)
		ch.CallMethod(ctrl, "OrderService.MakeOrder",
			func() ([]byte, error) { return []byte(payload), nil },
			func(b []byte) error { result <- outcome{payload: string(b)}; return nil },
			func() {
				if ctrl.Failed() {
					result <- outcome{failed: true}
				}
			},
		)
		return result
	}

	select {
	case warmup := <-invoke("warmup"):
		if warmup.failed {
			t.Fatal("warm-up call failed")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("warm-up call did not complete")
	}

	// Issued back-to-back on an already-established connection: both
	// requests queue and go out in this program order, letting the fake
	// server deliberately reply out of order.
	firstResult := invoke("first")
	secondResult := invoke("second")

	var first, second outcome
	select {
	case first = <-firstResult:
	case <-time.After(3 * time.Second):
		t.Fatal("first call did not complete")
	}
	select {
	case second = <-secondResult:
	case <-time.After(3 * time.Second):
		t.Fatal("second call did not complete")
	}

	select {
	case <-serverDone:
	case <-time.After(3 * time.Second):
		t.Fatal("fake server never finished")
	}

	if first.failed || second.failed {
		t.Fatalf("expected both calls to succeed: first.failed=%v second.failed=%v", first.failed, second.failed)
	}
	if first.payload != "first" {
		t.Fatalf("first call's response payload = %q, want %q (correlation by msg_id must survive out-of-order arrival)", first.payload, "first")
	}
	if second.payload != "second" {
		t.Fatalf("second call's response payload = %q, want %q (correlation by msg_id must survive out-of-order arrival)", second.payload, "second")
	}
}
