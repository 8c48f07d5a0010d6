//go:build linux

package tcp

import (
	"testing"
	"time"

	"github.com/a2535171138/rpcgo/errcode"
	"github.com/a2535171138/rpcgo/netutil"
	"github.com/a2535171138/rpcgo/wire"
)

// echoDispatcher implements Dispatcher by copying the request payload
// into the response, for exercising the server-role Connection pipeline
// end to end.
type echoDispatcher struct{}

func (echoDispatcher) Dispatch(req, rsp *wire.Envelope, conn *Connection) {
	rsp.Payload = append([]byte(nil), req.Payload...)
	rsp.ErrCode = 0
}

func freePort(t testing.TB) *netutil.NetAddr {
	t.Helper()
	return netutil.New("127.0.0.1", 0)
}

func startEchoServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(freePort(t), echoDispatcher{}, WithServerWorkers(1))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	// Record the actual ephemeral port the OS assigned (port 0 means
	// "any"); NewAcceptor already stores the same getsockname result.
	actual := getsockname(srv.acceptor.Fd())
	srv.acceptor.addr = actual

	started := make(chan struct{})
	go func() {
		close(started)
		_ = srv.Start()
	}()
	<-started
	// give the main loop goroutine a moment to begin epoll_wait
	time.Sleep(20 * time.Millisecond)
	t.Cleanup(srv.Stop)
	return srv
}

func TestServerClientEchoRoundTrip(t *testing.T) {
	srv := startEchoServer(t)

	client, err := NewClient(nil, wire.ChecksumCRC32, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Close)

	connected := make(chan errcode.Code, 1)
	if err := client.Connect(srv.Addr(), func(code errcode.Code) { connected <- code }); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case code := <-connected:
		if code != errcode.OK {
			t.Fatalf("connect failed: %v", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connect timed out")
	}

	req := wire.NewRequest("msg-1", "Echo.Say", []byte("hello"))
	received := make(chan *wire.Envelope, 1)

	if err := client.ReadMessage("msg-1", func(env *wire.Envelope) { received <- env }); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := client.WriteMessage(req, nil); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	select {
	case rsp := <-received:
		if string(rsp.Payload) != "hello" {
			t.Fatalf("payload = %q, want %q", rsp.Payload, "hello")
		}
		if rsp.MsgID != "msg-1" {
			t.Fatalf("msg id = %q, want msg-1", rsp.MsgID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("response timed out")
	}
}

func TestClientConnectRefused(t *testing.T) {
	client, err := NewClient(nil, wire.ChecksumCRC32, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Close)

	// Bind-and-close to obtain a port nothing is listening on.
	tmp, err := NewAcceptor(netutil.New("127.0.0.1", 0))
	if err != nil {
		t.Fatalf("NewAcceptor: %v", err)
	}
	deadAddr := getsockname(tmp.Fd())
	_ = tmp.Close()

	result := make(chan errcode.Code, 1)
	if err := client.Connect(deadAddr, func(code errcode.Code) { result <- code }); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case code := <-result:
		if code != errcode.ErrorPeerClosed && code != errcode.ErrorFailedConnect {
			t.Fatalf("code = %v, want ERROR_PEER_CLOSED or ERROR_FAILED_CONNECT", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not complete")
	}
}
