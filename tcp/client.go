//go:build linux

package tcp

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/a2535171138/rpcgo/errcode"
	"github.com/a2535171138/rpcgo/metrics"
	"github.com/a2535171138/rpcgo/netutil"
	"github.com/a2535171138/rpcgo/reactor"
	"github.com/a2535171138/rpcgo/wire"
)

// Client is a Tcp Client: a non-blocking connect state machine over one
// socket plus the Connection it establishes, per spec.md §4.6. Connect
// completion is detected by re-issuing connect(2) and checking its
// return (0 or EISCONN means success, any other error means failure)
// rather than a getsockopt(SO_ERROR) check — see DESIGN.md.
type Client struct {
	loop     *reactor.EventLoop
	worker   *reactor.IOWorker // non-nil when this Client owns a dedicated loop thread
	checksum wire.ChecksumMode
	log      logrus.FieldLogger
	collect  *metrics.Collectors

	mu   sync.Mutex
	fd   int
	conn *Connection
	peer *netutil.NetAddr
}

// NewClient builds a Client that will connect through loop. If loop is
// nil, a dedicated single-thread IOWorker is spawned and started
// immediately — matching spec.md §4.6's "if the loop is not already
// running, start it", and spec.md §4.1's single-owner-per-OS-thread
// rule (the loop must run on the same thread it was constructed on, so
// it is always built inside the worker's own goroutine rather than
// handed a loop built elsewhere and started later).
func NewClient(loop *reactor.EventLoop, checksum wire.ChecksumMode, log logrus.FieldLogger, collect *metrics.Collectors) (*Client, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cl := &Client{checksum: checksum, log: log, collect: collect, fd: -1}
	if loop != nil {
		cl.loop = loop
		return cl, nil
	}
	worker := reactor.NewIOWorker()
	cl.loop = worker.Start(log, collect)
	if cl.loop == nil {
		return nil, fmt.Errorf("tcp: client event loop failed to start")
	}
	cl.worker = worker
	return cl, nil
}

// Loop returns the EventLoop this client connects through.
func (cl *Client) Loop() *reactor.EventLoop { return cl.loop }

// Connection returns the established Connection, or nil before Connect
// completes successfully.
func (cl *Client) Connection() *Connection {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.conn
}

// Connect attempts to establish a connection to peer, per spec.md §4.6.
// When Connect returns nil, done is invoked exactly once with OK on
// success or a connect-failure code otherwise: on the client's loop
// thread if the connect completes asynchronously, or synchronously on
// the calling goroutine if connect(2) succeeds or fails at once. If a
// Connection already exists and is Connected, done(OK) fires
// immediately without a new connect attempt. When Connect returns a
// non-nil error, done is not invoked.
func (cl *Client) Connect(peer *netutil.NetAddr, done func(errcode.Code)) error {
	cl.mu.Lock()
	if cl.conn != nil && cl.conn.State() == StateConnected {
		cl.mu.Unlock()
		done(errcode.OK)
		return nil
	}
	cl.mu.Unlock()

	fd, err := newNonblockingSocket()
	if err != nil {
		return fmt.Errorf("tcp: client socket: %w", err)
	}

	sa, err := toSockaddrInet4(peer)
	if err != nil {
		_ = unix.Close(fd)
		return err
	}

	err = unix.Connect(fd, sa)
	if err == nil {
		cl.finishConnect(fd, peer, done)
		return nil
	}
	if err == unix.EINPROGRESS {
		handle := reactor.AcquireFdEvent(fd)
		handle.WriteCB = func() { cl.onConnectWritable(fd, peer, done) }
		if regErr := cl.loop.AddFdEvent(handle, reactor.EventWrite); regErr != nil {
			_ = unix.Close(fd)
			return regErr
		}
		// Unlike the single-thread scenario spec.md §4.6 describes, this
		// Client's loop is always already running by the time Connect can
		// be called: NewClient either starts a dedicated IOWorker
		// immediately or is handed an already-looping shared loop.
		return nil
	}

	_ = unix.Close(fd)
	done(errcode.ErrorFailedConnect)
	return nil
}

// onConnectWritable fires when the in-progress connect's fd becomes
// writable. It re-issues connect to read the outcome: 0 or EISCONN
// means success; ECONNREFUSED maps to ERROR_PEER_CLOSED; anything else
// maps to ERROR_FAILED_CONNECT. Per spec.md §4.6 the Fd Event is always
// deleted here; on failure the fd is closed, and a later Connect call
// opens a fresh socket.
func (cl *Client) onConnectWritable(fd int, peer *netutil.NetAddr, done func(errcode.Code)) {
	handle := reactor.AcquireFdEvent(fd)
	_ = cl.loop.DeleteFdEvent(handle)

	sa, _ := toSockaddrInet4(peer)
	err := unix.Connect(fd, sa)
	if err == nil || err == unix.EISCONN {
		cl.finishConnect(fd, peer, done)
		return
	}

	code := errcode.ErrorFailedConnect
	if err == unix.ECONNREFUSED {
		code = errcode.ErrorPeerClosed
	}
	cl.log.Errorf("tcp: connect to %s failed: %v", peer.String(), err)
	_ = unix.Close(fd)
	done(code)
}

func (cl *Client) finishConnect(fd int, peer *netutil.NetAddr, done func(errcode.Code)) {
	conn := NewConnection(fd, cl.loop, RoleClient, peer, cl.checksum, Config{
		Log:        cl.log,
		Collectors: cl.collect,
		OnClose:    cl.onConnectionClosed,
	})
	if err := conn.Established(); err != nil {
		cl.log.Errorf("tcp: register client fd=%d: %v", fd, err)
		done(errcode.ErrorFailedConnect)
		return
	}
	cl.collect.RecordConnection("client")

	cl.mu.Lock()
	cl.fd = fd
	cl.conn = conn
	cl.peer = peer
	cl.mu.Unlock()

	done(errcode.OK)
}

func (cl *Client) onConnectionClosed(*Connection) {
	cl.mu.Lock()
	cl.conn = nil
	cl.fd = -1
	cl.mu.Unlock()
}

// WriteMessage queues msg for transmission once connected, per spec.md
// §4.6.
func (cl *Client) WriteMessage(env *wire.Envelope, onSent func()) error {
	conn := cl.Connection()
	if conn == nil {
		return fmt.Errorf("tcp: client not connected")
	}
	return conn.WriteMessage(env, onSent)
}

// ReadMessage registers onReceived to fire when a response with msgID
// arrives, per spec.md §4.6.
func (cl *Client) ReadMessage(msgID string, onReceived func(*wire.Envelope)) error {
	conn := cl.Connection()
	if conn == nil {
		return fmt.Errorf("tcp: client not connected")
	}
	return conn.ReadMessage(msgID, onReceived)
}

// Close shuts down the current connection, if any, and stops the loop
// if this Client owns a dedicated one.
func (cl *Client) Close() {
	if conn := cl.Connection(); conn != nil {
		conn.Clear()
	}
	if cl.worker != nil {
		cl.worker.Stop()
	}
}
