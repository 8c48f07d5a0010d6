//go:build linux

package tcp

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/a2535171138/rpcgo/metrics"
	"github.com/a2535171138/rpcgo/netutil"
	"github.com/a2535171138/rpcgo/reactor"
	"github.com/a2535171138/rpcgo/wire"
)

// Server composes an Acceptor, a main EventLoop, and a WorkerPool, per
// spec.md §4.5: the main loop only accepts; each accepted connection is
// handed to a worker loop chosen round-robin.
type Server struct {
	acceptor *Acceptor
	mainLoop *reactor.EventLoop
	workers  *reactor.WorkerPool

	checksum   wire.ChecksumMode
	dispatcher Dispatcher

	log     logrus.FieldLogger
	collect *metrics.Collectors

	connsMu sync.Mutex
	conns   map[int]*Connection
}

// ServerOption configures NewServer.
type ServerOption func(*Server)

// WithServerWorkers sets the worker pool size (default
// reactor.DefaultWorkerCount).
func WithServerWorkers(n int) ServerOption {
	return func(s *Server) { s.workers = reactor.NewWorkerPool(n, s.log, s.collect) }
}

// WithServerLogger attaches a logger.
func WithServerLogger(log logrus.FieldLogger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithServerCollectors attaches Prometheus collectors.
func WithServerCollectors(c *metrics.Collectors) ServerOption {
	return func(s *Server) { s.collect = c }
}

// WithServerChecksum selects the wire checksum mode.
func WithServerChecksum(mode wire.ChecksumMode) ServerOption {
	return func(s *Server) { s.checksum = mode }
}

// NewServer binds addr and prepares a Server with dispatcher wired into
// every accepted Connection. Start must be called to begin accepting.
func NewServer(addr *netutil.NetAddr, dispatcher Dispatcher, opts ...ServerOption) (*Server, error) {
	acc, err := NewAcceptor(addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		acceptor:   acc,
		dispatcher: dispatcher,
		log:        logrus.StandardLogger(),
		conns:      make(map[int]*Connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers == nil {
		s.workers = reactor.NewWorkerPool(reactor.DefaultWorkerCount, s.log, s.collect)
	}
	return s, nil
}

// Start launches the worker pool, builds the main loop, registers the
// listening fd for IN readiness, and runs the main loop on the calling
// goroutine's OS thread (callers typically invoke Start in its own
// goroutine). It returns once the main loop stops.
func (s *Server) Start() error {
	s.workers.Start()

	loop, err := reactor.NewEventLoop(reactor.WithLogger(s.log), reactor.WithCollectors(s.collect))
	if err != nil {
		return err
	}
	s.mainLoop = loop

	handle := reactor.AcquireFdEvent(s.acceptor.Fd())
	handle.ReadCB = s.onAcceptable
	if err := loop.AddFdEvent(handle, reactor.EventRead); err != nil {
		return err
	}

	loop.Loop()
	return nil
}

// onAcceptable runs on the main loop thread: it accepts in a tight loop
// (per spec.md §4.5) until Accept returns the sentinel pair, handing
// each new connection to the next worker round-robin.
func (s *Server) onAcceptable() {
	for {
		fd, peer := s.acceptor.Accept()
		if fd < 0 {
			return
		}
		worker := s.workers.Get()
		workerLoop := worker.EventLoop()
		if workerLoop == nil {
			s.log.Errorf("tcp: worker failed to start, dropping accepted fd=%d", fd)
			continue
		}

		workerLoop.AddTask(func() {
			conn := NewConnection(fd, workerLoop, RoleServer, peer, s.checksum, Config{
				Dispatcher: s.dispatcher,
				Log:        s.log,
				Collectors: s.collect,
				OnClose:    s.forgetConnection,
			})
			if err := conn.Established(); err != nil {
				s.log.Errorf("tcp: register accepted fd=%d: %v", fd, err)
				return
			}
			s.collect.RecordConnection("server")
			s.connsMu.Lock()
			s.conns[fd] = conn
			s.connsMu.Unlock()
		}, true)
	}
}

func (s *Server) forgetConnection(c *Connection) {
	s.connsMu.Lock()
	delete(s.conns, c.Fd())
	s.connsMu.Unlock()
}

// Addr returns the bound listen address.
func (s *Server) Addr() *netutil.NetAddr { return s.acceptor.Addr() }

// Stop stops the worker pool and the main loop, then closes the
// listening socket.
func (s *Server) Stop() {
	s.workers.Stop()
	if s.mainLoop != nil {
		s.mainLoop.Stop()
	}
	_ = s.acceptor.Close()
}

// Join blocks until every worker has returned.
func (s *Server) Join() {
	s.workers.Join()
}
