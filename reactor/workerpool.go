//go:build linux

package reactor

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/a2535171138/rpcgo/metrics"
)

// DefaultWorkerCount is the default I/O Worker Pool size, per spec.md
// §4.5 ("defaults to 2 if unset").
const DefaultWorkerCount = 2

// WorkerPool is a fixed-size set of IOWorkers, each running its own
// EventLoop on its own OS thread, with round-robin assignment of new
// connections across workers, per spec.md §2 item 8 / §4.5. Get()
// picks the next worker in rotation rather than hashing on any
// connection property, since workers are interchangeable.
type WorkerPool struct {
	workers []*IOWorker
	next    atomic.Uint64

	log     logrus.FieldLogger
	collect *metrics.Collectors

	wg sync.WaitGroup
}

// NewWorkerPool constructs a pool of n workers (n<=0 defaults to
// DefaultWorkerCount). Workers are allocated but not started; call
// Start to launch them.
func NewWorkerPool(n int, log logrus.FieldLogger, collect *metrics.Collectors) *WorkerPool {
	if n <= 0 {
		n = DefaultWorkerCount
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &WorkerPool{
		workers: make([]*IOWorker, n),
		log:     log,
		collect: collect,
	}
	for i := range p.workers {
		p.workers[i] = newIOWorker()
	}
	return p
}

// Start launches every worker's dedicated goroutine and blocks until
// all of them have constructed their EventLoop (or failed to).
func (p *WorkerPool) Start() {
	p.wg.Add(len(p.workers))
	for _, w := range p.workers {
		w := w
		go func() {
			defer p.wg.Done()
			w.run(p.log, p.collect)
		}()
	}
	for _, w := range p.workers {
		_ = w.EventLoop()
	}
}

// Get returns the next worker in round-robin order, per spec.md §4.5's
// "round robin... across the pool" assignment rule.
func (p *WorkerPool) Get() *IOWorker {
	i := p.next.Add(1) - 1
	return p.workers[i%uint64(len(p.workers))]
}

// Len returns the number of workers in the pool.
func (p *WorkerPool) Len() int { return len(p.workers) }

// Stop requests every worker's loop to terminate.
func (p *WorkerPool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}

// Join blocks until every worker goroutine has returned from run.
func (p *WorkerPool) Join() {
	p.wg.Wait()
}
