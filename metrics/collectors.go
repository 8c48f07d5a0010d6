// Package metrics defines the Prometheus collectors threaded through
// the reactor, tcp, and rpc packages, per SPEC_FULL.md §4.12. All
// methods on Collectors tolerate a nil receiver so call sites never
// need a "metrics enabled?" branch.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every metric this module exposes, using the rpc_
// prefix to distinguish them in a shared registry.
type Collectors struct {
	ReactorEpollWaits     prometheus.Counter
	ReactorTaskQueueDepth prometheus.Gauge
	ReactorTimersPending  prometheus.Gauge

	ConnectionsOpen  prometheus.Gauge
	ConnectionsTotal *prometheus.CounterVec // label: role={server,client}

	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter

	CallsTotal    *prometheus.CounterVec // labels: method, outcome
	CallDuration  *prometheus.HistogramVec // label: method
	CallsInFlight prometheus.Gauge

	FramesResynced prometheus.Counter
	DecodeErrors   prometheus.Counter
}

// New constructs a Collectors bundle and registers every metric against
// reg. Panics on registration failure — a duplicate or malformed metric
// is a startup-time programming error, not a condition to recover from.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		ReactorEpollWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_reactor_epoll_waits_total",
			Help: "Total epoll_wait calls issued across all event loops.",
		}),
		ReactorTaskQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpc_reactor_task_queue_depth",
			Help: "Pending cross-thread task queue depth, sampled after each drain.",
		}),
		ReactorTimersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpc_reactor_timers_pending",
			Help: "Pending (not yet fired) timer wheel entries.",
		}),
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpc_connections_open",
			Help: "Currently open TCP connections.",
		}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_connections_total",
			Help: "Total TCP connections established, by role.",
		}, []string{"role"}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_bytes_read_total",
			Help: "Total bytes read off the wire.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_bytes_written_total",
			Help: "Total bytes written to the wire.",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_calls_total",
			Help: "Total RPC calls completed, by method and outcome.",
		}, []string{"method", "outcome"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpc_call_duration_seconds",
			Help:    "RPC call duration in seconds, from send to completion.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		CallsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rpc_calls_in_flight",
			Help: "RPC calls awaiting a response.",
		}),
		FramesResynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_wire_frames_resynced_total",
			Help: "Frames decoded after skipping leading junk bytes.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpc_wire_decode_errors_total",
			Help: "Frames that failed to parse and were discarded.",
		}),
	}

	reg.MustRegister(
		c.ReactorEpollWaits,
		c.ReactorTaskQueueDepth,
		c.ReactorTimersPending,
		c.ConnectionsOpen,
		c.ConnectionsTotal,
		c.BytesRead,
		c.BytesWritten,
		c.CallsTotal,
		c.CallDuration,
		c.CallsInFlight,
		c.FramesResynced,
		c.DecodeErrors,
	)

	return c
}

// RecordCall records a completed RPC call. Safe on a nil receiver.
func (c *Collectors) RecordCall(method, outcome string, durationSeconds float64) {
	if c == nil {
		return
	}
	c.CallsTotal.WithLabelValues(method, outcome).Inc()
	c.CallDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordConnection records a newly established connection. Safe on a
// nil receiver.
func (c *Collectors) RecordConnection(role string) {
	if c == nil {
		return
	}
	c.ConnectionsTotal.WithLabelValues(role).Inc()
	c.ConnectionsOpen.Inc()
}

// RecordConnectionClosed decrements the open-connection gauge. Safe on
// a nil receiver.
func (c *Collectors) RecordConnectionClosed() {
	if c == nil {
		return
	}
	c.ConnectionsOpen.Dec()
}

// AddBytesRead adds n to the bytes-read counter. Safe on a nil receiver.
func (c *Collectors) AddBytesRead(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.BytesRead.Add(float64(n))
}

// AddBytesWritten adds n to the bytes-written counter. Safe on a nil
// receiver.
func (c *Collectors) AddBytesWritten(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.BytesWritten.Add(float64(n))
}

// IncCallsInFlight increments the in-flight call gauge. Safe on a nil
// receiver.
func (c *Collectors) IncCallsInFlight() {
	if c == nil {
		return
	}
	c.CallsInFlight.Inc()
}

// DecCallsInFlight decrements the in-flight call gauge. Safe on a nil
// receiver.
func (c *Collectors) DecCallsInFlight() {
	if c == nil {
		return
	}
	c.CallsInFlight.Dec()
}

// IncFramesResynced records a frame decoded after skipping leading junk
// bytes. Safe on a nil receiver.
func (c *Collectors) IncFramesResynced() {
	if c == nil {
		return
	}
	c.FramesResynced.Inc()
}

// IncDecodeErrors records a frame that failed to parse. Safe on a nil
// receiver.
func (c *Collectors) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.DecodeErrors.Inc()
}
