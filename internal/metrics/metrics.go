// Package metrics implements the gateway's Prometheus collector, the
// teacher's exact metrics stack re-labeled for session/pool/dispatch
// observability instead of tenant connection pooling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric exported by the gateway.
type Collector struct {
	Registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter

	poolActive  *prometheus.GaugeVec
	poolIdle    *prometheus.GaugeVec
	poolTotal   *prometheus.GaugeVec
	poolWaiting *prometheus.GaugeVec

	acquireDuration *prometheus.HistogramVec
	dispatchTotal   *prometheus.CounterVec

	heartbeatEvictions prometheus.Counter
	poolExhausted      *prometheus.CounterVec
}

// New creates and registers every metric on a fresh registry. Safe to call
// more than once (tests, or a future multi-instance admin surface) since
// each call owns an independent registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_sessions_active",
			Help: "Number of currently connected sessions",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_total",
			Help: "Total number of sessions accepted since start",
		}),
		poolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_pool_connections_active",
			Help: "Backend connections currently checked out of the pool",
		}, []string{"type", "ident"}),
		poolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_pool_connections_idle",
			Help: "Backend connections idle in the pool",
		}, []string{"type", "ident"}),
		poolTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_pool_connections_total",
			Help: "Backend connections created by the pool",
		}, []string{"type", "ident"}),
		poolWaiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_pool_connections_waiting",
			Help: "Goroutines waiting on Acquire for this pool",
		}, []string{"type", "ident"}),
		acquireDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_acquire_duration_seconds",
			Help:    "Time spent waiting for dbpool.Acquire",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"type", "ident"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_dispatch_total",
			Help: "Frames dispatched to a handler, by service and command",
		}, []string{"service", "cmd"}),
		heartbeatEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_heartbeat_evictions_total",
			Help: "Sessions closed for exceeding the heartbeat inactivity timeout",
		}),
		poolExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_pool_exhausted_total",
			Help: "Acquire calls that timed out waiting for a free connection",
		}, []string{"type", "ident"}),
	}

	reg.MustRegister(
		c.sessionsActive,
		c.sessionsTotal,
		c.poolActive,
		c.poolIdle,
		c.poolTotal,
		c.poolWaiting,
		c.acquireDuration,
		c.dispatchTotal,
		c.heartbeatEvictions,
		c.poolExhausted,
	)

	return c
}

// SessionAccepted records a newly accepted session.
func (c *Collector) SessionAccepted() {
	c.sessionsActive.Inc()
	c.sessionsTotal.Inc()
}

// SessionClosed records a session leaving the registry.
func (c *Collector) SessionClosed() {
	c.sessionsActive.Dec()
}

// HeartbeatEviction records a session closed by the heartbeat watchdog.
func (c *Collector) HeartbeatEviction() {
	c.heartbeatEvictions.Inc()
}

// Dispatched records one frame handed off to a service handler.
func (c *Collector) Dispatched(service, cmd string) {
	c.dispatchTotal.WithLabelValues(service, cmd).Inc()
}

// AcquireDuration observes the time a caller waited on dbpool.Acquire.
func (c *Collector) AcquireDuration(dbType, ident string, d time.Duration) {
	c.acquireDuration.WithLabelValues(dbType, ident).Observe(d.Seconds())
}

// PoolExhausted increments the acquire-timeout counter for one pool.
func (c *Collector) PoolExhausted(dbType, ident string) {
	c.poolExhausted.WithLabelValues(dbType, ident).Inc()
}

// UpdatePoolStats sets the gauge quartet for one backend pool from a
// dbpool.Stats snapshot.
func (c *Collector) UpdatePoolStats(dbType, ident string, active, idle, total, waiting int) {
	c.poolActive.WithLabelValues(dbType, ident).Set(float64(active))
	c.poolIdle.WithLabelValues(dbType, ident).Set(float64(idle))
	c.poolTotal.WithLabelValues(dbType, ident).Set(float64(total))
	c.poolWaiting.WithLabelValues(dbType, ident).Set(float64(waiting))
}

// RemovePool drops every gauge series for a pool that was closed, e.g. by
// DB_CLOSE.
func (c *Collector) RemovePool(dbType, ident string) {
	c.poolActive.DeleteLabelValues(dbType, ident)
	c.poolIdle.DeleteLabelValues(dbType, ident)
	c.poolTotal.DeleteLabelValues(dbType, ident)
	c.poolWaiting.DeleteLabelValues(dbType, ident)
	c.poolExhausted.DeleteLabelValues(dbType, ident)
}
