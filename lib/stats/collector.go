package stats

import (
	"fmt"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dLock/lib/locktable"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"io"
	"time"
)

var Logger = logger.GetLogger("stats")

// Collector records server events. Every event is recorded twice: in a
// VictoriaMetrics set for Prometheus scraping and in a go-metrics registry
// that feeds the periodic stats log line.
type Collector struct {
	set      *vm.Set
	registry gometrics.Registry

	// prometheus metrics
	connsAccepted *vm.Counter
	connsClosed   *vm.Counter
	lockGranted   *vm.Counter
	lockTimedOut  *vm.Counter
	lockRejected  *vm.Counter
	pings         *vm.Counter
	protoErrors   *vm.Counter
	keysGranted   *vm.Counter
	grantWait     *vm.Histogram

	// log reporter metrics
	rConns     gometrics.Counter
	rGranted   gometrics.Counter
	rTimedOut  gometrics.Counter
	rRejected  gometrics.Counter
	rErrors    gometrics.Counter
	rGrantWait gometrics.Histogram
}

// NewCollector creates a collector. The table and activeConns functions are
// sampled whenever gauges are read.
func NewCollector(table locktable.ILockTable, activeConns func() int) *Collector {
	set := vm.NewSet()
	registry := gometrics.NewRegistry()

	c := &Collector{
		set:      set,
		registry: registry,

		connsAccepted: set.NewCounter("dlock_connections_accepted_total"),
		connsClosed:   set.NewCounter("dlock_connections_closed_total"),
		lockGranted:   set.NewCounter(`dlock_lock_requests_total{result="granted"}`),
		lockTimedOut:  set.NewCounter(`dlock_lock_requests_total{result="timeout"}`),
		lockRejected:  set.NewCounter(`dlock_lock_requests_total{result="rejected"}`),
		pings:         set.NewCounter("dlock_ping_requests_total"),
		protoErrors:   set.NewCounter("dlock_protocol_errors_total"),
		keysGranted:   set.NewCounter("dlock_keys_granted_total"),
		grantWait:     set.NewHistogram("dlock_lock_wait_seconds"),

		rConns:     gometrics.NewRegisteredCounter("connections", registry),
		rGranted:   gometrics.NewRegisteredCounter("granted", registry),
		rTimedOut:  gometrics.NewRegisteredCounter("timeouts", registry),
		rRejected:  gometrics.NewRegisteredCounter("rejected", registry),
		rErrors:    gometrics.NewRegisteredCounter("errors", registry),
		rGrantWait: gometrics.NewRegisteredHistogram("wait_ms", registry, gometrics.NewExpDecaySample(1028, 0.015)),
	}

	// gauges sampled on read
	set.NewGauge("dlock_connections_active", func() float64 {
		return float64(activeConns())
	})
	set.NewGauge("dlock_keys_held", func() float64 {
		return float64(table.Stats().Keys)
	})
	set.NewGauge("dlock_owners", func() float64 {
		return float64(table.Stats().Owners)
	})
	set.NewGauge("dlock_waiters", func() float64 {
		return float64(table.Stats().Waiters)
	})

	mustRegister(registry, "active", gometrics.NewFunctionalGauge(func() int64 {
		return int64(activeConns())
	}))
	mustRegister(registry, "held", gometrics.NewFunctionalGauge(func() int64 {
		return int64(table.Stats().Keys)
	}))
	mustRegister(registry, "waiting", gometrics.NewFunctionalGauge(func() int64 {
		return int64(table.Stats().Waiters)
	}))

	return c
}

func mustRegister(registry gometrics.Registry, name string, metric interface{}) {
	if err := registry.Register(name, metric); err != nil {
		panic(fmt.Sprintf("failed to register metric %s: %v", name, err))
	}
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// ConnOpened records an accepted connection
func (c *Collector) ConnOpened() {
	c.connsAccepted.Inc()
	c.rConns.Inc(1)
}

// ConnClosed records a closed connection
func (c *Collector) ConnClosed() {
	c.connsClosed.Inc()
}

// Ping records a ping request
func (c *Collector) Ping() {
	c.pings.Inc()
}

// LockGranted records a granted lock request and how long it waited
func (c *Collector) LockGranted(keys int, waited time.Duration) {
	c.lockGranted.Inc()
	c.keysGranted.Add(keys)
	c.grantWait.Update(waited.Seconds())
	c.rGranted.Inc(1)
	c.rGrantWait.Update(waited.Milliseconds())
}

// LockTimedOut records a lock request that failed with an acquire timeout
func (c *Collector) LockTimedOut() {
	c.lockTimedOut.Inc()
	c.rTimedOut.Inc(1)
}

// LockRejected records a lock request that failed validation
func (c *Collector) LockRejected() {
	c.lockRejected.Inc()
	c.rRejected.Inc(1)
}

// ProtocolError records a request answered with a protocol error (codes 1-3)
func (c *Collector) ProtocolError() {
	c.protoErrors.Inc()
	c.rErrors.Inc(1)
}

// --------------------------------------------------------------------------
// Export
// --------------------------------------------------------------------------

// WritePrometheus writes all metrics in Prometheus text format
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

// Registry returns the registry backing the stats log line
func (c *Collector) Registry() gometrics.Registry {
	return c.registry
}
