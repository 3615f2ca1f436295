// Package metrics exports session events to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ozontech/fetchbuf/session/types"
)

var _ types.Metrics = (*Collector)(nil)

// Collector implements types.Metrics.
type Collector struct {
	sessionsStarted prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	fetchedBytes    prometheus.Counter
	retries         prometheus.Counter
	evictions       prometheus.Counter
	failures        prometheus.Counter
	throttled       prometheus.Histogram
}

// NewCollector registers the session metrics in reg.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of fetch sessions created",
		}),
		sessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of fetch sessions torn down",
		}, []string{"reason"}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live fetch sessions",
		}),
		fetchedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_bytes_total",
			Help:      "Bytes received from origins",
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_resumes_total",
			Help:      "Range requests issued after a transient failure",
		}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_evicted_total",
			Help:      "Buffer slots dropped behind the slowest reader",
		}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Sessions failed with a fatal fetch error",
		}),
		throttled: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "throttle_wait_seconds",
			Help:      "Time the fetch loop spent waiting for readers",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

func (c *Collector) SessionStarted() {
	c.sessionsStarted.Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionClosed(reason string) {
	c.sessionsClosed.WithLabelValues(reason).Inc()
	c.sessionsActive.Dec()
}

func (c *Collector) Fetched(n int)             { c.fetchedBytes.Add(float64(n)) }
func (c *Collector) Retried()                  { c.retries.Inc() }
func (c *Collector) Evicted()                  { c.evictions.Inc() }
func (c *Collector) Failed()                   { c.failures.Inc() }
func (c *Collector) Throttled(d time.Duration) { c.throttled.Observe(d.Seconds()) }
