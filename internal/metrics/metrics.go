// Package metrics exposes Prometheus collectors for the session manager, the
// inbox and the event bus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kartik102005/ecolearn/internal/core/fault"
)

// Collector records client-core activity.
type Collector struct {
	authOps       *prometheus.CounterVec
	authLatency   *prometheus.HistogramVec
	profileFetch  *prometheus.CounterVec
	notifications *prometheus.CounterVec
	unread        prometheus.Gauge
	busEvents     *prometheus.CounterVec
	busSubs       prometheus.Gauge
	kvSwept       prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecolearn_auth_operations_total",
			Help: "Auth operations by operation and outcome kind.",
		}, []string{"op", "outcome"}),
		authLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ecolearn_auth_operation_seconds",
			Help:    "Latency of auth operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		profileFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecolearn_profile_fetches_total",
			Help: "Profile fetches by outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecolearn_notifications_total",
			Help: "Inbox mutations by action and notification type.",
		}, []string{"action", "type"}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ecolearn_notifications_unread",
			Help: "Unread notifications for the active user.",
		}),
		busEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ecolearn_bus_events_total",
			Help: "Event bus activity by result (published, dropped, panicked).",
		}, []string{"result", "type"}),
		busSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ecolearn_bus_subscribers",
			Help: "Active event bus subscribers.",
		}),
		kvSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ecolearn_kv_swept_total",
			Help: "Expired KV entries removed by the sweeper.",
		}),
	}

	reg.MustRegister(
		c.authOps,
		c.authLatency,
		c.profileFetch,
		c.notifications,
		c.unread,
		c.busEvents,
		c.busSubs,
		c.kvSwept,
	)

	return c
}

// ObserveAuth records one auth operation. A nil error counts as "ok".
func (c *Collector) ObserveAuth(op string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(fault.KindOf(err))
	}
	c.authOps.WithLabelValues(op, outcome).Inc()
	c.authLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveProfileFetch records a profile fetch: network, cached, not_found,
// degraded or error.
func (c *Collector) ObserveProfileFetch(outcome string) {
	c.profileFetch.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveNotification(action, typ string) {
	c.notifications.WithLabelValues(action, typ).Inc()
}

func (c *Collector) SetUnread(n int) {
	c.unread.Set(float64(n))
}

func (c *Collector) ObserveBusEvent(result, typ string) {
	c.busEvents.WithLabelValues(result, typ).Inc()
}

func (c *Collector) SetBusSubscribers(n int) {
	c.busSubs.Set(float64(n))
}

func (c *Collector) AddSwept(n int64) {
	if n > 0 {
		c.kvSwept.Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
