package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the Prometheus collectors for the web app.
type Metrics struct {
	Registry        *prometheus.Registry
	ListingActions  *prometheus.CounterVec
	CheckoutFailure prometheus.Counter
	RequestLatency  *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ListingActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_actions_total",
			Help:      "Listing handler outcomes by action and result.",
		}, []string{"action", "result"}),
		CheckoutFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_session_failures_total",
			Help:      "Checkout sessions the payment provider failed to create.",
		}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.ListingActions,
		m.CheckoutFailure,
		m.RequestLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Action counts one listing handler outcome. Safe on a nil receiver.
func (m *Metrics) Action(action, result string) {
	if m == nil {
		return
	}
	m.ListingActions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) CheckoutFailed() {
	if m == nil {
		return
	}
	m.CheckoutFailure.Inc()
}

// Middleware records request latency keyed by the matched route pattern.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}
		m.RequestLatency.WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}
