package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collsim",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "collsim",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "route", "status"},
	)
	runsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collsim",
			Subsystem: "run",
			Name:      "completed_total",
			Help:      "Runs in which every participant finished its plan.",
		},
		[]string{"experiment", "n"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "collsim",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Run duration from start to the last participant finishing, in run-clock seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"experiment", "n"},
	)
	deliveryEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collsim",
			Subsystem: "delivery",
			Name:      "events_total",
			Help:      "Delivery state machine events by kind.",
		},
		[]string{"experiment", "kind"},
	)
	bytesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collsim",
			Subsystem: "transport",
			Name:      "bytes_delivered_total",
			Help:      "Bytes handed to participants by the transport.",
		},
		[]string{"experiment", "transport"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, runsCompleted, runDuration, deliveryEvents, bytesDelivered)
	})
}

func RecordHTTPRequest(service, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, route, statusLabel).Observe(duration.Seconds())
}

func RecordRun(experiment string, n int, duration time.Duration) {
	RegisterMetrics()
	nLabel := strconv.Itoa(n)
	runsCompleted.WithLabelValues(experiment, nLabel).Inc()
	runDuration.WithLabelValues(experiment, nLabel).Observe(duration.Seconds())
}

func RecordDeliveryEvent(experiment, kind string) {
	RegisterMetrics()
	deliveryEvents.WithLabelValues(experiment, kind).Inc()
}

func RecordBytesDelivered(experiment, transport string, n int) {
	RegisterMetrics()
	bytesDelivered.WithLabelValues(experiment, transport).Add(float64(n))
}
