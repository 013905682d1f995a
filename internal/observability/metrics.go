package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transportConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatctl",
			Subsystem: "transport",
			Name:      "connects_total",
			Help:      "Transport connection attempts by outcome.",
		},
		[]string{"app", "outcome"},
	)
	transportReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatctl",
			Subsystem: "transport",
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnect attempts.",
		},
		[]string{"app"},
	)
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatctl",
			Subsystem: "outbox",
			Name:      "messages_total",
			Help:      "Outbound messages by final outcome.",
		},
		[]string{"app", "outcome"},
	)
	messageRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatctl",
			Subsystem: "outbox",
			Name:      "message_retries_total",
			Help:      "Outbound message delivery retries.",
		},
		[]string{"app"},
	)
	inboundEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatctl",
			Subsystem: "dispatch",
			Name:      "inbound_events_total",
			Help:      "Inbound push events by kind; duplicates counted separately.",
		},
		[]string{"app", "kind", "duplicate"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"app", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			transportConnects,
			transportReconnects,
			messagesSent,
			messageRetries,
			inboundEvents,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordConnect(app string, success bool) {
	RegisterMetrics()
	outcome := "error"
	if success {
		outcome = "ok"
	}
	transportConnects.WithLabelValues(app, outcome).Inc()
}

func RecordReconnectAttempt(app string) {
	RegisterMetrics()
	transportReconnects.WithLabelValues(app).Inc()
}

func RecordMessageSent(app, outcome string) {
	RegisterMetrics()
	messagesSent.WithLabelValues(app, outcome).Inc()
}

func RecordMessageRetry(app string) {
	RegisterMetrics()
	messageRetries.WithLabelValues(app).Inc()
}

func RecordInboundEvent(app, kind string, duplicate bool) {
	RegisterMetrics()
	inboundEvents.WithLabelValues(app, kind, strconv.FormatBool(duplicate)).Inc()
}

func RecordHTTPRequest(app, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(app, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(app, method, path, statusLabel).Observe(duration.Seconds())
}
