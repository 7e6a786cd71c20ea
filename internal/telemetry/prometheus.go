package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const multiflexerNamespace string = "multiflexer"

var (
	promSessionTotal        prometheus.Gauge
	promSwitchLatency       prometheus.Histogram
	promReceivedBytes       *prometheus.CounterVec
	ServiceOperationCounter *prometheus.CounterVec
)

func init() {
	promSessionTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: multiflexerNamespace,
		Subsystem: "session",
		Name:      "total",
	})

	promSwitchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: multiflexerNamespace,
		Subsystem: "registry",
		Name:      "switch_latency_seconds",
		Help:      "Time from an active sender switch to the first frame of the new sender.",
		Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	promReceivedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: multiflexerNamespace,
			Subsystem: "media",
			Name:      "received_bytes_total",
		},
		[]string{"sender_id"},
	)

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: multiflexerNamespace,
			Subsystem: "receiver",
			Name:      "service_operation",
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(promSessionTotal)
	prometheus.MustRegister(promSwitchLatency)
	prometheus.MustRegister(promReceivedBytes)
	prometheus.MustRegister(ServiceOperationCounter)
}

func SessionStarted() {
	promSessionTotal.Inc()
}

func SessionStopped() {
	promSessionTotal.Dec()
}

func SwitchObserved(latency time.Duration) {
	promSwitchLatency.Observe(latency.Seconds())
}

func BytesReceived(senderID string, n int) {
	promReceivedBytes.WithLabelValues(senderID).Add(float64(n))
}

func SenderGone(senderID string) {
	promReceivedBytes.DeleteLabelValues(senderID)
}

func OperationSucceeded(op string) {
	ServiceOperationCounter.WithLabelValues(op, "success", "").Inc()
}

func OperationFailed(op, errorType string) {
	ServiceOperationCounter.WithLabelValues(op, "error", errorType).Inc()
}
