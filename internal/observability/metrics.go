package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons for writes that never reach a participant.
const (
	DropNoTarget   = "no_target"
	DropDeadTarget = "dead_target"
	DropQueueFull  = "queue_full"
)

var (
	registerOnce sync.Once

	participantsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "conga",
			Subsystem: "ring",
			Name:      "participants_active",
			Help:      "Participants with an open inbound stream.",
		},
	)
	participantsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "conga",
			Subsystem: "ring",
			Name:      "participants_accepted_total",
			Help:      "Participants accepted by the ring assembler.",
		},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conga",
			Subsystem: "ring",
			Name:      "frames_total",
			Help:      "Frames decoded by verb.",
		},
		[]string{"verb"},
	)
	forwardedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "conga",
			Subsystem: "ring",
			Name:      "forwarded_bytes_total",
			Help:      "Bytes handed to outbound targets.",
		},
	)
	droppedWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conga",
			Subsystem: "ring",
			Name:      "dropped_writes_total",
			Help:      "Forwarded frames silently dropped.",
		},
		[]string{"reason"},
	)
	connFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conga",
			Subsystem: "ring",
			Name:      "connection_failures_total",
			Help:      "Connections torn down because of a per-connection error.",
		},
		[]string{"kind"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conga",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conga",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			participantsActive,
			participantsTotal,
			framesTotal,
			forwardedBytes,
			droppedWrites,
			connFailures,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordParticipantOpened() {
	RegisterMetrics()
	participantsTotal.Inc()
	participantsActive.Inc()
}

func RecordParticipantClosed() {
	RegisterMetrics()
	participantsActive.Dec()
}

func RecordFrame(verb string) {
	RegisterMetrics()
	framesTotal.WithLabelValues(verbLabel(verb)).Inc()
}

func RecordForward(n int) {
	RegisterMetrics()
	forwardedBytes.Add(float64(n))
}

func RecordDroppedWrite(reason string) {
	RegisterMetrics()
	droppedWrites.WithLabelValues(reason).Inc()
}

func RecordConnFailure(kind string) {
	RegisterMetrics()
	connFailures.WithLabelValues(kind).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// verbLabel bounds label cardinality; clients control the verb line.
func verbLabel(verb string) string {
	switch verb {
	case "HELLO", "MSG", "BYE":
		return verb
	default:
		return "other"
	}
}
