package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(storeOpsTotal, storeOpLatencyMs) }

var (
	storeOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_store_ops_total",
			Help: "Conversation store operations by op (load/save) and result (ok/not_found/error).",
		},
		[]string{"op", "result"},
	)

	storeOpLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_store_op_latency_ms",
			Help:    "Conversation store operation latency in milliseconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"op"},
	)
)

func ObserveStoreOp(op, result string, d time.Duration) {
	storeOpsTotal.WithLabelValues(norm(op), norm(result)).Inc()
	storeOpLatencyMs.WithLabelValues(norm(op)).Observe(float64(d.Microseconds()) / 1000)
}
