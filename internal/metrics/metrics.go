// Package metrics provides Prometheus metrics for AgentFS storage.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transaction metrics
	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentfs_transactions_total",
			Help: "Total number of storage transactions",
		},
		[]string{"mode", "result"},
	)

	transactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentfs_transaction_duration_seconds",
			Help:    "Storage transaction duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Engine metrics
	fsOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentfs_fs_operations_total",
			Help: "Total filesystem operations",
		},
		[]string{"op", "result"},
	)

	fsBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentfs_fs_bytes_written_total",
			Help: "Total bytes written to file content",
		},
	)

	kvOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentfs_kv_operations_total",
			Help: "Total key-value operations",
		},
		[]string{"op", "result"},
	)

	toolCallsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentfs_tool_calls_recorded_total",
			Help: "Total tool call records appended",
		},
		[]string{"outcome"},
	)
)

// Transaction modes.
const (
	ModeRead  = "read"
	ModeWrite = "write"
)

// RecordTransaction records a finished top-level transaction.
func RecordTransaction(mode string, err error, duration time.Duration) {
	transactionsTotal.WithLabelValues(mode, result(err)).Inc()
	transactionDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordFSOperation records a filesystem engine call.
func RecordFSOperation(op string, err error) {
	fsOperationsTotal.WithLabelValues(op, result(err)).Inc()
}

// RecordBytesWritten adds to the written content byte counter.
func RecordBytesWritten(n int) {
	if n > 0 {
		fsBytesWritten.Add(float64(n))
	}
}

// RecordKVOperation records a key-value engine call.
func RecordKVOperation(op string, err error) {
	kvOperationsTotal.WithLabelValues(op, result(err)).Inc()
}

// RecordToolCall records an appended tool call by outcome.
func RecordToolCall(outcome string) {
	toolCallsRecorded.WithLabelValues(outcome).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
