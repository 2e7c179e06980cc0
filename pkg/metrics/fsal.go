package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OperationMetrics records object-handle operations performed by the
// adapter layer. Implementations must be safe for concurrent use.
type OperationMetrics interface {
	// ObserveOperation records one completed operation with its status
	// ("ok" or the error code name) and duration.
	ObserveOperation(op, status string, duration time.Duration)

	// ObserveIOBytes records payload bytes moved by a read or write.
	ObserveIOBytes(op string, bytes int)

	// RecordShareDenied counts an open rejected by a share reservation.
	RecordShareDenied(op string)

	// RecordHandleCount tracks the number of live object handles per export.
	RecordHandleCount(export string, count int)
}

// NopOperationMetrics is an OperationMetrics that records nothing.
type NopOperationMetrics struct{}

func (NopOperationMetrics) ObserveOperation(string, string, time.Duration) {}
func (NopOperationMetrics) ObserveIOBytes(string, int)                     {}
func (NopOperationMetrics) RecordShareDenied(string)                       {}
func (NopOperationMetrics) RecordHandleCount(string, int)                  {}

type operationMetrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	ioBytes      *prometheus.CounterVec
	shareDenied  *prometheus.CounterVec
	handleCount  *prometheus.GaugeVec
}

// NewOperationMetrics creates a Prometheus-backed OperationMetrics.
// Returns a no-op implementation when metrics are disabled.
func NewOperationMetrics() OperationMetrics {
	if !IsEnabled() {
		return NopOperationMetrics{}
	}

	reg := GetRegistry()

	return &operationMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "daosnfs_fsal_operations_total",
				Help: "Total number of FSAL operations by operation and status",
			},
			[]string{"op", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "daosnfs_fsal_operation_duration_seconds",
				Help: "Duration of FSAL operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1,      // 1s
					5,      // 5s
				},
			},
			[]string{"op"},
		),
		ioBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "daosnfs_fsal_io_bytes_total",
				Help: "Total payload bytes moved by read and write operations",
			},
			[]string{"op"},
		),
		shareDenied: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "daosnfs_fsal_share_denied_total",
				Help: "Total opens rejected by share reservation conflicts",
			},
			[]string{"op"},
		),
		handleCount: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "daosnfs_fsal_live_handles",
				Help: "Current number of live object handles per export",
			},
			[]string{"export"},
		),
	}
}

func (m *operationMetrics) ObserveOperation(op, status string, duration time.Duration) {
	m.operations.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *operationMetrics) ObserveIOBytes(op string, bytes int) {
	m.ioBytes.WithLabelValues(op).Add(float64(bytes))
}

func (m *operationMetrics) RecordShareDenied(op string) {
	m.shareDenied.WithLabelValues(op).Inc()
}

func (m *operationMetrics) RecordHandleCount(export string, count int) {
	m.handleCount.WithLabelValues(export).Set(float64(count))
}
