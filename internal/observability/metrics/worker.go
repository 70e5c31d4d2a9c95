package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// WorkerMetrics implements the execution and cycle observers of the scan loop.
type WorkerMetrics struct {
	registry *prometheus.Registry

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueSize       prometheus.Gauge
	cycleTotal      *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docflow",
			Subsystem:   "worker",
			Name:        "document_process_total",
			Help:        "Total processed documents by workflow and outcome.",
			ConstLabels: constLabels,
		},
		[]string{"workflow", "outcome"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "docflow",
			Subsystem:   "worker",
			Name:        "document_process_duration_seconds",
			Help:        "Document processing duration in seconds by outcome.",
			Buckets:     []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "docflow",
			Subsystem:   "worker",
			Name:        "document_process_in_flight",
			Help:        "Number of documents being processed.",
			ConstLabels: constLabels,
		},
	)
	queueSize := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "docflow",
			Subsystem:   "worker",
			Name:        "backoff_queue_size",
			Help:        "Documents waiting in the backoff queue.",
			ConstLabels: constLabels,
		},
	)
	cycleTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docflow",
			Subsystem:   "worker",
			Name:        "scan_cycles_total",
			Help:        "Scan cycles by final status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	cycleDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "docflow",
			Subsystem:   "worker",
			Name:        "scan_cycle_duration_seconds",
			Help:        "Scan cycle duration in seconds.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, queueSize, cycleTotal, cycleDuration)

	return &WorkerMetrics{
		registry:        registry,
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueSize:       queueSize,
		cycleTotal:      cycleTotal,
		cycleDuration:   cycleDuration,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument(workflow string, outcome domain.Outcome, duration time.Duration) {
	m.processInFlight.Dec()
	if workflow == "" {
		workflow = "unknown"
	}
	m.processTotal.WithLabelValues(workflow, string(outcome)).Inc()
	m.processDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveCycle(status string, duration time.Duration) {
	m.cycleTotal.WithLabelValues(status).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *WorkerMetrics) SetQueueSize(n int) {
	m.queueSize.Set(float64(n))
}
