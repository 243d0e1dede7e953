package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kubeadapt/pool-autoscaler/pkg/model"
)

// Metrics holds all Prometheus metrics for autoscaler self-monitoring.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Cycle metrics
	CycleDuration      prometheus.Histogram
	CyclesTotal        *prometheus.CounterVec
	LastCycleTimestamp prometheus.Gauge

	// Decision metrics
	Goal        prometheus.Gauge
	Utilization prometheus.Gauge
	Nodes       *prometheus.GaugeVec

	// Action metrics
	NodeTransitionsTotal    *prometheus.CounterVec
	ExternalCallErrorsTotal *prometheus.CounterVec
	PopulateDuration        prometheus.Histogram

	// Report delivery metrics
	ReportSendDuration prometheus.Histogram
	ReportSendTotal    *prometheus.CounterVec
	ReportSizeBytes    prometheus.Histogram
	TransportRetries   prometheus.Counter

	// Compression metrics
	CompressionRatio    prometheus.Gauge
	CompressionDuration prometheus.Histogram

	// Runner state
	RunnerState *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_autoscaler_cycle_duration_seconds",
			Help:    "Duration of convergence cycles in seconds, warm-up included.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_autoscaler_cycles_total",
			Help: "Total number of convergence cycles by result.",
		}, []string{"result"}),
		LastCycleTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pool_autoscaler_last_cycle_timestamp_seconds",
			Help: "Unix time at which the last cycle finished.",
		}),

		Goal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pool_autoscaler_goal_nodes",
			Help: "Target total node count computed by the last cycle.",
		}),
		Utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pool_autoscaler_memory_utilization_ratio",
			Help: "Requested memory over schedulable capacity observed by the last cycle.",
		}),
		Nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_autoscaler_nodes",
			Help: "Node counts observed by the last cycle.",
		}, []string{"state"}),

		NodeTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_autoscaler_node_transitions_total",
			Help: "Total number of node actions issued, by action.",
		}, []string{"action"}),
		ExternalCallErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_autoscaler_external_call_errors_total",
			Help: "Total number of failed calls to external collaborators.",
		}, []string{"component"}),
		PopulateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_autoscaler_populate_duration_seconds",
			Help:    "Duration of image populate rounds in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		ReportSendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_autoscaler_report_send_duration_seconds",
			Help:    "Duration of cycle report deliveries in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		ReportSendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_autoscaler_report_send_total",
			Help: "Total number of cycle report delivery attempts.",
		}, []string{"status"}),
		ReportSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_autoscaler_report_size_bytes",
			Help:    "Uncompressed size of cycle reports in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
		TransportRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pool_autoscaler_transport_retries_total",
			Help: "Total number of report delivery retry attempts.",
		}),

		CompressionRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pool_autoscaler_compression_ratio",
			Help: "Current compression ratio (compressed/original).",
		}),
		CompressionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_autoscaler_compression_duration_seconds",
			Help:    "Duration of compression operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		RunnerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_autoscaler_runner_state",
			Help: "Current runner state (1 = active, 0 = inactive).",
		}, []string{"state"}),
	}

	reg.MustRegister(
		m.CycleDuration,
		m.CyclesTotal,
		m.LastCycleTimestamp,
		m.Goal,
		m.Utilization,
		m.Nodes,
		m.NodeTransitionsTotal,
		m.ExternalCallErrorsTotal,
		m.PopulateDuration,
		m.ReportSendDuration,
		m.ReportSendTotal,
		m.ReportSizeBytes,
		m.TransportRetries,
		m.CompressionRatio,
		m.CompressionDuration,
		m.RunnerState,
	)

	return m
}

// ObserveCycle records the outcome of one cycle. A nil report counts as a
// failure that produced no decisions.
func (m *Metrics) ObserveCycle(report *model.CycleReport, duration time.Duration, result string) {
	m.CycleDuration.Observe(duration.Seconds())
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.LastCycleTimestamp.SetToCurrentTime()

	if report == nil {
		return
	}
	m.Goal.Set(float64(report.Goal))
	m.Utilization.Set(report.Utilization)
	m.Nodes.WithLabelValues("total").Set(float64(report.TotalNodes))
	m.Nodes.WithLabelValues("critical").Set(float64(report.CriticalNodes))
	m.Nodes.WithLabelValues("unschedulable").Set(float64(report.UnschedulableNodes))

	m.NodeTransitionsTotal.WithLabelValues("block").Add(float64(len(report.Blocked)))
	m.NodeTransitionsTotal.WithLabelValues("unblock").Add(float64(len(report.Unblocked)))
	m.NodeTransitionsTotal.WithLabelValues("shutdown").Add(float64(report.ShutdownCount))
	if report.Resized {
		m.NodeTransitionsTotal.WithLabelValues("resize").Inc()
	}
}
