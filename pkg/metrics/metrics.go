package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cycle metrics
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_scheduling_cycles_total",
			Help: "Total number of scheduling cycles by result",
		},
		[]string{"result"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replicator_scheduling_cycle_duration_seconds",
			Help:    "Time taken by one scheduling cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RequestsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replicator_requests_processed_total",
			Help: "Total number of replication requests processed",
		},
	)

	// File metrics
	FilesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replicator_files_scheduled_total",
			Help: "Total number of files placed on channel queues",
		},
	)

	FilesDone = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replicator_files_done_total",
			Help: "Total number of files already present at every target",
		},
	)

	FilesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_files_skipped_total",
			Help: "Total number of files left waiting by reason",
		},
		[]string{"reason"},
	)

	PersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replicator_persist_failures_total",
			Help: "Total number of files rolled back after a queue write failed",
		},
	)

	TreeEdges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_tree_edges_total",
			Help: "Total number of replication tree edges by strategy",
		},
		[]string{"strategy"},
	)

	// Channel metrics
	ChannelQueuedFiles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replicator_channel_queued_files",
			Help: "Files waiting on a channel at the end of the last cycle",
		},
		[]string{"channel"},
	)

	ChannelQueuedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replicator_channel_queued_bytes",
			Help: "Bytes waiting on a channel at the end of the last cycle",
		},
		[]string{"channel"},
	)

	RequestsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replicator_requests_total",
			Help: "Stored replication requests by status",
		},
		[]string{"status"},
	)

	// Storage element metrics
	SEProbeHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replicator_se_probe_healthy",
			Help: "Whether the last probes of a storage element endpoint succeeded (1) or it is banned (0)",
		},
		[]string{"se"},
	)

	TransfersReported = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_transfers_reported_total",
			Help: "Total number of transfer outcomes reported by result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(RequestsProcessed)
	prometheus.MustRegister(FilesScheduled)
	prometheus.MustRegister(FilesDone)
	prometheus.MustRegister(FilesSkipped)
	prometheus.MustRegister(PersistFailures)
	prometheus.MustRegister(TreeEdges)
	prometheus.MustRegister(ChannelQueuedFiles)
	prometheus.MustRegister(ChannelQueuedBytes)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(TransfersReported)
	prometheus.MustRegister(SEProbeHealthy)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed seconds on a labelled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
