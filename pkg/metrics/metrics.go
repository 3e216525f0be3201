package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Repository metrics
	RepositoriesOpenTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ouisync_repositories_open_total",
			Help: "Total number of currently open repositories",
		},
	)

	BlocksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ouisync_blocks_total",
			Help: "Total number of blocks held in the local block store",
		},
	)

	IndexNodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ouisync_index_nodes_total",
			Help: "Total number of Merkle index nodes held locally",
		},
	)

	BranchesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ouisync_branches_total",
			Help: "Total number of branches (local and remote) known to a repository",
		},
	)

	// Façade operation metrics
	ReadFileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ouisync_read_file_duration_seconds",
			Help:    "Time taken to service a read_file call in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WriteFileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ouisync_write_file_duration_seconds",
			Help:    "Time taken to service a write_file call in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ouisync_mutations_total",
			Help: "Total number of local branch mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Block store / GC metrics
	GCDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ouisync_gc_duration_seconds",
			Help:    "Time taken to run one garbage collection sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	GCBlocksRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ouisync_gc_blocks_removed_total",
			Help: "Total number of blocks removed across every garbage collection sweep",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ouisync_reconciliation_duration_seconds",
			Help:    "Time taken to pull and verify one announced root in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ouisync_reconciliation_cycles_total",
			Help: "Total number of root announcements processed",
		},
	)

	PeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ouisync_peers_total",
			Help: "Total number of peers with a tracked reconciliation state",
		},
	)

	PeerBackoffTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ouisync_peer_backoff_total",
			Help: "Total number of times a peer was demoted for supplying corrupt blocks",
		},
	)

	// Event broker metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ouisync_events_published_total",
			Help: "Total number of events delivered to subscribers by type",
		},
		[]string{"type"},
	)

	EventsCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ouisync_events_coalesced_total",
			Help: "Total number of BlockWritten events merged into a preceding one for the same locator",
		},
	)
)

func init() {
	prometheus.MustRegister(RepositoriesOpenTotal)
	prometheus.MustRegister(BlocksTotal)
	prometheus.MustRegister(IndexNodesTotal)
	prometheus.MustRegister(BranchesTotal)

	prometheus.MustRegister(ReadFileDuration)
	prometheus.MustRegister(WriteFileDuration)
	prometheus.MustRegister(MutationsTotal)

	prometheus.MustRegister(GCDuration)
	prometheus.MustRegister(GCBlocksRemovedTotal)

	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(PeersTotal)
	prometheus.MustRegister(PeerBackoffTotal)

	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventsCoalescedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
