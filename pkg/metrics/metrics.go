package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "compactor_nodes_live",
			Help: "Number of live storage nodes in the latest topology snapshot",
		},
	)

	NodeWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compactor_node_workers",
			Help: "Number of running node workers by mode",
		},
		[]string{"mode"},
	)

	// Planning metrics
	RegionsPlanned = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compactor_regions_planned",
			Help: "Regions planned for compaction in the current cycle",
		},
		[]string{"node"},
	)

	PlanningCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compactor_planning_cycles_total",
			Help: "Total number of planning cycles",
		},
		[]string{"node"},
	)

	PlanningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compactor_planning_duration_seconds",
			Help:    "Time taken to fetch metrics and build one node plan",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Admission metrics
	CompactionsAdmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compactor_compactions_admitted_total",
			Help: "Total number of compactions admitted into a node pool",
		},
		[]string{"node"},
	)

	AdmissionGated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compactor_admission_gated_total",
			Help: "Total number of admission attempts held back, by reason",
		},
		[]string{"node", "reason"},
	)

	ActiveCompactions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compactor_active_compactions",
			Help: "Compactions currently running per node",
		},
		[]string{"node"},
	)

	NodeQueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compactor_node_queue_length",
			Help: "Last observed node queue length by queue",
		},
		[]string{"node", "queue"},
	)

	// Execution metrics
	CompactionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compactor_compactions_completed_total",
			Help: "Total number of finished compactions",
		},
		[]string{"node"},
	)

	CompactionsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compactor_compactions_failed_total",
			Help: "Total number of failed compaction requests",
		},
		[]string{"node"},
	)

	CompactedVolumeMB = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compactor_compacted_volume_megabytes_total",
			Help: "Store file volume compacted by weighted tasks",
		},
		[]string{"node"},
	)

	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compactor_compaction_duration_seconds",
			Help:    "Time from compaction request until the region settles",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	CycleProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compactor_cycle_progress_percent",
			Help: "Completed share of the current planning cycle",
		},
		[]string{"node"},
	)

	// Telemetry metrics
	TelemetryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compactor_telemetry_probe_failures_total",
			Help: "Total number of failed node telemetry reads",
		},
		[]string{"node"},
	)

	TelemetryDegraded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compactor_telemetry_degraded",
			Help: "Whether admission for a node runs without telemetry (1 = degraded)",
		},
		[]string{"node"},
	)
)

func init() {
	prometheus.MustRegister(NodesLive)
	prometheus.MustRegister(NodeWorkers)
	prometheus.MustRegister(RegionsPlanned)
	prometheus.MustRegister(PlanningCycles)
	prometheus.MustRegister(PlanningDuration)
	prometheus.MustRegister(CompactionsAdmitted)
	prometheus.MustRegister(AdmissionGated)
	prometheus.MustRegister(ActiveCompactions)
	prometheus.MustRegister(NodeQueueLength)
	prometheus.MustRegister(CompactionsCompleted)
	prometheus.MustRegister(CompactionsFailed)
	prometheus.MustRegister(CompactedVolumeMB)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(CycleProgress)
	prometheus.MustRegister(TelemetryFailures)
	prometheus.MustRegister(TelemetryDegraded)
}

// ForgetNode drops every per-node series of a node that left the cluster
func ForgetNode(node string) {
	labels := prometheus.Labels{"node": node}
	RegionsPlanned.DeletePartialMatch(labels)
	PlanningCycles.DeletePartialMatch(labels)
	CompactionsAdmitted.DeletePartialMatch(labels)
	AdmissionGated.DeletePartialMatch(labels)
	ActiveCompactions.DeletePartialMatch(labels)
	NodeQueueLength.DeletePartialMatch(labels)
	CompactionsCompleted.DeletePartialMatch(labels)
	CompactionsFailed.DeletePartialMatch(labels)
	CompactedVolumeMB.DeletePartialMatch(labels)
	CycleProgress.DeletePartialMatch(labels)
	TelemetryFailures.DeletePartialMatch(labels)
	TelemetryDegraded.DeletePartialMatch(labels)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
