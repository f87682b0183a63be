/*
Package metrics provides Prometheus metrics, component health and periodic
status reporting for the compactor.

# Architecture

	┌──────────────── METRICS ────────────────┐
	│                                          │
	│  node workers ──inc/set──▶ collectors    │
	│  scheduler    ──set──────▶ collectors    │
	│  telemetry    ──inc/set──▶ collectors    │
	│                               │          │
	│                     DefaultRegistry      │
	│                               │          │
	│                     Handler() /metrics   │
	│                                          │
	│  Reporter ──every report_interval──▶ log │
	└──────────────────────────────────────────┘

All collectors are package variables registered in init(). Per-node series
carry a "node" label and are removed with ForgetNode when a node leaves.

# Metrics Catalog

Cluster:

  - compactor_nodes_live: live nodes in the latest topology snapshot
  - compactor_node_workers{mode}: running node workers

Planning:

  - compactor_regions_planned{node}: regions in the current cycle
  - compactor_planning_cycles_total{node}
  - compactor_planning_duration_seconds

Admission and execution:

  - compactor_compactions_admitted_total{node}
  - compactor_admission_gated_total{node,reason}: reason is
    compaction_queue, flush_queue or pool_full
  - compactor_active_compactions{node}
  - compactor_node_queue_length{node,queue}
  - compactor_compactions_completed_total{node}
  - compactor_compactions_failed_total{node}
  - compactor_compacted_volume_megabytes_total{node}
  - compactor_compaction_duration_seconds
  - compactor_cycle_progress_percent{node}

Telemetry:

  - compactor_telemetry_probe_failures_total{node}
  - compactor_telemetry_degraded{node}: 1 while a node's admission gate runs
    without telemetry

A non-zero compactor_telemetry_degraded is worth alerting on: with the
default fail-open policy the admission gate for that node is not throttling.

# Health

HealthChecker aggregates named component states. DefaultHealth treats the
catalog and the scheduler as critical for readiness.

# Reporter

Reporter logs one line per node worker on a fixed interval:

	rs1.example.com:16020: 27.27% (  3 of  11)

with the cycle's weight statistic attached as a field.
*/
package metrics
