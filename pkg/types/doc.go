/*
Package types defines the value types shared by every compactor package.

# Core Types

  - NodeID, RegionID, TableName: identities. RegionID is the encoded region
    name and is the only key used across planning cycles.
  - RegionMetrics: per-cycle snapshot of a region's store files and locality.
  - RegionLocation: region to serving node mapping.
  - Task: one planned compaction, optionally weighted.
  - Mode: bounded, continuous or queued node worker.
  - WorkerState, NodeStatus: status reporting.

# Task Lifecycle

	Planner ──creates──▶ Task ──queued──▶ NodeWorker
	                                        │
	                         gate ─▶ admit ─▶ run ─▶ done | failed

A task is owned by exactly one node worker queue from creation until it
finishes or is discarded with its queue. Later planning cycles create new
tasks for the same region rather than reusing old ones.

# Reporting Helpers

ProgressString and ClassifyCompactionQueue produce the strings that
status endpoints and the periodic reporter print, so every surface reports
progress in the same format:

	27.27% (  3 of  11)
	no regions for compaction.
*/
package types
