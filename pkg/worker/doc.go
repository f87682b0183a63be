/*
Package worker implements the per-node compaction loop.

A Worker owns one storage node's task queue, a bounded pool of compaction
slots, the node's telemetry probe and its recently-admitted region cache.
Nodes never share any of these, so workers for different nodes run fully
independently.

# State Machine

	        ┌──────────── replan ◀──────────────┐
	        ▼                                    │
	Idle ─▶ Planning ─▶ Draining ─▶ Gated ──┐   │
	                      │  ▲              │   │
	                      │  └── backoff ◀──┘   │
	                      ▼                     │
	                  admit task ─▶ run ─▶ done | failed
	                      │
	                      └── queue empty / recalc reached ─┘
	                                    │
	                           node gone or Stop ─▶ Stopped

# Admission

Before each admission the worker reads the node's compaction and flush
queue lengths. Either one above its border holds admission for
gate_backoff, then the gate is read again. With both in bounds the task
also needs a free pool slot (parallelism) and at least addition_delay must
have passed since the previous admission. An admitted region is put into
the recent cache immediately, before its compaction finishes.

# Execution

A compaction is a RequestMajorCompaction call followed by IsCompacting
polls every status_delay until the region settles. Failures are logged and
counted; they are not retried in the same cycle. Successful weighted tasks
add their size to the cycle's compacted volume.

# Modes

  - bounded: plans the given regions once, waits for every admitted
    compaction and returns an error wrapping ErrTasksFailed if any failed.
  - continuous: plans the node's regions, replans after
    recalc_region_count completions or after idle_timeout with an empty
    queue, and stops when the node is no longer live.
  - queued: runs forced tasks handed to Enqueue and never replans.

Stop prevents further admissions. Compactions already running finish on
their own; Run waits for them up to drain_timeout and then abandons them.
*/
package worker
