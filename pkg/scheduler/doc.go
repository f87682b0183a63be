/*
Package scheduler orchestrates node workers across a storage cluster.

The Scheduler owns every node worker. It offers the operations callers
need at each granularity: an explicit region set, whole tables, whole
namespaces, one node, or the whole cluster indefinitely.

# Architecture

	            ┌──────────────────────────────┐
	            │           Scheduler          │
	            │  topology  caches  workers   │
	            └──────┬───────────────┬───────┘
	                   │               │
	     bounded ops   │               │  RunContinuous
	  (regions/tables/ │               │  (membership watch,
	   namespaces/node)│               │   every refresh_interval)
	                   ▼               ▼
	        ┌──────────────┐   ┌──────────────┐   ┌──────────────┐
	        │ Worker node1 │   │ Worker node2 │...│ Worker nodeN │
	        │ pool + probe │   │ pool + probe │   │ pool + probe │
	        └──────────────┘   └──────────────┘   └──────────────┘

# Bounded Operations

CompactRegions, CompactTables, CompactNamespaces and CompactNode resolve
their regions, partition them by serving node and run one bounded worker
per node concurrently. They return after every worker finished. Worker
failures are combined into one error; regions on healthy nodes are still
compacted when another node fails.

	err := s.CompactTables(ctx, []types.TableName{"default:events"})
	if errors.Is(err, worker.ErrTasksFailed) {
		// at least one region failed to compact
	}

# Continuous Operation

RunContinuous starts a continuous worker for every live node and then
rescans membership every refresh_interval. Nodes that join get a worker;
running workers are never restarted. A worker stops by itself when its
node leaves. If the node comes back with the same host:port it gets a
new worker that reuses the node's recent-compaction cache, so regions
compacted just before the restart are not compacted again.

Node-level errors are logged and never end the run. RunContinuous returns
when its context is cancelled or Close is called.

# Queued Compactions

Enqueue hands forced, weightless tasks to a per-node queued worker that
is started on first use. Queued tasks go through the same admission gate
as planned ones.

# Shutdown

Close stops every worker, waits up to shutdown_timeout for them to finish
and then returns. Compactions still running are left to the cluster.
Calling Close twice returns ErrAlreadyClosed; any operation after Close
returns ErrClosed.
*/
package scheduler
