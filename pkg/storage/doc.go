/*
Package storage provides the BoltDB-backed cluster catalog.

The catalog records the storage nodes of a cluster, the regions each node
serves with their last published metrics, and a history of requested
compactions. Catalog implements cluster.Admin on top of it, so the
scheduler can run against a catalog file when no live cluster is
attached, and QueueSource feeds node queue depths to the telemetry probes.

# Buckets

	nodes        node id      → Node (JSON)
	regions      region name  → Region (JSON)
	compactions  sequence     → Compaction (JSON, big-endian uint64 keys)

Reads use db.View and run concurrently; writes use db.Update and are
serialized by bbolt.

# Compactions

RequestMajorCompaction marks the region as compacting for the configured
compaction_duration and appends a history entry. While it runs the
region's node reports one more entry in its compaction queue. Once the
duration has passed the region settles: its store files collapse into
one and its locality becomes 1.0, so its weight drops on the next plan.
IsCompacting persists the settled state and stamps the history entry.

# Seeding

	nodes:
	  - id: rs1.example.com:16020
	    live: true
	    flush_queue: 2
	regions:
	  - id: 1588230740
	    table: events
	    node: rs1.example.com:16020
	    store_file_count: 9
	    store_file_size_mb: 4096
	    locality: 0.4
	  - id: 9b2cd3e1a4
	    table: ops:audit
	    node: rs1.example.com:16020
	    unreported: true

LoadSeed parses a file like the one above and Catalog.Import writes it in
one transaction. Tables without a namespace land in "default".
*/
package storage
