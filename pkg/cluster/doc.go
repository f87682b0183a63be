/*
Package cluster defines the boundary between the scheduler and the storage
cluster, plus the shared live-node topology.

# Core Components

Admin is everything the scheduler needs from the cluster: live nodes,
region placement and metrics, and the major-compaction request with its
IsCompacting completion signal. pkg/storage provides a bbolt-backed
implementation; production deployments plug in a client for their
cluster's admin API.

Topology keeps the latest set of live nodes as an immutable Snapshot behind
an atomic pointer. The scheduler refreshes it on a fixed cadence; node
workers read it to confirm their node is still live before replanning.

	           Refresh (every refresh_interval)
	NodeLister ────────────────────────────▶ Topology
	                                           │ atomic swap
	                                           ▼
	                                   *Snapshot (read-only)
	                                     ▲        ▲
	                               worker A    worker B

GossipMembership is an alternative NodeLister built on hashicorp/memberlist.
WithMembership overlays it on any Admin so that liveness comes from gossip
while placement and compaction still go through the admin API.
*/
package cluster
