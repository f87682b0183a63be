/*
Package planner builds the ordered per-node compaction queue.

For each region the node serves, the planner looks up the region's
metrics, scores it with the weight model and decides whether it belongs in
the queue:

	mode        include when
	bounded     region has metrics
	continuous  weight > border_weight
	            && size > border_size_mb
	            && region not admitted recently

Regions without metrics are skipped and logged at debug level; this is
normal right after a region moves. Every score is kept on the Plan for the
weight statistic even when the region is not queued.

Continuous plans are always ordered by descending weight. Bounded plans are
ordered only when planner.sort is set, otherwise they keep the requested
order. Equal weights are ordered by region id so repeated plans over the
same input are identical.
*/
package planner
