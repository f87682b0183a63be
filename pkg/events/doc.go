/*
Package events distributes scheduler lifecycle events to in-process
subscribers.

Node workers and the cluster scheduler publish events as they plan, gate,
admit and finish compactions; tests and status consumers subscribe to
observe them. Publish never blocks a publisher: events are dropped when
the broker's buffer is full, and a slow subscriber misses events rather
than stalling distribution.

# Event Types

	node.joined            node appeared in the live set, worker started
	node.left              node disappeared, worker stopped
	worker.started         node worker entered its loop
	worker.stopped         node worker finished or was stopped
	plan.refreshed         planning cycle produced a new queue
	admission.gated        node queue above border, admission delayed
	compaction.admitted    task entered the node pool
	compaction.completed   region settled after compaction
	compaction.failed      compaction request failed

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Node, ev.Metadata["cycle"])
	}
*/
package events
