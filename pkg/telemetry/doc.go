/*
Package telemetry reads a storage node's live compaction and flush queue
depths for the admission gate.

A Source performs the raw read. JMXSource queries the node's JMX servlet:

	GET http://<host>:<info port>/jmx?qry=Hadoop:service=HBase,name=RegionServer,sub=Server

	{"beans":[{"compactionQueueLength":3,"flushQueueLength":0,"percentFilesLocal":97.5}]}

Probes returned by GuardedFactory wrap a Source with a failure Policy. By
default a failed read reports an empty queue (fail open) so an unreachable
probe never blocks compaction forever. Every failure increments
compactor_telemetry_probe_failures_total and sets compactor_telemetry_degraded
for the node; after EscalateAfter consecutive failures the warning becomes an
error log. With FailClosed the probe reports math.MaxInt instead and the gate
holds until telemetry recovers.
*/
package telemetry
