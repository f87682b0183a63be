/*
Package log provides structured logging for the compactor using zerolog.

A single global Logger is configured once by Init and shared by every
component. Components derive child loggers that carry the fields used to
filter scheduler output in production:

	component     scheduler, worker, planner, telemetry, catalog, api
	node_id       storage node the entry belongs to (host:port)
	region        encoded region name
	operation_id  one bounded compaction request

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithNodeID("worker", "rs1.example.com:16020")
	logger.Info().Int("planned", 42).Msg("Planning cycle finished")

	rl := log.WithRegion(logger, "a1b2c3")
	rl.Debug().Msg("No metrics for region, skipping")

Console output (JSONOutput false) is meant for interactive use of the CLI;
services should run with JSON output so log shippers can index the fields.
*/
package log
