/*
Package config loads and validates compactor configuration.

Configuration is a YAML file overlaid onto Default(). Durations use Go
duration syntax ("10s", "30m", "24h"). Sections:

	log:        level, json
	weight:     locality_factor, file_count_factor, size_divisor, min_size_mb
	planner:    sort, border_weight, border_size_mb
	dedup:      size, ttl, forget_on_failure
	worker:     parallelism, status_delay, addition_delay, gate_backoff,
	            idle_timeout, recalc_region_count, max_compactions_border,
	            max_flushes_border, drain_timeout
	scheduler:  refresh_interval, shutdown_timeout, report_interval
	telemetry:  source, scheme, info_port, ports, timeout, fail_closed, escalate_after
	catalog:    path, compaction_duration
	api:        http_addr, grpc_addr
	gossip:     enabled, node_name, bind_addr, bind_port, join

The resulting Config is a plain value. Components receive their section at
construction time and never read configuration from package state.
*/
package config
