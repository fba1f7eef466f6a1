/*
Package metrics provides Prometheus metrics and health endpoints for the
replication scheduler.

All metrics are package-level collectors registered with the default
Prometheus registry at init, so any package can record an observation
without plumbing a registry through constructors.

# Metric Catalog

Cycle metrics:

	replicator_scheduling_cycles_total{result}        counter   ok | error
	replicator_scheduling_cycle_duration_seconds      histogram
	replicator_requests_processed_total               counter

File metrics:

	replicator_files_scheduled_total                  counter
	replicator_files_done_total                       counter
	replicator_files_skipped_total{reason}            counter   resolution | no_channel | ...
	replicator_persist_failures_total                 counter
	replicator_tree_edges_total{strategy}             counter

Store gauges, sampled by the Collector:

	replicator_channel_queued_files{channel}          gauge
	replicator_channel_queued_bytes{channel}          gauge
	replicator_requests_total{status}                 gauge

Transfer feedback:

	replicator_transfers_reported_total{result}       counter   success | failure
	replicator_se_probe_healthy{se}                   gauge     0 while the SE is banned

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CycleDuration)

# Health

Components report the outcome of their last operation through ObserveError.
The process is ready once the store and the scheduler have both reported
without error. The scheduler reports after each cycle:

	metrics.ObserveError(metrics.ComponentScheduler, err)

HealthHandler, ReadyHandler and LivenessHandler serve /health, /ready and
/live next to Handler on /metrics.
*/
package metrics
