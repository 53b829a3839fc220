// Package metrics exposes Prometheus instrumentation for the testbed:
// remote host operation counters and durations, playbook run counts,
// rollback counts, and membership gauges. Metrics are registered on the
// default registry; Handler serves them over HTTP.
package metrics
