// Package metrics wires the service's Prometheus instrumentation.
//
// Collector registers counters, gauges and histograms for HTTP traffic,
// review decisions, deliverable versions, the awaiting-decision gauge,
// workflow engine calls, cache effectiveness and database health. The
// metrics server exposes them on a dedicated port via promhttp.
package metrics
