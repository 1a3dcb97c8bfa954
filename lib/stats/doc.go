// Package stats collects runtime metrics of the dLock server.
//
// Metrics are recorded into two sinks:
//
//   - A VictoriaMetrics set exposed in Prometheus text format, either through
//     Handler or the standalone server started by ServeMetrics (/metrics).
//   - A go-metrics registry that RunReporter prints as a single log line at a
//     fixed interval, for deployments without a metrics scraper.
//
// Gauges (active connections, held keys, owners, waiters) are sampled from the
// lock table and the server when they are read, counters and the wait time
// histogram are updated by the connection handlers.
package stats
