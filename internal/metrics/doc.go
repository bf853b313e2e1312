// Package metrics defines the Prometheus instrumentation of rov-host.
//
// Metrics are registered on the default registry through promauto and are
// prefixed with "rov_host_". The health server mounts promhttp.Handler() on
// /metrics.
//
// Categories:
//   - RPC: request counts by method/status and round-trip latency
//   - Session: connection gauge, sent and overwritten control packets,
//     connection losses, firmware bytes
//   - Video: delivered and skipped frames, pipeline state, error categories,
//     frame transform latency
//   - Recording: active branch gauge and finished recordings by outcome
//   - Bridge: MQTT messages in and out
//
// Record from other packages with the exported variables:
//
//	metrics.CommandsSentTotal.WithLabelValues(vehicle).Inc()
package metrics
