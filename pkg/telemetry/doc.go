// Package telemetry provides structured logging and metrics for the hive
// resolution engine: a zerolog-backed Logger with component and node-scoped
// field helpers, and a Prometheus metrics collector counting resolutions,
// violations, and package-set cache activity.
//
// A nil *Metrics is a valid no-op collector, so library code can record
// unconditionally.
package telemetry
