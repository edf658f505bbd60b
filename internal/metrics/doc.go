// Package metrics defines the Prometheus collectors for the export
// engine: index builds, selection runs, parallel execution, background
// tasks, and finished exports.
package metrics
