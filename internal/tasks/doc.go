// Package tasks wraps long-running export jobs as observable
// background tasks with a pending/running/terminal status machine,
// live progress, and cooperative cancellation.
package tasks
