// Package executor runs a per-item transform over a list of images in
// parallel, with progress reporting and cooperative cancellation.
//
// Two strategies are available. Threaded dispatches one queue entry
// per item onto an oversubscribed pool and reports progress per
// completion; it suits I/O-bound transforms. Batched pre-splits the
// items into chunks for a CPU-sized pool and reports progress from a
// shared counter sampled on a fixed interval, decoupling progress
// granularity from chunk size.
package executor
