// Package history keeps an append-only SQLite record of export runs
// so past selections and their outcomes survive restarts.
package history
