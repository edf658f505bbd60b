// Package workers calculates worker pool sizes for batch image
// processing, derived from available CPUs with an environment override.
package workers
