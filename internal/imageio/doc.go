// Package imageio writes selected frames out as a numbered image
// sequence, with optional resize and timestamp burn-in, fanning the
// per-frame work through the parallel executor.
package imageio
