// Package imageset indexes flat directories of timestamped time-lapse
// captures. Timestamps are parsed from file names (or taken from file
// modification times) and the files are grouped by calendar day, which
// is the shape the time filters in internal/timefilter operate on.
package imageset
