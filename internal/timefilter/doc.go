// Package timefilter selects subsets of a day-grouped image index by
// time: fixed hour/minute windows (Dayslice) or the fire instants of a
// cron schedule (CronFilter), both with fuzzy nearest-match tolerance.
package timefilter
