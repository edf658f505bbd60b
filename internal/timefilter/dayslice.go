package timefilter

import (
	"sort"
	"time"

	"github.com/sonicdm/pyLapse/internal/imageset"
	"github.com/sonicdm/pyLapse/internal/logging"
	"github.com/sonicdm/pyLapse/internal/metrics"
)

// fileEntry pairs a path with its parsed timestamp for ordered scans.
type fileEntry struct {
	path string
	ts   time.Time
}

// dayEntries returns a day's files ordered by (timestamp, path) so
// that nearest-match tie-breaks are deterministic.
func dayEntries(files map[string]time.Time) []fileEntry {
	entries := make([]fileEntry, 0, len(files))
	for path, ts := range files {
		entries = append(entries, fileEntry{path: path, ts: ts})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ts.Equal(entries[j].ts) {
			return entries[i].ts.Before(entries[j].ts)
		}
		return entries[i].path < entries[j].path
	})
	return entries
}

// dayEntriesByPath returns a day's files in filename order, the order
// selection windows scan their candidates in.
func dayEntriesByPath(files map[string]time.Time) []fileEntry {
	entries := make([]fileEntry, 0, len(files))
	for path, ts := range files {
		entries = append(entries, fileEntry{path: path, ts: ts})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].path < entries[j].path
	})
	return entries
}

// Dayslice selects one file per (day, hour, target minute) from the
// index: for every day and every hour in hourlist, the file whose
// minute is closest to each target minute within fuzzy tolerance.
// Candidates are scanned in filename order, so distance ties keep the
// first filename. Hours with no files are skipped. The result is
// path-sorted and duplicate-free.
//
// hourlist defaults to all 24 hours, minutelist to [0] (one sample per
// hour).
func Dayslice(index imageset.ImageIndex, hourlist, minutelist []int, fuzzy int) []string {
	if len(hourlist) == 0 {
		hourlist = AllHours()
	}
	if len(minutelist) == 0 {
		minutelist = []int{0}
	}

	hours := sortedCopy(hourlist)
	minutes := sortedCopy(minutelist)

	logging.Debug("Dayslice hours=%v minutes=%v fuzzy=%d", hours, minutes, fuzzy)

	selected := make(map[string]struct{})

	for _, day := range index.Days() {
		entries := dayEntriesByPath(index[day])

		for _, targetHour := range hours {
			var hourMinutes []int
			var hourPaths []string
			for _, e := range entries {
				if e.ts.Hour() == targetHour {
					hourMinutes = append(hourMinutes, e.ts.Minute())
					hourPaths = append(hourPaths, e.path)
				}
			}
			if len(hourMinutes) == 0 {
				continue
			}

			for _, targetMinute := range minutes {
				minute, idx, ok := FindNearest(hourMinutes, targetMinute, fuzzy)
				if !ok {
					continue
				}
				logging.Debug("%s day %s: minute %d close enough to %d",
					hourPaths[idx], day, minute, targetMinute)
				selected[hourPaths[idx]] = struct{}{}
			}
		}
	}

	result := sortedPaths(selected)

	metrics.SelectorRunsTotal.WithLabelValues("dayslice").Inc()
	metrics.SelectorFilesSelected.WithLabelValues("dayslice").Add(float64(len(result)))

	return result
}

func sortedCopy(values []int) []int {
	out := append([]int(nil), values...)
	sort.Ints(out)
	return out
}

func sortedPaths(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for path := range set {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}
