package timefilter

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sonicdm/pyLapse/internal/imageset"
	"github.com/sonicdm/pyLapse/internal/logging"
	"github.com/sonicdm/pyLapse/internal/metrics"
)

// Schedule is the cron-evaluator capability the filter consumes: the
// next fire instant strictly after a given time. robfig/cron's
// cron.Schedule satisfies it.
type Schedule interface {
	Next(after time.Time) time.Time
}

// cronParser accepts standard five-field expressions, an optional
// leading seconds field, and @-descriptors like "@hourly".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a cron expression into a Schedule.
func ParseCron(spec string) (Schedule, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return sched, nil
}

// FireTimes enumerates every instant the schedule fires on the
// calendar date of day, in order. An empty result means the schedule
// does not fire on that date.
func FireTimes(sched Schedule, day time.Time) []time.Time {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())

	var times []time.Time
	// Start just before midnight so a fire at 00:00:00 is included.
	cursor := dayStart.Add(-time.Nanosecond)
	for {
		next := sched.Next(cursor)
		if next.IsZero() || !sameDate(next, dayStart) {
			return times
		}
		times = append(times, next)
		cursor = next
	}
}

// CronFilter selects, for every day in the index on which the schedule
// fires, the file nearest to each fire instant within fuzzyMinutes.
// Days where the first fire after the day's start rolls past midnight
// are skipped entirely. The result is path-sorted and duplicate-free.
func CronFilter(index imageset.ImageIndex, sched Schedule, fuzzyMinutes int) []string {
	selected := make(map[string]struct{})

	for _, day := range index.Days() {
		dayStart, err := time.ParseInLocation("2006-01-02", day, time.Local)
		if err != nil {
			logging.Warn("Skipping malformed day key %q: %v", day, err)
			continue
		}

		fires := FireTimes(sched, dayStart)
		if len(fires) == 0 {
			logging.Debug("Schedule does not fire on %s, skipping day", day)
			continue
		}

		entries := dayEntries(index[day])

		for _, fire := range fires {
			if e, ok := nearestEntry(entries, fire, fuzzyMinutes); ok {
				selected[e.path] = struct{}{}
			}
		}
	}

	result := sortedPaths(selected)

	metrics.SelectorRunsTotal.WithLabelValues("cron").Inc()
	metrics.SelectorFilesSelected.WithLabelValues("cron").Add(float64(len(result)))

	return result
}

// nearestEntry finds the entry whose timestamp has the minimum
// absolute delta to target, within fuzzyMinutes. Entries are scanned
// in (timestamp, path) order, so exact ties keep the first found.
func nearestEntry(entries []fileEntry, target time.Time, fuzzyMinutes int) (fileEntry, bool) {
	tolerance := time.Duration(fuzzyMinutes) * time.Minute

	var best fileEntry
	bestDelta := time.Duration(-1)
	for _, e := range entries {
		delta := absDuration(e.ts.Sub(target))
		if delta > tolerance {
			continue
		}
		if bestDelta < 0 || delta < bestDelta {
			best = e
			bestDelta = delta
		}
	}
	return best, bestDelta >= 0
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
