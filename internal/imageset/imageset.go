package imageset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/sonicdm/pyLapse/internal/logging"
	"github.com/sonicdm/pyLapse/internal/metrics"
)

// Number of files to index between progress reports
const progressInterval = 500

// DateSource selects where a file's timestamp comes from. The two modes
// are mutually exclusive per index build.
type DateSource string

const (
	// DateSourceFilename parses the timestamp out of the file name.
	DateSourceFilename DateSource = "filename"
	// DateSourceModTime uses the filesystem modification time.
	DateSourceModTime DateSource = "modtime"
)

// DefaultPattern matches the capture naming convention
// "<prefix><YYYY>-<MM>-<DD>-<HH><MM>[SS]". Seconds are optional and
// default to zero.
var DefaultPattern = regexp.MustCompile(
	`.*?(?P<year>\d{4})-(?P<month>\d{2})-(?P<day>\d{2})-(?P<hour>\d{2})(?P<minute>\d{2})(?P<second>\d{0,2})`)

// ProgressFunc reports indexing progress. A total of 0 signals an
// indeterminate phase.
type ProgressFunc func(completed, total int, message string)

// ImageIndex groups files by calendar day: day key (ISO date) to a map
// of file path to parsed timestamp.
type ImageIndex map[string]map[string]time.Time

// DayKey formats a timestamp's calendar date as an index key.
func DayKey(ts time.Time) string {
	return ts.Format("2006-01-02")
}

// Days returns the sorted day keys present in the index.
func (idx ImageIndex) Days() []string {
	days := make([]string, 0, len(idx))
	for day := range idx {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}

// Count returns the total number of indexed files.
func (idx ImageIndex) Count() int {
	n := 0
	for _, files := range idx {
		n += len(files)
	}
	return n
}

// Day returns the file map for a day key.
func (idx ImageIndex) Day(day string) (map[string]time.Time, bool) {
	files, ok := idx[day]
	return files, ok
}

// SubIndex narrows the index to the given paths without touching the
// filesystem. The grouping is identical to indexing the subset
// directly, because the cached timestamps are reused.
func (idx ImageIndex) SubIndex(paths []string) ImageIndex {
	wanted := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		wanted[filepath.Clean(p)] = struct{}{}
	}

	sub := make(ImageIndex)
	for day, files := range idx {
		for path, ts := range files {
			if _, ok := wanted[filepath.Clean(path)]; !ok {
				continue
			}
			if sub[day] == nil {
				sub[day] = make(map[string]time.Time)
			}
			sub[day][path] = ts
		}
	}
	return sub
}

// Options configures an index build.
type Options struct {
	// Ext is the file extension without the dot. Defaults to "jpg".
	Ext string
	// Mask is a glob applied to the name before the extension. Defaults to "*".
	Mask string
	// Pattern overrides DefaultPattern for filename parsing. It must
	// define the named capture groups year, month, day, hour, minute
	// and may define second.
	Pattern *regexp.Regexp
	// Source selects filename or modification-time indexing.
	Source DateSource
	// Progress receives periodic indexing progress.
	Progress ProgressFunc
}

func (o Options) withDefaults() Options {
	if o.Ext == "" {
		o.Ext = "jpg"
	}
	if o.Mask == "" {
		o.Mask = "*"
	}
	if o.Pattern == nil {
		o.Pattern = DefaultPattern
	}
	if o.Source == "" {
		o.Source = DateSourceFilename
	}
	return o
}

// ImageSet is an indexed collection of timestamped image files from a
// single directory.
type ImageSet struct {
	InputDir string
	// Images holds all scanned paths in sorted order, including files
	// that did not yield a timestamp.
	Images []string
	// Index groups the parseable files by day.
	Index ImageIndex

	opts Options
}

// Load scans inputDir and builds the day-grouped index. A missing or
// unreadable directory is an error; a file whose name does not match
// the pattern is skipped silently.
func Load(inputDir string, opts Options) (*ImageSet, error) {
	s := &ImageSet{InputDir: inputDir, opts: opts.withDefaults()}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromPaths builds an ImageSet from an explicit file list instead of a
// directory scan. Modification-time indexing still stats each file.
func FromPaths(paths []string, opts Options) (*ImageSet, error) {
	s := &ImageSet{opts: opts.withDefaults()}
	s.Images = append([]string(nil), paths...)
	sort.Strings(s.Images)

	index, err := s.buildIndex(s.Images)
	if err != nil {
		return nil, err
	}
	s.Index = index
	return s, nil
}

// Refresh re-scans the source directory and rebuilds the index.
// Building the same unchanged directory twice yields an identical
// index.
func (s *ImageSet) Refresh() error {
	if s.InputDir == "" {
		return fmt.Errorf("image set has no input directory")
	}

	paths, err := scanDir(s.InputDir, s.opts.Mask, s.opts.Ext)
	if err != nil {
		return err
	}
	s.Images = paths

	index, err := s.buildIndex(paths)
	if err != nil {
		return err
	}
	s.Index = index
	return nil
}

// Count returns the number of files that were indexed with a timestamp.
func (s *ImageSet) Count() int {
	return s.Index.Count()
}

// Days returns the sorted day keys of the index.
func (s *ImageSet) Days() []string {
	return s.Index.Days()
}

func (s *ImageSet) buildIndex(paths []string) (ImageIndex, error) {
	start := time.Now()
	metrics.IndexerRunsTotal.Inc()

	var (
		index ImageIndex
		err   error
	)
	switch s.opts.Source {
	case DateSourceModTime:
		index, err = indexByModTime(paths, s.opts.Progress)
	default:
		index, err = indexByFilename(paths, s.opts.Pattern, s.opts.Progress)
	}
	if err != nil {
		return nil, err
	}

	indexed := index.Count()
	metrics.IndexerFilesIndexed.Add(float64(indexed))
	metrics.IndexerFilesSkipped.Add(float64(len(paths) - indexed))
	metrics.IndexerLastRunDuration.Set(time.Since(start).Seconds())

	logging.Debug("Indexed %d of %d files across %d days in %v",
		indexed, len(paths), len(index), time.Since(start))
	return index, nil
}

// indexByFilename parses timestamps from base names and groups by day.
func indexByFilename(paths []string, pattern *regexp.Regexp, progress ProgressFunc) (ImageIndex, error) {
	groups, err := patternGroups(pattern)
	if err != nil {
		return nil, err
	}

	total := len(paths)
	index := make(ImageIndex)

	for i, path := range paths {
		if progress != nil && (i+1)%progressInterval == 0 {
			progress(i+1, total, "Indexing filenames")
		}

		m := pattern.FindStringSubmatch(filepath.Base(path))
		if m == nil {
			continue
		}

		ts, ok := timestampFromMatch(m, groups)
		if !ok {
			continue
		}
		index.add(path, ts)
	}

	if progress != nil {
		progress(total, total, "Indexing complete")
	}
	return index, nil
}

// indexByModTime groups files by filesystem modification time. Files
// that cannot be stat'ed are skipped.
func indexByModTime(paths []string, progress ProgressFunc) (ImageIndex, error) {
	total := len(paths)
	index := make(ImageIndex)

	for i, path := range paths {
		if progress != nil && (i+1)%progressInterval == 0 {
			progress(i+1, total, "Reading file dates")
		}

		info, err := os.Stat(path)
		if err != nil {
			logging.Debug("Skipping %s: %v", path, err)
			continue
		}
		index.add(path, info.ModTime())
	}

	if progress != nil {
		progress(total, total, "Indexing complete")
	}
	return index, nil
}

func (idx ImageIndex) add(path string, ts time.Time) {
	day := DayKey(ts)
	if idx[day] == nil {
		idx[day] = make(map[string]time.Time)
	}
	idx[day][path] = ts
}

// groupIndices holds the submatch positions of the named captures.
type groupIndices struct {
	year, month, day, hour, minute, second int
}

// patternGroups resolves the named capture groups a timestamp pattern
// must define. The second group is optional (index -1 when absent).
func patternGroups(pattern *regexp.Regexp) (groupIndices, error) {
	g := groupIndices{
		year:   pattern.SubexpIndex("year"),
		month:  pattern.SubexpIndex("month"),
		day:    pattern.SubexpIndex("day"),
		hour:   pattern.SubexpIndex("hour"),
		minute: pattern.SubexpIndex("minute"),
		second: pattern.SubexpIndex("second"),
	}
	if g.year < 0 || g.month < 0 || g.day < 0 || g.hour < 0 || g.minute < 0 {
		return g, fmt.Errorf("pattern %q must define year, month, day, hour and minute groups", pattern)
	}
	return g, nil
}

func timestampFromMatch(m []string, g groupIndices) (time.Time, bool) {
	year := atoi(m[g.year])
	month := atoi(m[g.month])
	day := atoi(m[g.day])
	hour := atoi(m[g.hour])
	minute := atoi(m[g.minute])

	second := 0
	if g.second >= 0 && m[g.second] != "" {
		second = atoi(m[g.second])
	}

	// Reject calendar-impossible values rather than letting time.Date
	// normalize them into a different day.
	if month < 1 || month > 12 || day < 1 || day > 31 ||
		hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}

	ts := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local)
	if ts.Day() != day {
		return time.Time{}, false
	}
	return ts, true
}

// atoi converts a digits-only regexp capture; the pattern guarantees
// the input is numeric.
func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// scanDir lists the files in dir matching "<mask>.<ext>", sorted by
// name. It does not recurse; time-lapse capture directories are flat.
func scanDir(dir, mask, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory %s: %w", dir, err)
	}

	glob := mask + "." + ext
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, err := filepath.Match(glob, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("invalid file mask %q: %w", glob, err)
		}
		if ok {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(paths)
	return paths, nil
}
