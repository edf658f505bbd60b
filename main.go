package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sonicdm/pyLapse/internal/executor"
	"github.com/sonicdm/pyLapse/internal/history"
	"github.com/sonicdm/pyLapse/internal/imageio"
	"github.com/sonicdm/pyLapse/internal/imageset"
	"github.com/sonicdm/pyLapse/internal/logging"
	"github.com/sonicdm/pyLapse/internal/metrics"
	"github.com/sonicdm/pyLapse/internal/schedule"
	"github.com/sonicdm/pyLapse/internal/startup"
	"github.com/sonicdm/pyLapse/internal/tasks"
	"github.com/sonicdm/pyLapse/internal/timefilter"
)

const statusPollInterval = 250 * time.Millisecond

func main() {
	var (
		input        = flag.String("input", "", "directory of source frames (or LAPSE_INPUT_DIR)")
		output       = flag.String("output", "", "directory for the exported sequence (or LAPSE_OUTPUT_DIR)")
		pattern      = flag.String("pattern", "", "regex with year/month/day/hour/minute groups overriding the default filename pattern")
		ext          = flag.String("ext", "", "source and output extension (jpg, jpeg, png)")
		mask         = flag.String("mask", "", "filename glob applied before the extension")
		dateSource   = flag.String("date-source", "filename", "timestamp source: filename or modtime")
		hoursFlag    = flag.String("hours", "", "hours to sample, e.g. 6-20 or 8,12,16 (default all)")
		minutesFlag  = flag.String("minutes", "", "target minutes within each hour, e.g. 0,30 (default 0)")
		cronSpec     = flag.String("cron", "", "cron expression selecting frames by fire time instead of -hours/-minutes")
		fuzzy        = flag.Int("fuzzy", -1, "minutes of tolerance when matching frames to targets")
		all          = flag.Bool("all", false, "export every indexed frame without selection")
		resize       = flag.Bool("resize", false, "fit frames within -width x -height")
		width        = flag.Int("width", 0, "resize bound width")
		height       = flag.Int("height", 0, "resize bound height")
		quality      = flag.Int("quality", 0, "jpeg quality 1-100")
		stamp        = flag.Bool("stamp", false, "burn the capture timestamp into each frame")
		fontPath     = flag.String("font", "", "TTF font for the timestamp overlay")
		prefix       = flag.String("prefix", "", "output filename prefix (default output dir name)")
		clearOut     = flag.Bool("clear", false, "remove matching files from the output dir first")
		workerCount  = flag.Int("workers", 0, "worker count (default from CPU count)")
		batched      = flag.Bool("batched", false, "use the chunked execution strategy")
		debug        = flag.Bool("debug", false, "synchronous execution with verbose logging")
		metricsAddr  = flag.String("metrics-addr", "", "serve prometheus metrics on this address")
		historyDir   = flag.String("history", "", "directory for the export history database")
		scheduleSpec = flag.String("schedule", "", "keep running and repeat the export on this cron schedule")
	)
	flag.Parse()

	if *debug {
		logging.SetLevel(logging.LevelDebug)
	}

	config := startup.LoadConfig()

	// Flags the user set explicitly override environment defaults.
	overrides := map[string]func(){
		"input":        func() { config.InputDir = *input },
		"output":       func() { config.OutputDir = *output },
		"history":      func() { config.HistoryDir = *historyDir },
		"ext":          func() { config.Ext = *ext },
		"mask":         func() { config.Mask = *mask },
		"fuzzy":        func() { config.Fuzzy = *fuzzy },
		"quality":      func() { config.Quality = *quality },
		"width":        func() { config.Width = *width },
		"height":       func() { config.Height = *height },
		"workers":      func() { config.Workers = *workerCount },
		"batched":      func() { config.Batched = *batched },
		"metrics-addr": func() { config.MetricsAddr, config.MetricsEnabled = *metricsAddr, true },
	}
	flag.Visit(func(f *flag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply()
		}
	})

	if err := config.Validate(); err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	hours, err := parseIntList(*hoursFlag)
	if err != nil {
		startup.LogFatal("Invalid -hours: %v", err)
	}
	minutes, err := parseIntList(*minutesFlag)
	if err != nil {
		startup.LogFatal("Invalid -minutes: %v", err)
	}

	var filenamePattern *regexp.Regexp
	if *pattern != "" {
		filenamePattern, err = regexp.Compile(*pattern)
		if err != nil {
			startup.LogFatal("Invalid -pattern: %v", err)
		}
	}

	var sched timefilter.Schedule
	if *cronSpec != "" {
		sched, err = timefilter.ParseCron(*cronSpec)
		if err != nil {
			startup.LogFatal("Invalid -cron: %v", err)
		}
	}

	if config.MetricsEnabled {
		metrics.Serve(config.MetricsAddr)
	}

	var store *history.Store
	if config.HistoryEnabled {
		store, err = history.Open(context.Background(), config.HistoryPath)
		if err != nil {
			logging.Warn("Export history unavailable: %v", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	selection := describeSelection(*all, *cronSpec, hours, minutes, config.Fuzzy)

	exec := executor.New(config.Workers, *debug)
	writer := imageio.NewWriter(exec, imageio.Options{
		Resize:        *resize,
		Width:         config.Width,
		Height:        config.Height,
		Quality:       config.Quality,
		Ext:           normalizeExt(config.Ext),
		DrawTimestamp: *stamp,
		FontPath:      *fontPath,
		Prefix:        *prefix,
	})

	startup.LogRunStarted(selection, exec.Workers(), config.Batched)

	manager := tasks.NewManager()

	runExport := func(ctx context.Context, progress executor.ProgressFunc) (interface{}, error) {
		runID := time.Now().Format("20060102-150405")
		set, err := imageset.Load(config.InputDir, imageset.Options{
			Ext:     config.Ext,
			Mask:    config.Mask,
			Pattern: filenamePattern,
			Source:  imageset.DateSource(*dateSource),
		})
		if err != nil {
			return nil, err
		}
		logging.Info("Indexed %d frames across %d days", set.Index.Count(), len(set.Index.Days()))

		index := set.Index
		switch {
		case *all:
			// Every frame, capture order.
		case sched != nil:
			index = index.SubIndex(timefilter.CronFilter(index, sched, config.Fuzzy))
		default:
			index = index.SubIndex(timefilter.Dayslice(index, hours, minutes, config.Fuzzy))
		}
		if index.Count() == 0 {
			return nil, fmt.Errorf("selection %q matched no frames", selection)
		}
		logging.Info("Selected %d of %d frames", index.Count(), set.Index.Count())

		if *clearOut {
			if err := imageio.ClearTarget(config.OutputDir, "*."+normalizeExt(config.Ext)); err != nil {
				return nil, err
			}
		}

		// Scheduled fires run this closure concurrently; the store
		// handle is only ever read here, each run brackets its own row.
		rec := beginRecord(ctx, store, history.Entry{
			TaskID:    runID,
			Name:      "export",
			InputDir:  config.InputDir,
			OutputDir: config.OutputDir,
			Selection: selection,
			FileCount: index.Count(),
		})

		results, runErr := writer.WriteImageSet(ctx, index, config.OutputDir, progress, config.Batched)
		rec.finish(runErr, len(results))

		return len(results), runErr
	}

	if *scheduleSpec != "" {
		os.Exit(runScheduled(manager, *scheduleSpec, runExport))
	}

	task := manager.Create("export", runExport)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		startup.LogShutdownInitiated(sig.String())
		manager.Cancel(task.ID)
	}()

	os.Exit(watch(task))
}

// runScheduled repeats the export on a cron schedule until a signal
// arrives. Each fire runs as its own tracked task.
func runScheduled(manager *tasks.Manager, spec string, runExport tasks.JobFunc) int {
	export, err := schedule.NewExport("export", spec, func(ctx context.Context) error {
		_, err := runExport(ctx, nil)
		return err
	})
	if err != nil {
		logging.Error("Invalid -schedule: %v", err)
		return 1
	}

	scheduler := schedule.NewScheduler(manager)
	if err := scheduler.Add(export); err != nil {
		logging.Error("%v", err)
		return 1
	}
	scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())
	scheduler.Stop()
	for _, snap := range manager.All() {
		if !snap.Status.Terminal() {
			manager.Cancel(snap.ID)
		}
	}
	return 0
}

// exportRecorder brackets one run's history row. Recording trouble
// disables the bracket for that run alone; other runs sharing the
// store are unaffected.
type exportRecorder struct {
	store *history.Store
	id    int64
	ok    bool
}

// beginRecord opens a history row for one export run. A nil store or a
// failed insert yields an inert recorder.
func beginRecord(ctx context.Context, store *history.Store, e history.Entry) *exportRecorder {
	r := &exportRecorder{store: store}
	if store == nil {
		return r
	}
	id, err := store.Record(ctx, e)
	if err != nil {
		logging.Warn("Failed to record export history: %v", err)
		return r
	}
	r.id, r.ok = id, true
	return r
}

// finish completes the run's history row with its terminal status.
func (r *exportRecorder) finish(runErr error, fileCount int) {
	if !r.ok {
		return
	}
	status, errText := "completed", ""
	switch {
	case executor.IsCancelled(runErr):
		status = "cancelled"
	case runErr != nil:
		status, errText = "failed", runErr.Error()
	}
	if err := r.store.Finish(context.Background(), r.id, status, fileCount, errText); err != nil {
		logging.Warn("Failed to finish export history: %v", err)
	}
}

// watch polls the task until it reaches a terminal state, echoing
// progress to the console, and maps the outcome to an exit code.
func watch(task *tasks.Task) int {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	var lastLine string
	for range ticker.C {
		snap := task.Snapshot()

		if snap.Status == tasks.StatusRunning && snap.Total > 0 {
			line := fmt.Sprintf("  %d/%d frames (%.0f%%)", snap.Current, snap.Total, snap.Progress)
			if line != lastLine {
				fmt.Printf("\r%-60s", line)
				lastLine = line
			}
		}

		if !snap.Status.Terminal() {
			continue
		}
		if lastLine != "" {
			fmt.Println()
		}

		switch snap.Status {
		case tasks.StatusCompleted:
			logging.Info("Export complete: %v frames written", snap.Result)
			return 0
		case tasks.StatusCancelled:
			logging.Warn("Export cancelled after %d of %d frames", snap.Current, snap.Total)
			return 130
		default:
			logging.Error("Export failed: %s", snap.Error)
			return 1
		}
	}
	return 1
}

// parseIntList parses comma-separated values with optional a-b ranges,
// e.g. "6-9,12,18-20".
func parseIntList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("bad range start %q", lo)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("bad range end %q", hi)
			}
			if end < start {
				return nil, fmt.Errorf("range %q runs backwards", part)
			}
			for v := start; v <= end; v++ {
				out = append(out, v)
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad value %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}

func describeSelection(all bool, cronSpec string, hours, minutes []int, fuzzy int) string {
	switch {
	case all:
		return "all frames"
	case cronSpec != "":
		return fmt.Sprintf("cron %q fuzzy=%dm", cronSpec, fuzzy)
	default:
		h, m := "all", "[0]"
		if len(hours) > 0 {
			h = fmt.Sprintf("%v", hours)
		}
		if len(minutes) > 0 {
			m = fmt.Sprintf("%v", minutes)
		}
		return fmt.Sprintf("dayslice hours=%s minutes=%s fuzzy=%dm", h, m, fuzzy)
	}
}

func normalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(ext), ".")
}
