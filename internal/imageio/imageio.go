package imageio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"

	// Some cameras deliver webp frames; imaging does not register it.
	_ "golang.org/x/image/webp"

	"github.com/sonicdm/pyLapse/internal/executor"
	"github.com/sonicdm/pyLapse/internal/imageset"
	"github.com/sonicdm/pyLapse/internal/logging"
	"github.com/sonicdm/pyLapse/internal/metrics"
)

const (
	clearRetries    = 5
	clearRetryDelay = 500 * time.Millisecond
)

// Options controls how each selected frame is written out.
type Options struct {
	// Resize fits each frame within Width x Height, preserving aspect.
	Resize bool
	Width  int
	Height int

	// Quality applies to JPEG output only.
	Quality int

	// Ext selects the output encoding, "jpg" or "png".
	Ext string

	// DrawTimestamp burns the frame's capture time into the image.
	DrawTimestamp   bool
	TimestampFormat string

	// FontPath optionally points at a TTF file for the timestamp; when
	// empty a small bundled bitmap face is used.
	FontPath string
	FontSize float64

	// Prefix names output files; defaults to the output directory's
	// base name. ZeroPad is the sequence number width.
	Prefix  string
	ZeroPad int
}

func (o *Options) applyDefaults(outputDir string) {
	if o.Width <= 0 {
		o.Width = 1920
	}
	if o.Height <= 0 {
		o.Height = 1080
	}
	if o.Quality <= 0 {
		o.Quality = 50
	}
	if o.Ext == "" {
		o.Ext = "jpg"
	}
	if o.TimestampFormat == "" {
		o.TimestampFormat = "2006-01-02 03:04:05 PM"
	}
	if o.FontSize <= 0 {
		o.FontSize = 48
	}
	if o.Prefix == "" {
		o.Prefix = filepath.Base(outputDir)
	}
	if o.ZeroPad <= 0 {
		o.ZeroPad = 5
	}
}

// Writer renders selected frames into a numbered image sequence.
type Writer struct {
	exec *executor.Executor
	opts Options
}

// NewWriter wires a writer to the executor that will fan its work out.
func NewWriter(exec *executor.Executor, opts Options) *Writer {
	return &Writer{exec: exec, opts: opts}
}

// WriteImageSet flattens index into capture-order items and writes one
// numbered output frame per item under outputDir. batched selects the
// chunked execution strategy over the per-item threaded one.
func (w *Writer) WriteImageSet(ctx context.Context, index imageset.ImageIndex, outputDir string, progress executor.ProgressFunc, batched bool) ([]executor.Result, error) {
	opts := w.opts
	opts.applyDefaults(outputDir)

	items := flatten(index)
	if len(items) == 0 {
		return nil, errors.New("no images to write")
	}

	if err := PrepareOutputDir(outputDir); err != nil {
		return nil, err
	}

	logging.Info("Writing %d frames to %s as %q sequence", len(items), outputDir, opts.Prefix)
	start := time.Now()

	transform := func(item executor.Item, idx int) (string, error) {
		return writeSingle(item, idx, outputDir, opts)
	}

	var results []executor.Result
	var err error
	if batched {
		results, err = w.exec.RunBatched(ctx, transform, items, progress)
	} else {
		results, err = w.exec.RunThreaded(ctx, transform, items, progress)
	}

	metrics.ExportImagesWritten.Add(float64(len(results)))
	metrics.ExportDuration.Observe(time.Since(start).Seconds())
	switch {
	case executor.IsCancelled(err):
		metrics.ExportsTotal.WithLabelValues("cancelled").Inc()
	case err != nil:
		metrics.ExportsTotal.WithLabelValues("failed").Inc()
	default:
		metrics.ExportsTotal.WithLabelValues("completed").Inc()
	}
	return results, err
}

// flatten orders the day-grouped index by (timestamp, path) so the
// output sequence numbers follow capture order.
func flatten(index imageset.ImageIndex) []executor.Item {
	var items []executor.Item
	for _, day := range index.Days() {
		for path, ts := range index[day] {
			items = append(items, executor.Item{Path: path, Timestamp: ts})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.Before(items[j].Timestamp)
		}
		return items[i].Path < items[j].Path
	})
	return items
}

// writeSingle reads, transforms, and encodes one frame. The returned
// message names the written file.
func writeSingle(item executor.Item, idx int, outputDir string, opts Options) (string, error) {
	img, err := imaging.Open(item.Path, imaging.AutoOrientation(true))
	if err != nil {
		return "", errors.Wrapf(err, "open %s", item.Path)
	}

	out := imaging.Clone(img)
	if opts.Resize {
		out = imaging.Fit(out, opts.Width, opts.Height, imaging.Lanczos)
	}
	if opts.DrawTimestamp {
		if err := stampTimestamp(out, item.Timestamp, opts); err != nil {
			return "", errors.Wrapf(err, "stamp %s", item.Path)
		}
	}

	dst := filepath.Join(outputDir, outputName(opts, idx))

	var saveOpts []imaging.EncodeOption
	if opts.Ext == "jpg" || opts.Ext == "jpeg" {
		saveOpts = append(saveOpts, imaging.JPEGQuality(opts.Quality))
	}
	if err := imaging.Save(out, dst, saveOpts...); err != nil {
		return "", errors.Wrapf(err, "save %s", dst)
	}

	return fmt.Sprintf("saved %s", dst), nil
}

// outputName builds "<prefix> <seq>.<ext>" with a 1-based, zero-padded
// sequence number.
func outputName(opts Options, idx int) string {
	return fmt.Sprintf("%s %0*d.%s", opts.Prefix, opts.ZeroPad, idx+1, opts.Ext)
}

// PrepareOutputDir ensures the output directory exists.
func PrepareOutputDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create output dir %s", dir)
	}
	return nil
}

// ClearTarget deletes files under dir matching mask. Removals that
// fail, typically a viewer holding a file open, are retried a few
// times before the leftover files surface as an error.
func ClearTarget(dir, mask string) error {
	if mask == "" {
		mask = "*"
	}

	pending, err := filepath.Glob(filepath.Join(dir, mask))
	if err != nil {
		return errors.Wrapf(err, "glob %s", filepath.Join(dir, mask))
	}

	var lastErr error
	for attempt := 0; attempt < clearRetries && len(pending) > 0; attempt++ {
		if attempt > 0 {
			logging.Warn("Retrying removal of %d files in %s", len(pending), dir)
			time.Sleep(clearRetryDelay)
		}

		var remaining []string
		for _, path := range pending {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				remaining = append(remaining, path)
				lastErr = err
			}
		}
		pending = remaining
	}

	if len(pending) > 0 {
		return errors.Wrapf(lastErr, "%d files could not be removed from %s", len(pending), dir)
	}
	return nil
}
