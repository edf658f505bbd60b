package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/sonicdm/pyLapse/internal/logging"
	"github.com/sonicdm/pyLapse/internal/metrics"
	"github.com/sonicdm/pyLapse/internal/workers"
)

const (
	// How often the batched collector samples the shared progress
	// counter. This also bounds cancellation-detection latency.
	progressPollInterval = 250 * time.Millisecond

	// Threaded runs oversubscribe the pool; items are I/O bound
	// (reading frames, encoding, writing) so workers overlap latency.
	threadedPoolMultiplier = 5

	// Batched runs split the items into workerCount*batchedChunkFactor
	// chunks so dispatch overhead amortizes without starving workers.
	batchedChunkFactor = 4
)

// ErrCancelled marks a run stopped by its context rather than by a
// transform failure.
var ErrCancelled = errors.New("run cancelled")

// IsCancelled reports whether err represents cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Item is one unit of work: an image path and its parsed timestamp.
type Item struct {
	Path      string
	Timestamp time.Time
}

// Transform processes a single item. index is the item's submission
// position, used for sequence numbering in output names.
type Transform func(item Item, index int) (string, error)

// ProgressFunc receives completion counts as a run advances.
type ProgressFunc func(completed, total int, message string)

// Result is the outcome of one transform call. Results arrive in
// completion order; Index lets callers recover submission order.
type Result struct {
	Index   int
	Message string
}

// Executor fans a Transform out over a list of items.
type Executor struct {
	workerCount int
	debug       bool
}

// New creates an Executor. workerCount <= 0 selects a CPU-derived
// default. In debug mode runs are synchronous and log each result.
func New(workerCount int, debug bool) *Executor {
	if workerCount <= 0 {
		workerCount = workers.ForCPU(0)
	}
	return &Executor{workerCount: workerCount, debug: debug}
}

// Workers returns the configured base worker count.
func (e *Executor) Workers() int {
	return e.workerCount
}

type outcome struct {
	res Result
	err error
}

// RunThreaded executes fn once per item on a pool of
// workerCount*5 goroutines, one queue entry per item. progress, if
// non-nil, is invoked after every completed item.
//
// Cancellation of ctx stops the run at the next completion; queued
// items are abandoned and in-flight items finish. The first transform
// error aborts the run and is returned with the item's identity and
// the original cause attached.
func (e *Executor) RunThreaded(ctx context.Context, fn Transform, items []Item, progress ProgressFunc) ([]Result, error) {
	if e.debug {
		return e.runDebug(ctx, fn, items)
	}

	total := len(items)
	pool := e.workerCount * threadedPoolMultiplier
	if pool > total && total > 0 {
		pool = total
	}

	start := time.Now()
	metrics.ExecutorWorkers.Set(float64(pool))
	logging.Debug("Threaded run: %d items on %d workers", total, pool)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	outcomes := make(chan outcome, total)

	var wg sync.WaitGroup
	for w := 0; w < pool; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				msg, err := safeCall(fn, items[idx], idx)
				select {
				case outcomes <- outcome{res: Result{Index: idx, Message: msg}, err: err}:
				case <-runCtx.Done():
					return
				}
			}
		}()
	}

	// Feed one job per item; stop feeding once the run is cancelled.
	go func() {
		defer close(jobs)
		for i := range items {
			select {
			case jobs <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	results := make([]Result, 0, total)
	completed := 0
	for completed < total {
		select {
		case out := <-outcomes:
			if out.err != nil {
				cancel()
				wg.Wait()
				e.finish("threaded", "failed", len(results), start)
				return results, out.err
			}
			results = append(results, out.res)
			completed++
			if progress != nil {
				progress(completed, total, "")
			}
		case <-runCtx.Done():
			wg.Wait()
			e.finish("threaded", "cancelled", len(results), start)
			return results, errors.Wrapf(ErrCancelled, "after %d of %d items", completed, total)
		}
	}

	wg.Wait()
	e.finish("threaded", "completed", len(results), start)
	return results, nil
}

// RunBatched executes fn over items with a pool of workerCount
// goroutines, pre-splitting the work into chunks of
// ceil(total/(workerCount*4)). Each worker processes its chunk
// sequentially and bumps a shared counter per item; a collector polls
// that counter every 250 ms and reports progress only when it moved,
// so progress granularity is independent of chunk size.
//
// Cancellation is checked between items within a chunk.
func (e *Executor) RunBatched(ctx context.Context, fn Transform, items []Item, progress ProgressFunc) ([]Result, error) {
	if e.debug {
		return e.runDebug(ctx, fn, items)
	}

	total := len(items)
	pool := e.workerCount
	chunkSize := ceilDiv(total, pool*batchedChunkFactor)
	if chunkSize < 1 {
		chunkSize = 1
	}

	start := time.Now()
	metrics.ExecutorWorkers.Set(float64(pool))
	logging.Debug("Batched run: %d items on %d workers, chunk size %d", total, pool, chunkSize)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type chunk struct{ lo, hi int }
	numChunks := ceilDiv(total, chunkSize)

	jobs := make(chan chunk, numChunks)
	for lo := 0; lo < total; lo += chunkSize {
		hi := lo + chunkSize
		if hi > total {
			hi = total
		}
		jobs <- chunk{lo: lo, hi: hi}
	}
	close(jobs)

	type chunkOutcome struct {
		results []Result
		err     error
	}
	chunkOutcomes := make(chan chunkOutcome, numChunks)

	var counter atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < pool; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range jobs {
				out := chunkOutcome{}
				for idx := ch.lo; idx < ch.hi; idx++ {
					if runCtx.Err() != nil {
						break
					}
					msg, err := safeCall(fn, items[idx], idx)
					if err != nil {
						out.err = err
						break
					}
					out.results = append(out.results, Result{Index: idx, Message: msg})
					counter.Add(1)
				}
				chunkOutcomes <- out
				if out.err != nil {
					// Stop the other workers after their current item.
					cancel()
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(chunkOutcomes)
	}()

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	results := make([]Result, 0, total)
	lastReported := 0
	var firstErr error

	for chunkOutcomes != nil {
		select {
		case out, ok := <-chunkOutcomes:
			if !ok {
				chunkOutcomes = nil
				continue
			}
			results = append(results, out.results...)
			if out.err != nil && firstErr == nil {
				firstErr = out.err
			}
		case <-ticker.C:
			if progress != nil {
				if cur := int(counter.Load()); cur != lastReported {
					progress(cur, total, "")
					lastReported = cur
				}
			}
		}
	}

	// Final flush; the counter can lag chunk completion slightly.
	if progress != nil {
		if cur := int(counter.Load()); cur != lastReported {
			progress(cur, total, "")
		}
	}

	switch {
	case firstErr != nil:
		e.finish("batched", "failed", len(results), start)
		return results, firstErr
	case ctx.Err() != nil:
		e.finish("batched", "cancelled", len(results), start)
		return results, errors.Wrapf(ErrCancelled, "after %d of %d items", len(results), total)
	default:
		e.finish("batched", "completed", len(results), start)
		return results, nil
	}
}

// runDebug processes items synchronously in submission order, logging
// every result. The progress machinery is bypassed entirely.
func (e *Executor) runDebug(ctx context.Context, fn Transform, items []Item) ([]Result, error) {
	start := time.Now()
	results := make([]Result, 0, len(items))

	for idx, item := range items {
		if ctx.Err() != nil {
			e.finish("debug", "cancelled", len(results), start)
			return results, errors.Wrapf(ErrCancelled, "after %d of %d items", idx, len(items))
		}
		msg, err := safeCall(fn, item, idx)
		if err != nil {
			e.finish("debug", "failed", len(results), start)
			return results, err
		}
		logging.Debug("%s", msg)
		results = append(results, Result{Index: idx, Message: msg})
	}

	e.finish("debug", "completed", len(results), start)
	return results, nil
}

func (e *Executor) finish(strategy, outcome string, processed int, start time.Time) {
	metrics.ExecutorItemsProcessed.WithLabelValues(strategy).Add(float64(processed))
	metrics.ExecutorRunsTotal.WithLabelValues(strategy, outcome).Inc()
	metrics.ExecutorRunDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
}

// safeCall invokes fn, converting panics to errors and annotating
// failures with the item identity so an error surfaced on the
// collecting goroutine reads like a synchronous one. The wrapped error
// retains the original cause and its stack.
func safeCall(fn Transform, item Item, idx int) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("transform panicked on %s (item %d): %v", item.Path, idx, r)
		}
	}()

	msg, err = fn(item, idx)
	if err != nil {
		err = errors.Wrapf(err, "transform failed on %s (item %d)", item.Path, idx)
	}
	return msg, err
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
