package process

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// JobCallback is the producer-callback the dispatcher polls once per free
// worker slot, returning the next job to run or ok=false when the queue is
// exhausted — the Go mapping of the source's coroutine-free
// jobCallback(data, workerIdx) -> Option<Job> loop (spec §9).
type JobCallback func(workerIdx int) (job Job, ok bool)

// RunFunc executes one job on workerIdx and returns its error, if any.
type RunFunc func(ctx context.Context, workerIdx int, job Job) error

// Dispatch runs up to workers concurrent goroutines, each pulling jobs from
// next until it returns ok=false, and stops at the first job error
// (errgroup's first-error-cancels-context semantics). Only that first
// error is returned; errors from jobs still running on other workers are
// dropped.
func Dispatch(ctx context.Context, workers int, next JobCallback, run RunFunc) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		workerIdx := w
		g.Go(func() error {
			for {
				job, ok := next(workerIdx)
				if !ok {
					return nil
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				if err := run(gctx, workerIdx, job); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// QueueCallback adapts a pre-distributed [][]Job (from Distribute) into the
// JobCallback protocol the dispatcher expects: each worker index drains its
// own bucket.
func QueueCallback(buckets [][]Job) JobCallback {
	pos := make([]int, len(buckets))
	return func(workerIdx int) (Job, bool) {
		if workerIdx >= len(buckets) || pos[workerIdx] >= len(buckets[workerIdx]) {
			return Job{}, false
		}
		j := buckets[workerIdx][pos[workerIdx]]
		pos[workerIdx]++
		return j, true
	}
}
