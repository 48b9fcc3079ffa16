package process

import "sort"

// Job is one unit of parallel work the dispatcher hands to a worker: a file
// copy, a WAL segment push, or a manifest path to checksum.
type Job struct {
	Key  string
	Size int64
}

// Distribute splits jobs across N workers using a hybrid algorithm: best-fit
// for large jobs (>1GiB) to keep per-worker totals balanced, round-robin for
// small jobs to avoid the O(workers) scan on every item. Adapted from the
// teacher's rsync file distributor (internal/rsync/distribute.go) for the
// parallel job dispatcher's job queue (spec §9, producer-callback loop).
func Distribute(jobs []Job, workers int) [][]Job {
	if workers <= 0 {
		return nil
	}
	out := make([][]Job, workers)
	if len(jobs) == 0 {
		return out
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Size > jobs[j].Size })

	totals := make([]int64, workers)
	const threshold = int64(1) << 30 // 1GiB
	cur := 0

	for _, j := range jobs {
		if j.Size > threshold {
			minWorker := 0
			for i := 1; i < workers; i++ {
				if totals[i] < totals[minWorker] {
					minWorker = i
				}
			}
			out[minWorker] = append(out[minWorker], j)
			totals[minWorker] += j.Size
		} else {
			out[cur] = append(out[cur], j)
			totals[cur] += j.Size
			cur = (cur + 1) % workers
		}
	}
	return out
}
