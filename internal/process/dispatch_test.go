package process

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestDispatchRunsAllJobs(t *testing.T) {
	jobs := []Job{{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "d"}}
	buckets := Distribute(jobs, 2)

	var mu sync.Mutex
	seen := map[string]bool{}

	err := Dispatch(context.Background(), 2, QueueCallback(buckets), func(ctx context.Context, workerIdx int, job Job) error {
		mu.Lock()
		seen[job.Key] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	for _, j := range jobs {
		if !seen[j.Key] {
			t.Errorf("job %s was never run", j.Key)
		}
	}
}

func TestDispatchPropagatesFirstError(t *testing.T) {
	jobs := []Job{{Key: "a"}, {Key: "b"}}
	buckets := Distribute(jobs, 2)
	boom := errors.New("boom")

	err := Dispatch(context.Background(), 2, QueueCallback(buckets), func(ctx context.Context, workerIdx int, job Job) error {
		if job.Key == "a" {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}
}
