package process

import "testing"

func TestDistributeAssignsEveryLargeJob(t *testing.T) {
	jobs := []Job{
		{Key: "a", Size: 3 << 30},
		{Key: "b", Size: 2 << 30},
		{Key: "c", Size: 2 << 30},
	}
	out := Distribute(jobs, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 worker buckets, got %d", len(out))
	}
	var total int
	for _, bucket := range out {
		total += len(bucket)
	}
	if total != len(jobs) {
		t.Fatalf("expected all jobs distributed, got %d of %d", total, len(jobs))
	}
}

func TestDistributeRoundRobinsSmallJobs(t *testing.T) {
	jobs := []Job{{Key: "a", Size: 100}, {Key: "b", Size: 100}, {Key: "c", Size: 100}, {Key: "d", Size: 100}}
	out := Distribute(jobs, 2)
	if len(out[0]) != 2 || len(out[1]) != 2 {
		t.Fatalf("expected even round robin split, got %d/%d", len(out[0]), len(out[1]))
	}
}

func TestDistributeZeroWorkers(t *testing.T) {
	if out := Distribute([]Job{{Key: "a", Size: 1}}, 0); out != nil {
		t.Fatalf("expected nil for zero workers, got %v", out)
	}
}
