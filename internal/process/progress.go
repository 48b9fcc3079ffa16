package process

import (
	"fmt"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Progress wraps one mpb byte-progress bar tracking a Dispatch run, the
// generalized form of the teacher's rsync transfer bar (internal/rsync's
// RunParallel): total bytes known up front, workers increment it as jobs
// complete instead of rsync's --out-format progress parsing.
type Progress struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

// NewProgress starts a bar labeled name for totalBytes of work, or returns
// nil when show is false or there is nothing to track, so every method on
// *Progress is safe to call on a nil receiver and callers never need a
// separate "is progress enabled" branch.
func NewProgress(show bool, name string, totalBytes int64) *Progress {
	if !show || totalBytes <= 0 {
		return nil
	}
	p := mpb.New(mpb.WithWidth(40), mpb.WithRefreshRate(100*time.Millisecond))
	bar := p.New(totalBytes, mpb.BarStyle().Rbound("|").Lbound("|"),
		mpb.PrependDecorators(decor.Name(name+" ", decor.WC{W: len(name) + 1, C: decor.DSyncWidth}), decor.Percentage()),
		mpb.AppendDecorators(decor.Any(func(s decor.Statistics) string {
			return fmt.Sprintf("%s / %s", formatBytes(s.Current), formatBytes(s.Total))
		})))
	return &Progress{p: p, bar: bar}
}

// Add increments the bar by n bytes.
func (pr *Progress) Add(n int64) {
	if pr == nil {
		return
	}
	pr.bar.IncrInt64(n)
}

// Wait blocks until the bar has finished rendering, to be called once
// Dispatch returns so the bar's final frame reaches the terminal before
// the command prints its own summary line.
func (pr *Progress) Wait() {
	if pr == nil {
		return
	}
	pr.p.Wait()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TotalBytes sums every job's Size across buckets, the total Progress
// needs up front.
func TotalBytes(buckets [][]Job) int64 {
	var total int64
	for _, b := range buckets {
		for _, j := range b {
			total += j.Size
		}
	}
	return total
}
