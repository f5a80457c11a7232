// Package progress periodically samples sweep counters and reports
// completion, throughput and concurrency to a sink.
package progress

import (
	"context"
	"os"
	"time"

	"github.com/projectdiscovery/pingmap/pkg/sweep"
	"github.com/shirou/gopsutil/v3/process"
)

// Counters exposes the live counters of a sweep
type Counters interface {
	Done() uint64
	Total() uint64
	InFlight() int64
	Phase() sweep.Phase
}

// Snapshot is one progress report
type Snapshot struct {
	Done     uint64
	Total    uint64
	InFlight int64
	// Percent of addresses with a record, 100 for an empty sweep
	Percent float64
	// Rate is records per second since the previous sample
	Rate  float64
	Phase sweep.Phase
	// RSS is the resident memory of the process, zero when unavailable
	RSS uint64
}

// Sample is a raw reading of the counters at a point in time
type Sample struct {
	At       time.Time
	Done     uint64
	Total    uint64
	InFlight int64
	Phase    sweep.Phase
}

// Compute derives a snapshot from two consecutive samples
func Compute(prev, cur Sample) Snapshot {
	snap := Snapshot{
		Done:     cur.Done,
		Total:    cur.Total,
		InFlight: cur.InFlight,
		Phase:    cur.Phase,
		Percent:  100,
	}
	if cur.Total > 0 {
		snap.Percent = float64(cur.Done) / float64(cur.Total) * 100
	}
	if elapsed := cur.At.Sub(prev.At).Seconds(); elapsed > 0 && cur.Done >= prev.Done {
		snap.Rate = float64(cur.Done-prev.Done) / elapsed
	}
	return snap
}

// Option configures a Reporter
type Option func(*Reporter)

// WithMemory enables sampling of the process resident memory
func WithMemory(enabled bool) Option {
	return func(r *Reporter) {
		r.memory = enabled
	}
}

// Reporter samples Counters every interval and hands a Snapshot to its sink
type Reporter struct {
	counters Counters
	interval time.Duration
	sink     Sink
	memory   bool
	proc     *process.Process
}

// New returns a reporter. A non-positive interval defaults to one second.
func New(counters Counters, interval time.Duration, sink Sink, opts ...Option) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	r := &Reporter{
		counters: counters,
		interval: interval,
		sink:     sink,
		memory:   true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.memory {
		if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
			r.proc = proc
		}
	}
	return r
}

// Run reports until every address has a record or ctx is done
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	prev := r.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur := r.sample()
		snap := Compute(prev, cur)
		snap.RSS = r.rss()
		r.sink.Report(snap)
		prev = cur

		if cur.Done >= cur.Total {
			return
		}
	}
}

func (r *Reporter) sample() Sample {
	return Sample{
		At:       time.Now(),
		Done:     r.counters.Done(),
		Total:    r.counters.Total(),
		InFlight: r.counters.InFlight(),
		Phase:    r.counters.Phase(),
	}
}

func (r *Reporter) rss() uint64 {
	if r.proc == nil {
		return 0
	}
	info, err := r.proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}
