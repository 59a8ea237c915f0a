package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"
)

// Tracker logs one throughput and CPU utilization line per stream at
// every minute boundary. The counter func returns a monotonically
// increasing event count; the tracker reports the delta per period.
type Tracker struct {
	label   string
	counter func() int64

	lastCount int64
	lastCPU   time.Duration
	lastTick  time.Time
}

// NewTracker creates a tracker for the given label and counter.
func NewTracker(label string, counter func() int64) *Tracker {
	return &Tracker{
		label:     label,
		counter:   counter,
		lastCount: counter(),
		lastCPU:   processCPUTime(),
		lastTick:  time.Now(),
	}
}

// Run emits one line per minute, aligned to wall-clock minute
// boundaries, until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		t.tick(time.Now())
	}
}

func (t *Tracker) tick(now time.Time) {
	count := t.counter()
	cpu := processCPUTime()
	elapsed := now.Sub(t.lastTick)
	if elapsed <= 0 {
		return
	}

	events := count - t.lastCount
	cpuDelta := cpu - t.lastCPU
	utilization := cpuDelta.Seconds() / elapsed.Seconds()

	slog.Info(fmt.Sprintf("%s (%ds): %d ev", t.label,
		int(elapsed.Round(time.Second).Seconds()), events),
		"events_per_sec", float64(events)/elapsed.Seconds(),
		"cpu_utilization", utilization)

	t.lastCount = count
	t.lastCPU = cpu
	t.lastTick = now
}

// processCPUTime returns user plus system CPU time of this process.
func processCPUTime() time.Duration {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return timevalDuration(ru.Utime) + timevalDuration(ru.Stime)
}

func timevalDuration(tv syscall.Timeval) time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}

// Counter is a concurrency-safe monotonic event counter whose Value
// method feeds a Tracker.
type Counter struct {
	mu sync.Mutex
	n  int64
}

// Add increments the counter.
func (c *Counter) Add(delta int64) {
	c.mu.Lock()
	c.n += delta
	c.mu.Unlock()
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
