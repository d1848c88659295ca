package restore

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultEstimatorWindow   = 10
	DefaultEstimatedDuration = 5 * time.Second
)

// Estimator keeps the last N processing durations in a ring buffer with a
// running sum, so Average always equals the arithmetic mean of the window.
type Estimator struct {
	mu     sync.Mutex
	window []time.Duration
	next   int
	count  int
	sum    time.Duration
	def    time.Duration
}

func NewEstimator(size int, def time.Duration) *Estimator {
	if size <= 0 {
		size = DefaultEstimatorWindow
	}
	if def <= 0 {
		def = DefaultEstimatedDuration
	}
	return &Estimator{
		window: make([]time.Duration, size),
		def:    def,
	}
}

func (e *Estimator) Record(d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.count == len(e.window) {
		e.sum -= e.window[e.next]
	} else {
		e.count++
	}
	e.window[e.next] = d
	e.sum += d
	e.next = (e.next + 1) % len(e.window)
}

// Average is the mean of the retained durations, or the default when empty.
func (e *Estimator) Average() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.count == 0 {
		return e.def
	}
	return e.sum / time.Duration(e.count)
}

func (e *Estimator) AverageSeconds() float64 {
	return e.Average().Seconds()
}

// Samples returns how many durations are currently in the window.
func (e *Estimator) Samples() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

// Estimate is position * average, in whole seconds. Position 0 means the
// request is being processed or is not queued, so nothing is left to wait for.
func (e *Estimator) Estimate(position int) int {
	if position <= 0 {
		return 0
	}
	return int(math.Round(float64(position) * e.AverageSeconds()))
}
