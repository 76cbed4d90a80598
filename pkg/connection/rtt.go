package connection

import (
	"sync"
	"time"

	"github.com/appnet-org/tickrelay/pkg/tick"
)

// RTTEstimator smooths round-trip samples from the Ping/Pong pair over a
// fixed-size window (rtt_sample_size), floored at a configured minimum
// command latency, per the external interfaces table.
type RTTEstimator struct {
	mu sync.Mutex

	pending map[tick.PacketIndex]time.Time

	samples []time.Duration
	cursor  int
	filled  bool

	minLatency time.Duration
}

// NewRTTEstimator returns an estimator with a window of sampleSize round
// trips. sampleSize <= 0 is treated as 1.
func NewRTTEstimator(sampleSize int, minLatency time.Duration) *RTTEstimator {
	if sampleSize <= 0 {
		sampleSize = 1
	}
	return &RTTEstimator{
		pending:    make(map[tick.PacketIndex]time.Time),
		samples:    make([]time.Duration, sampleSize),
		minLatency: minLatency,
	}
}

// RecordPingSent notes the send time of the ping carried by packet index idx.
func (r *RTTEstimator) RecordPingSent(idx tick.PacketIndex, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[idx] = at
}

// RecordPongReceived completes a sample for the ping identified by
// pingIndex, if it is still outstanding.
func (r *RTTEstimator) RecordPongReceived(pingIndex tick.PacketIndex, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent, ok := r.pending[pingIndex]
	if !ok {
		return
	}
	delete(r.pending, pingIndex)

	r.samples[r.cursor] = at.Sub(sent)
	r.cursor = (r.cursor + 1) % len(r.samples)
	if r.cursor == 0 {
		r.filled = true
	}
}

// Estimate returns the mean of the collected samples, floored at
// minLatency. ok is false until at least one sample has completed.
func (r *RTTEstimator) Estimate() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.cursor
	if r.filled {
		n = len(r.samples)
	}
	if n == 0 {
		return 0, false
	}

	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += r.samples[i]
	}
	mean := sum / time.Duration(n)
	if mean < r.minLatency {
		mean = r.minLatency
	}
	return mean, true
}
